package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/khoregos/khoregos/internal/model"
)

func TestDispatchDeliversSignedEnvelope(t *testing.T) {
	var mu sync.Mutex
	var gotSig, gotUA string
	var gotBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotSig = r.Header.Get("X-K6s-Signature")
		gotUA = r.Header.Get("User-Agent")
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		gotBody = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New([]Target{{URL: srv.URL, Secret: "topsecret"}})
	d.Dispatch(context.Background(), model.AuditEvent{
		ID: "e1", EventType: model.EventSessionStart, Action: "start",
	}, SessionContext{SessionID: "s1", TraceID: "t1"})

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if gotUA != "khoregos-webhook/1.0" {
		t.Fatalf("got User-Agent %q", gotUA)
	}
	if gotSig == "" || gotSig[:7] != "sha256=" {
		t.Fatalf("got signature %q", gotSig)
	}
	var env envelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("body not valid envelope json: %v (%s)", err, gotBody)
	}
	if env.Session.SessionID != "s1" {
		t.Fatalf("got session %+v", env.Session)
	}
}

func TestDispatchSkipsNonMatchingTargets(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit <- struct{}{}
	}))
	defer srv.Close()

	d := New([]Target{{URL: srv.URL, Events: []string{"boundary_violation"}}})
	d.Dispatch(context.Background(), model.AuditEvent{EventType: model.EventSessionStart}, SessionContext{})

	select {
	case <-hit:
		t.Fatal("target should not have been called")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestResolvedSecretFromEnv(t *testing.T) {
	t.Setenv("K6S_WEBHOOK_SECRET", "env-secret")
	target := Target{Secret: "$K6S_WEBHOOK_SECRET"}
	if got := target.resolvedSecret(); got != "env-secret" {
		t.Fatalf("got %q", got)
	}
}

func TestNilDispatcherIsNoOp(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(context.Background(), model.AuditEvent{}, SessionContext{})
}
