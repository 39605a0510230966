package audit

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "k6s.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertSession(t *testing.T, st *store.Store, id string) {
	t.Helper()
	_, err := st.Insert(context.Background(), "sessions", map[string]any{
		"id": id, "state": "active", "started_at": "2026-01-01T00:00:00.000Z",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLogAssignsGapFreeSequence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := New(st, "s1")
	for i := 0; i < 3; i++ {
		e, err := logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})
		if err != nil {
			t.Fatal(err)
		}
		if e.Sequence != int64(i+1) {
			t.Fatalf("expected sequence %d, got %d", i+1, e.Sequence)
		}
	}
}

func TestLogChainsHMACWhenSigningEnabled(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x61
	}
	logger := New(st, "s1", WithSigningKey(key))

	e1, err := logger.Log(ctx, LogParams{EventType: model.EventSessionStart, Action: "start"})
	if err != nil {
		t.Fatal(err)
	}
	if e1.HMAC == "" {
		t.Fatal("expected hmac to be set")
	}
	expected, err := signing.ComputeHMAC(key, signing.Genesis("s1"), e1)
	if err != nil {
		t.Fatal(err)
	}
	if e1.HMAC != expected {
		t.Fatalf("hmac mismatch: got %s want %s", e1.HMAC, expected)
	}

	e2, err := logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})
	if err != nil {
		t.Fatal(err)
	}
	expected2, err := signing.ComputeHMAC(key, e1.HMAC, e2)
	if err != nil {
		t.Fatal(err)
	}
	if e2.HMAC != expected2 {
		t.Fatalf("second link mismatch: got %s want %s", e2.HMAC, expected2)
	}
}

func TestLogResumesSequenceAfterRestart(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	first := New(st, "s1")
	if _, err := first.Log(ctx, LogParams{EventType: model.EventSessionStart, Action: "start"}); err != nil {
		t.Fatal(err)
	}

	second := New(st, "s1")
	e, err := second.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Sequence != 2 {
		t.Fatalf("expected sequence to resume at 2, got %d", e.Sequence)
	}
}

func TestLogMergesTraceIDIntoDetails(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := New(st, "s1", WithTraceID("trace-123"))
	e, err := logger.Log(ctx, LogParams{
		EventType: model.EventToolUse, Action: "use", Details: map[string]any{"tool": "Write"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if e.Details["trace_id"] != "trace-123" || e.Details["tool"] != "Write" {
		t.Fatalf("got details %+v", e.Details)
	}
}

func TestLogDefaultsSeverityToInfo(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := New(st, "s1")
	e, err := logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})
	if err != nil {
		t.Fatal(err)
	}
	if e.Severity != model.SeverityInfo {
		t.Fatalf("got severity %q", e.Severity)
	}
}

func TestGetEventsOrderedDescending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := New(st, "s1")
	for i := 0; i < 3; i++ {
		if _, err := logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"}); err != nil {
			t.Fatal(err)
		}
	}

	events, err := logger.GetEvents(ctx, GetEventsParams{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Sequence != 3 || events[2].Sequence != 1 {
		t.Fatalf("events not in descending order: %+v", events)
	}
}

func TestGetEventCount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := New(st, "s1")
	logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})
	logger.Log(ctx, LogParams{EventType: model.EventToolUse, Action: "use"})

	n, err := logger.GetEventCount(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}

func TestPruneDryRunDoesNotMutate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.Insert(ctx, "sessions", map[string]any{
		"id": "old", "state": "completed", "started_at": "2020-01-01T00:00:00.000Z",
		"ended_at": "2020-01-02T00:00:00.000Z",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = st.Insert(ctx, "audit_events", map[string]any{
		"id": "e1", "sequence": int64(1), "session_id": "old",
		"timestamp": "2020-01-01T00:00:00.000Z", "event_type": "session_start", "action": "start",
		"severity": "info",
	})
	if err != nil {
		t.Fatal(err)
	}

	result, err := Prune(ctx, st, "2021-01-01T00:00:00.000Z", true)
	if err != nil {
		t.Fatal(err)
	}
	if result.EventsDeleted != 1 || result.SessionsPruned != 1 {
		t.Fatalf("got %+v", result)
	}

	row, err := st.FetchOne(ctx, `SELECT * FROM audit_events WHERE id = ?`, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if row == nil {
		t.Fatal("dry run must not delete rows")
	}
}

func TestPruneCascadesTerminalSessionsWithNoRemainingEvents(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	st.Insert(ctx, "sessions", map[string]any{
		"id": "old", "state": "completed", "started_at": "2020-01-01T00:00:00.000Z",
		"ended_at": "2020-01-02T00:00:00.000Z",
	})
	st.Insert(ctx, "audit_events", map[string]any{
		"id": "e1", "sequence": int64(1), "session_id": "old",
		"timestamp": "2020-01-01T00:00:00.000Z", "event_type": "session_start", "action": "start",
		"severity": "info",
	})
	st.Insert(ctx, "agents", map[string]any{
		"id": "a1", "session_id": "old", "name": "primary", "role": "lead",
		"state": "completed", "spawned_at": "2020-01-01T00:00:00.000Z",
	})

	result, err := Prune(ctx, st, "2021-01-01T00:00:00.000Z", false)
	if err != nil {
		t.Fatal(err)
	}
	if result.EventsDeleted != 1 || result.SessionsPruned != 1 {
		t.Fatalf("got %+v", result)
	}

	row, _ := st.FetchOne(ctx, `SELECT * FROM sessions WHERE id = ?`, "old")
	if row != nil {
		t.Fatal("session should have been cascade-deleted")
	}
	row, _ = st.FetchOne(ctx, `SELECT * FROM agents WHERE id = ?`, "a1")
	if row != nil {
		t.Fatal("agent should have been cascade-deleted")
	}
}
