package report

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/khoregos/khoregos/internal/audit"
	"github.com/khoregos/khoregos/internal/model"
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
		"id": id, "state": "completed", "started_at": "2026-01-01T00:00:00.000Z",
		"ended_at": "2026-01-01T01:00:00.000Z",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestGenerateCountsEventsBySeverityAndType(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	logger := audit.New(st, "s1")
	if _, err := logger.Log(ctx, audit.LogParams{EventType: model.EventSessionStart, Action: "start"}); err != nil {
		t.Fatal(err)
	}
	if _, err := logger.Log(ctx, audit.LogParams{EventType: model.EventToolUse, Action: "use", Severity: model.SeverityWarning}); err != nil {
		t.Fatal(err)
	}
	if _, err := logger.Log(ctx, audit.LogParams{EventType: model.EventToolUse, Action: "use", Severity: model.SeverityCritical}); err != nil {
		t.Fatal(err)
	}

	r, err := Generate(ctx, st, "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalEvents != 3 {
		t.Fatalf("expected 3 total events, got %d", r.TotalEvents)
	}
	if r.EventCounts["tool_use"] != 2 {
		t.Fatalf("expected 2 tool_use events, got %d", r.EventCounts["tool_use"])
	}
	if r.SeverityCounts["critical"] != 1 {
		t.Fatalf("expected 1 critical event, got %d", r.SeverityCounts["critical"])
	}
	if r.Chain != nil {
		t.Fatal("expected no chain result without a signing key")
	}
}

func TestGenerateIncludesChainVerificationWhenSigned(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	key := make([]byte, 32)
	for i := range key {
		key[i] = 0x61
	}
	logger := audit.New(st, "s1", audit.WithSigningKey(key))
	if _, err := logger.Log(ctx, audit.LogParams{EventType: model.EventSessionStart, Action: "start"}); err != nil {
		t.Fatal(err)
	}

	r, err := Generate(ctx, st, "s1", key)
	if err != nil {
		t.Fatal(err)
	}
	if r.Chain == nil || !r.Chain.Valid {
		t.Fatalf("expected a valid chain result, got %+v", r.Chain)
	}
	if r.Chain.EventsChecked != 1 {
		t.Fatalf("expected 1 event checked, got %d", r.Chain.EventsChecked)
	}
}

func TestGenerateUnknownSessionErrors(t *testing.T) {
	st := newTestStore(t)
	if _, err := Generate(context.Background(), st, "nope", nil); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}

func TestGenerateOmitsExpiredLocks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	insertSession(t, st, "s1")

	if _, err := st.Insert(ctx, "file_locks", map[string]any{
		"path": "src/live.ts", "session_id": "s1", "agent_id": "a1",
		"acquired_at": "2026-01-01T00:00:00.000Z", "expires_at": nil,
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Insert(ctx, "file_locks", map[string]any{
		"path": "src/expired.ts", "session_id": "s1", "agent_id": "a1",
		"acquired_at": "2025-01-01T00:00:00.000Z", "expires_at": "2025-01-01T00:05:00.000Z",
	}); err != nil {
		t.Fatal(err)
	}

	r, err := Generate(ctx, st, "s1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(r.ActiveLocks) != 1 || r.ActiveLocks[0].Path != "src/live.ts" {
		t.Fatalf("expected only the live lock, got %+v", r.ActiveLocks)
	}
}
