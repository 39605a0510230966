package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/khoregos/khoregos/internal/model"
)

func TestOnAuditEventCallsEveryPlugin(t *testing.T) {
	var calls int
	m := NewManager([]Plugin{
		{Spec: Spec{Module: "a"}, Hooks: Hooks{OnAuditEvent: func(ctx context.Context, e model.AuditEvent) error {
			calls++
			return nil
		}}},
		{Spec: Spec{Module: "b"}, Hooks: Hooks{OnAuditEvent: func(ctx context.Context, e model.AuditEvent) error {
			calls++
			return nil
		}}},
	})
	m.OnAuditEvent(context.Background(), model.AuditEvent{ID: "e1"})
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestFailingPluginDoesNotStopOthers(t *testing.T) {
	var secondCalled bool
	m := NewManager([]Plugin{
		{Spec: Spec{Module: "broken"}, Hooks: Hooks{OnAuditEvent: func(ctx context.Context, e model.AuditEvent) error {
			return errors.New("boom")
		}}},
		{Spec: Spec{Module: "ok"}, Hooks: Hooks{OnAuditEvent: func(ctx context.Context, e model.AuditEvent) error {
			secondCalled = true
			return nil
		}}},
	})
	m.OnAuditEvent(context.Background(), model.AuditEvent{})
	if !secondCalled {
		t.Fatal("second plugin should still have run")
	}
}

func TestPanickingPluginIsRecovered(t *testing.T) {
	m := NewManager([]Plugin{
		{Spec: Spec{Module: "panicky"}, Hooks: Hooks{OnSessionStart: func(ctx context.Context, s model.Session) error {
			panic("kaboom")
		}}},
	})
	// Must not panic the test process.
	m.OnSessionStart(context.Background(), model.Session{ID: "s1"})
}

func TestNilManagerIsSafe(t *testing.T) {
	var m *Manager
	m.OnAuditEvent(context.Background(), model.AuditEvent{})
}
