package model

import "testing"

func TestSessionRoundTrip(t *testing.T) {
	s := Session{
		ID:             "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Objective:      "ship the thing",
		State:          SessionActive,
		StartedAt:      "2026-01-01T00:00:00.000Z",
		ConfigSnapshot: map[string]any{"webhook_secret": "[redacted]"},
		GitDirty:       true,
		TraceID:        "5b6b1c1a-8d2a-4c1a-9a1a-2f2b1c1a8d2a",
	}
	row := s.ToRow()
	got, err := SessionFromRow(row)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != s.ID || got.Objective != s.Objective || got.State != s.State ||
		got.GitDirty != s.GitDirty || got.TraceID != s.TraceID ||
		got.ConfigSnapshot["webhook_secret"] != s.ConfigSnapshot["webhook_secret"] {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, s)
	}
}

func TestSessionRoundTripTerminal(t *testing.T) {
	s := Session{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAW",
		State:     SessionCompleted,
		StartedAt: "2026-01-01T00:00:00.000Z",
		EndedAt:   "2026-01-01T01:00:00.000Z",
	}
	got, err := SessionFromRow(s.ToRow())
	if err != nil {
		t.Fatal(err)
	}
	if got.EndedAt != s.EndedAt {
		t.Fatalf("EndedAt mismatch: %q != %q", got.EndedAt, s.EndedAt)
	}
	if !got.State.IsTerminal() {
		t.Fatalf("expected terminal state")
	}
}

func TestAgentRoundTrip(t *testing.T) {
	a := Agent{
		ID:                "01ARZ3NDEKTSV4RRFFQ69G5FAX",
		SessionID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Name:              "primary",
		Role:              RoleLead,
		State:             AgentActive,
		SpawnedAt:         "2026-01-01T00:00:00.000Z",
		BoundaryConfig:    map[string]any{"pattern": "*"},
		ExternalSessionID: "ext-1",
		ToolCallCount:     5,
	}
	got, err := AgentFromRow(a.ToRow())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != a.ID || got.Name != a.Name || got.Role != a.Role ||
		got.ToolCallCount != a.ToolCallCount || got.ExternalSessionID != a.ExternalSessionID ||
		got.BoundaryConfig["pattern"] != a.BoundaryConfig["pattern"] {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, a)
	}
}

func TestAuditEventRoundTrip(t *testing.T) {
	e := AuditEvent{
		ID:            "01ARZ3NDEKTSV4RRFFQ69G5FAY",
		SessionID:     "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Sequence:      1,
		Timestamp:     "2026-01-01T00:00:00.000Z",
		EventType:     EventSessionStart,
		Action:        "start",
		Details:       map[string]any{"trace_id": "t-1"},
		FilesAffected: []string{"a.ts", "b.ts"},
		Severity:      SeverityInfo,
		HMAC:          "deadbeef",
	}
	got, err := AuditEventFromRow(e.ToRow())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != e.ID || got.Sequence != e.Sequence || len(got.FilesAffected) != 2 {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEventTypeDisplayName(t *testing.T) {
	if got := EventGateTriggered.DisplayName(); got != "sensitive_needs_review" {
		t.Fatalf("got %q", got)
	}
	if got := EventToolUse.DisplayName(); got != "tool_use" {
		t.Fatalf("got %q", got)
	}
}

func TestFileLockIsLive(t *testing.T) {
	l := FileLock{ExpiresAt: ""}
	if !l.IsLive("2026-01-01T00:00:00.000Z") {
		t.Fatalf("no-expiry lock should be live")
	}
	l2 := FileLock{ExpiresAt: "2026-01-01T00:00:00.000Z"}
	if l2.IsLive("2026-01-01T00:00:00.001Z") {
		t.Fatalf("expired lock should not be live")
	}
	if !l2.IsLive("2025-12-31T23:59:59.999Z") {
		t.Fatalf("not-yet-expired lock should be live")
	}
}

func TestBoundaryViolationRoundTrip(t *testing.T) {
	v := BoundaryViolation{
		ID:                "01ARZ3NDEKTSV4RRFFQ69G5FAZ",
		SessionID:         "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Timestamp:         "2026-01-01T00:00:00.000Z",
		FilePath:          ".env.local",
		ViolationType:     ViolationForbiddenPath,
		EnforcementAction: ActionReverted,
		Details:           map[string]any{"original_content": "SECRET=1"},
	}
	got, err := BoundaryViolationFromRow(v.ToRow())
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != v.ID || got.ViolationType != v.ViolationType {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
