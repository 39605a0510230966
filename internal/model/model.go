// Package model defines the typed records the core persists, each with a
// ToRow/FromRow pair forming the round-trip boundary between Go types and the
// store's map[string]any rows. Dynamic fields (details, files_affected,
// config_snapshot, boundary_config, metadata) live as typed Go values and are
// marshaled to JSON only at ToRow/FromRow — never anywhere else.
package model

import (
	"fmt"

	"github.com/khoregos/khoregos/internal/jsonutil"
)

// SessionState enumerates the closed set of Session.state values.
type SessionState string

const (
	SessionCreated   SessionState = "created"
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// IsTerminal reports whether s is a terminal session state.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// Session is the unit of governed work.
type Session struct {
	ID                  string
	Objective           string
	State               SessionState
	StartedAt           string
	EndedAt             string // empty iff not terminal
	ParentSessionID     string
	ConfigSnapshot      map[string]any
	ContextSummary      string
	Metadata            map[string]any
	Operator            string
	Hostname            string
	K6sVersion          string
	AgentRuntimeVersion string
	GitBranch           string
	GitSHA              string
	GitDirty            bool
	TraceID             string
}

func (s Session) ToRow() map[string]any {
	row := map[string]any{
		"id":                    s.ID,
		"objective":             s.Objective,
		"state":                 string(s.State),
		"started_at":            s.StartedAt,
		"ended_at":              nullableString(s.EndedAt),
		"parent_session_id":     nullableString(s.ParentSessionID),
		"context_summary":       nullableString(s.ContextSummary),
		"operator":              nullableString(s.Operator),
		"hostname":              nullableString(s.Hostname),
		"k6s_version":           nullableString(s.K6sVersion),
		"agent_runtime_version": nullableString(s.AgentRuntimeVersion),
		"git_branch":            nullableString(s.GitBranch),
		"git_sha":               nullableString(s.GitSHA),
		"git_dirty":             boolToInt(s.GitDirty),
		"trace_id":              nullableString(s.TraceID),
	}
	row["config_snapshot"] = marshalOrEmpty(s.ConfigSnapshot)
	row["metadata"] = marshalOrEmpty(s.Metadata)
	return row
}

func SessionFromRow(row map[string]any) (Session, error) {
	s := Session{
		ID:                  str(row["id"]),
		Objective:           str(row["objective"]),
		State:               SessionState(str(row["state"])),
		StartedAt:           str(row["started_at"]),
		EndedAt:             str(row["ended_at"]),
		ParentSessionID:     str(row["parent_session_id"]),
		ContextSummary:      str(row["context_summary"]),
		Operator:            str(row["operator"]),
		Hostname:            str(row["hostname"]),
		K6sVersion:          str(row["k6s_version"]),
		AgentRuntimeVersion: str(row["agent_runtime_version"]),
		GitBranch:           str(row["git_branch"]),
		GitSHA:              str(row["git_sha"]),
		GitDirty:            intToBool(row["git_dirty"]),
		TraceID:             str(row["trace_id"]),
	}
	var err error
	if s.ConfigSnapshot, err = jsonutil.UnmarshalMap(str(row["config_snapshot"])); err != nil {
		return Session{}, fmt.Errorf("model: decode session config_snapshot: %w", err)
	}
	if s.Metadata, err = jsonutil.UnmarshalMap(str(row["metadata"])); err != nil {
		return Session{}, fmt.Errorf("model: decode session metadata: %w", err)
	}
	return s, nil
}

// AgentRole enumerates Agent.role.
type AgentRole string

const (
	RoleLead     AgentRole = "lead"
	RoleTeammate AgentRole = "teammate"
)

// AgentState enumerates Agent.state.
type AgentState string

const (
	AgentActive    AgentState = "active"
	AgentIdle      AgentState = "idle"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
)

// Agent is an identified actor within a session.
type Agent struct {
	ID                 string
	SessionID          string
	Name               string
	Role               AgentRole
	Specialization     string
	State              AgentState
	SpawnedAt          string
	BoundaryConfig     map[string]any
	Metadata           map[string]any
	ExternalSessionID  string
	ToolCallCount      int64
}

func (a Agent) ToRow() map[string]any {
	row := map[string]any{
		"id":                   a.ID,
		"session_id":           a.SessionID,
		"name":                 a.Name,
		"role":                 string(a.Role),
		"specialization":       nullableString(a.Specialization),
		"state":                string(a.State),
		"spawned_at":           a.SpawnedAt,
		"external_session_id":  nullableString(a.ExternalSessionID),
		"tool_call_count":      a.ToolCallCount,
	}
	row["boundary_config"] = marshalOrEmpty(a.BoundaryConfig)
	row["metadata"] = marshalOrEmpty(a.Metadata)
	return row
}

func AgentFromRow(row map[string]any) (Agent, error) {
	a := Agent{
		ID:                row["id"].(string),
		SessionID:         str(row["session_id"]),
		Name:              str(row["name"]),
		Role:              AgentRole(str(row["role"])),
		Specialization:    str(row["specialization"]),
		State:             AgentState(str(row["state"])),
		SpawnedAt:         str(row["spawned_at"]),
		ExternalSessionID: str(row["external_session_id"]),
		ToolCallCount:     toInt64(row["tool_call_count"]),
	}
	var err error
	if a.BoundaryConfig, err = jsonutil.UnmarshalMap(str(row["boundary_config"])); err != nil {
		return Agent{}, fmt.Errorf("model: decode agent boundary_config: %w", err)
	}
	if a.Metadata, err = jsonutil.UnmarshalMap(str(row["metadata"])); err != nil {
		return Agent{}, fmt.Errorf("model: decode agent metadata: %w", err)
	}
	return a, nil
}

// Severity enumerates AuditEvent.severity.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// EventType is the closed set of audit event tags.
type EventType string

const (
	EventSessionStart      EventType = "session_start"
	EventSessionPause      EventType = "session_pause"
	EventSessionComplete   EventType = "session_complete"
	EventSessionFail       EventType = "session_fail"
	EventAgentSpawn        EventType = "agent_spawn"
	EventAgentComplete     EventType = "agent_complete"
	EventToolUse           EventType = "tool_use"
	EventTaskUpdate        EventType = "task_update"
	EventGateTriggered     EventType = "gate_triggered"
	EventBoundaryViolation EventType = "boundary_violation"
	EventLockAcquired      EventType = "lock_acquired"
	EventLockReleased      EventType = "lock_released"
	EventContextSaved      EventType = "context_saved"
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventDependencyUpdated EventType = "dependency_updated"
	EventLog               EventType = "log"
)

// DisplayName maps the stored event_type to its user-facing display form.
// The only rewrite defined by the external contract is gate_triggered.
func (e EventType) DisplayName() string {
	if e == EventGateTriggered {
		return "sensitive_needs_review"
	}
	return string(e)
}

// AuditEvent is the durable, append-only audit record.
type AuditEvent struct {
	ID            string
	SessionID     string
	Sequence      int64
	Timestamp     string
	AgentID       string
	EventType     EventType
	Action        string
	Details       map[string]any
	FilesAffected []string
	GateID        string
	HMAC          string
	Severity      Severity
}

func (e AuditEvent) ToRow() map[string]any {
	row := map[string]any{
		"id":         e.ID,
		"session_id": e.SessionID,
		"sequence":   e.Sequence,
		"timestamp":  e.Timestamp,
		"agent_id":   nullableString(e.AgentID),
		"event_type": string(e.EventType),
		"action":     e.Action,
		"gate_id":    nullableString(e.GateID),
		"hmac":       nullableString(e.HMAC),
		"severity":   string(e.Severity),
	}
	row["details"] = marshalOrEmpty(e.Details)
	row["files_affected"] = marshalArrayOrEmpty(e.FilesAffected)
	return row
}

func AuditEventFromRow(row map[string]any) (AuditEvent, error) {
	e := AuditEvent{
		ID:        str(row["id"]),
		SessionID: str(row["session_id"]),
		Sequence:  toInt64(row["sequence"]),
		Timestamp: str(row["timestamp"]),
		AgentID:   str(row["agent_id"]),
		EventType: EventType(str(row["event_type"])),
		Action:    str(row["action"]),
		GateID:    str(row["gate_id"]),
		HMAC:      str(row["hmac"]),
		Severity:  Severity(str(row["severity"])),
	}
	var err error
	if e.Details, err = jsonutil.UnmarshalMap(str(row["details"])); err != nil {
		return AuditEvent{}, fmt.Errorf("model: decode audit event details: %w", err)
	}
	if e.FilesAffected, err = jsonutil.UnmarshalStrings(str(row["files_affected"])); err != nil {
		return AuditEvent{}, fmt.Errorf("model: decode audit event files_affected: %w", err)
	}
	return e, nil
}

// ContextEntry is a keyed persistent scratch value per session.
type ContextEntry struct {
	Key       string
	SessionID string
	AgentID   string
	Value     string
	UpdatedAt string
}

func (c ContextEntry) ToRow() map[string]any {
	return map[string]any{
		"key":        c.Key,
		"session_id": c.SessionID,
		"agent_id":   nullableString(c.AgentID),
		"value":      c.Value,
		"updated_at": c.UpdatedAt,
	}
}

func ContextEntryFromRow(row map[string]any) (ContextEntry, error) {
	return ContextEntry{
		Key:       str(row["key"]),
		SessionID: str(row["session_id"]),
		AgentID:   str(row["agent_id"]),
		Value:     str(row["value"]),
		UpdatedAt: str(row["updated_at"]),
	}, nil
}

// FileLock is exclusive ownership of a path within a session.
type FileLock struct {
	Path      string
	SessionID string
	AgentID   string
	AcquiredAt string
	ExpiresAt  string // empty means no expiry
}

// IsLive reports whether the lock is still held as of now (ISO-8601 UTC ms).
func (l FileLock) IsLive(nowISO string) bool {
	return l.ExpiresAt == "" || l.ExpiresAt > nowISO
}

func (l FileLock) ToRow() map[string]any {
	return map[string]any{
		"path":        l.Path,
		"session_id":  l.SessionID,
		"agent_id":    l.AgentID,
		"acquired_at": l.AcquiredAt,
		"expires_at":  nullableString(l.ExpiresAt),
	}
}

func FileLockFromRow(row map[string]any) (FileLock, error) {
	return FileLock{
		Path:       str(row["path"]),
		SessionID:  str(row["session_id"]),
		AgentID:    str(row["agent_id"]),
		AcquiredAt: str(row["acquired_at"]),
		ExpiresAt:  str(row["expires_at"]),
	}, nil
}

// ViolationType enumerates BoundaryViolation.violation_type.
type ViolationType string

const (
	ViolationForbiddenPath  ViolationType = "forbidden_path"
	ViolationOutsideAllowed ViolationType = "outside_allowed"
)

// EnforcementAction enumerates BoundaryViolation.enforcement_action.
type EnforcementAction string

const (
	ActionLogged        EnforcementAction = "logged"
	ActionBlocked       EnforcementAction = "blocked"
	ActionReverted      EnforcementAction = "reverted"
	ActionRevertFailed  EnforcementAction = "revert_failed"
)

// BoundaryViolation is a record of a denied or reverted access.
type BoundaryViolation struct {
	ID                string
	SessionID         string
	AgentID           string
	Timestamp         string
	FilePath          string
	ViolationType     ViolationType
	EnforcementAction EnforcementAction
	Details           map[string]any
}

func (v BoundaryViolation) ToRow() map[string]any {
	row := map[string]any{
		"id":                 v.ID,
		"session_id":         v.SessionID,
		"agent_id":           nullableString(v.AgentID),
		"timestamp":          v.Timestamp,
		"file_path":          v.FilePath,
		"violation_type":     string(v.ViolationType),
		"enforcement_action": string(v.EnforcementAction),
	}
	row["details"] = marshalOrEmpty(v.Details)
	return row
}

func BoundaryViolationFromRow(row map[string]any) (BoundaryViolation, error) {
	v := BoundaryViolation{
		ID:                str(row["id"]),
		SessionID:         str(row["session_id"]),
		AgentID:           str(row["agent_id"]),
		Timestamp:         str(row["timestamp"]),
		FilePath:          str(row["file_path"]),
		ViolationType:     ViolationType(str(row["violation_type"])),
		EnforcementAction: EnforcementAction(str(row["enforcement_action"])),
	}
	var err error
	if v.Details, err = jsonutil.UnmarshalMap(str(row["details"])); err != nil {
		return BoundaryViolation{}, fmt.Errorf("model: decode violation details: %w", err)
	}
	return v, nil
}

// --- row marshaling helpers ---

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func marshalOrEmpty(m map[string]any) string {
	if m == nil {
		return ""
	}
	b, err := jsonutil.MarshalCompact(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func marshalArrayOrEmpty(v []string) string {
	if v == nil {
		return ""
	}
	b, err := jsonutil.MarshalCompact(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func intToBool(v any) bool {
	return toInt64(v) != 0
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case nil:
		return 0
	default:
		return 0
	}
}
