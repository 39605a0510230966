// Package report implements structured report generation over a session's
// audit log: the read-only consumer described in spec.md §§1-2 ("report
// generator") that sits alongside the chain verifier in internal/signing.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/store"
)

// Report is the structured summary of one session's governed activity.
type Report struct {
	Session        model.Session              `json:"session"`
	Agents         []model.Agent              `json:"agents"`
	TotalEvents    int64                       `json:"total_events"`
	EventCounts    map[string]int64            `json:"event_counts"`
	SeverityCounts map[string]int64            `json:"severity_counts"`
	Violations     []model.BoundaryViolation   `json:"violations"`
	ActiveLocks    []model.FileLock            `json:"active_locks"`
	Chain          *signing.VerifyResult       `json:"chain,omitempty"`
	GeneratedAt    string                      `json:"generated_at"`
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// Generate builds a Report for sessionID. If signingKey is non-nil, the
// report also carries the chain-verification result (internal/signing's
// VerifyChain) over every stored event, in ascending sequence order. The
// display-name mapping (gate_triggered -> sensitive_needs_review) is the
// caller's concern when rendering, per spec.md §6 — EventCounts keys remain
// the stored event_type values.
func Generate(ctx context.Context, st *store.Store, sessionID string, signingKey []byte) (Report, error) {
	sessionRow, err := st.FetchOne(ctx, `SELECT * FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report: fetch session: %w", err)
	}
	if sessionRow == nil {
		return Report{}, fmt.Errorf("report: session %s not found", sessionID)
	}
	session, err := model.SessionFromRow(sessionRow)
	if err != nil {
		return Report{}, fmt.Errorf("report: decode session: %w", err)
	}

	agentRows, err := st.FetchAll(ctx, `SELECT * FROM agents WHERE session_id = ? ORDER BY spawned_at ASC`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report: fetch agents: %w", err)
	}
	agents := make([]model.Agent, 0, len(agentRows))
	for _, row := range agentRows {
		a, err := model.AgentFromRow(row)
		if err != nil {
			return Report{}, fmt.Errorf("report: decode agent: %w", err)
		}
		agents = append(agents, a)
	}

	eventRows, err := st.FetchAll(ctx,
		`SELECT * FROM audit_events WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report: fetch events: %w", err)
	}
	events := make([]model.AuditEvent, 0, len(eventRows))
	for _, row := range eventRows {
		e, err := model.AuditEventFromRow(row)
		if err != nil {
			return Report{}, fmt.Errorf("report: decode event: %w", err)
		}
		events = append(events, e)
	}

	eventCounts := map[string]int64{}
	severityCounts := map[string]int64{}
	for _, e := range events {
		eventCounts[string(e.EventType)]++
		severityCounts[string(e.Severity)]++
	}

	violationRows, err := st.FetchAll(ctx,
		`SELECT * FROM boundary_violations WHERE session_id = ? ORDER BY timestamp DESC`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report: fetch violations: %w", err)
	}
	violations := make([]model.BoundaryViolation, 0, len(violationRows))
	for _, row := range violationRows {
		v, err := model.BoundaryViolationFromRow(row)
		if err != nil {
			return Report{}, fmt.Errorf("report: decode violation: %w", err)
		}
		violations = append(violations, v)
	}

	lockRows, err := st.FetchAll(ctx, `SELECT * FROM file_locks WHERE session_id = ?`, sessionID)
	if err != nil {
		return Report{}, fmt.Errorf("report: fetch locks: %w", err)
	}
	now := nowISO()
	var activeLocks []model.FileLock
	for _, row := range lockRows {
		l, err := model.FileLockFromRow(row)
		if err != nil {
			return Report{}, fmt.Errorf("report: decode lock: %w", err)
		}
		if l.IsLive(now) {
			activeLocks = append(activeLocks, l)
		}
	}
	sort.Slice(activeLocks, func(i, j int) bool { return activeLocks[i].Path < activeLocks[j].Path })

	r := Report{
		Session:        session,
		Agents:         agents,
		TotalEvents:    int64(len(events)),
		EventCounts:    eventCounts,
		SeverityCounts: severityCounts,
		Violations:     violations,
		ActiveLocks:    activeLocks,
		GeneratedAt:    now,
	}

	if signingKey != nil {
		result := signing.VerifyChain(signingKey, sessionID, events)
		r.Chain = &result
	}

	return r, nil
}
