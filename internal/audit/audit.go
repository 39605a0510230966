// Package audit implements the AuditLogger: the per-session append-only
// writer that assigns monotone sequences, computes the HMAC chain, persists
// each event, and fans out to telemetry, webhooks, and plugins after the
// write commits.
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/khoregos/khoregos/internal/idgen"
	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/plugin"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/store"
	"github.com/khoregos/khoregos/internal/telemetry"
	"github.com/khoregos/khoregos/internal/webhook"
)

// Option configures a Logger at construction time. Per spec.md §9's
// redesign guidance, the webhook dispatcher, plugin manager, and telemetry
// facade are passed in here — explicit handles, not process-global
// singletons — and are never mutated after the first Log call.
type Option func(*Logger)

// WithSigningKey enables HMAC chaining for every event logged.
func WithSigningKey(key []byte) Option {
	return func(l *Logger) { l.signingKey = key }
}

// WithTraceID merges {"trace_id": traceID} into every event's details.
func WithTraceID(traceID string) Option {
	return func(l *Logger) { l.traceID = traceID }
}

// WithWebhook installs a webhook dispatcher fired after every persisted
// event.
func WithWebhook(d *webhook.Dispatcher) Option {
	return func(l *Logger) { l.webhook = d }
}

// WithPlugins installs a plugin manager fired after every persisted event.
// Per spec.md §4.9, only long-lived lifecycle processes should pass this —
// hook subprocesses must never install a plugin manager.
func WithPlugins(m *plugin.Manager) Option {
	return func(l *Logger) { l.plugins = m }
}

// WithTelemetry installs the metrics facade.
func WithTelemetry(t *telemetry.Facade) Option {
	return func(l *Logger) { l.telemetry = t }
}

// Logger is the per-session append-only audit writer.
type Logger struct {
	store     *store.Store
	sessionID string

	signingKey []byte
	traceID    string
	webhook    *webhook.Dispatcher
	plugins    *plugin.Manager
	telemetry  *telemetry.Facade

	mu sync.Mutex
}

// New constructs a Logger. Options may only be supplied here.
func New(st *store.Store, sessionID string, opts ...Option) *Logger {
	l := &Logger{store: st, sessionID: sessionID}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Start is a no-op kept for symmetry with Stop. Sequence and hmac state are
// never cached in-process: each hook invocation is a separate OS process
// with its own Logger, so a one-time load here would go stale the instant a
// sibling process appends. Log re-reads the latest row on every call,
// inside the same transaction that inserts the next one.
func (l *Logger) Start(context.Context) error { return nil }

// Stop is a no-op: writes are synchronous, so there is nothing to flush.
func (l *Logger) Stop(context.Context) error { return nil }

// LogParams is the input to Log.
type LogParams struct {
	EventType model.EventType
	Action    string
	AgentID   string
	Details   map[string]any
	Files     []string
	GateID    string
	Severity  model.Severity // defaults to info when empty
}

// Log appends one audit event. The sequence number and HMAC chain link are
// computed from the latest row for the session, re-read inside the same
// transaction that inserts the new row — required because every hook
// invocation is a separate OS process, so a sequence/hmac read outside the
// transaction (or cached from a prior call) can race a sibling process's
// insert and produce a duplicate sequence or a broken chain. Only after the
// transaction commits do telemetry/webhook/plugin side effects fire; a
// persistence failure propagates to the caller, a side-effect failure never
// does.
func (l *Logger) Log(ctx context.Context, p LogParams) (model.AuditEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	severity := p.Severity
	if severity == "" {
		severity = model.SeverityInfo
	}

	details := p.Details
	if l.traceID != "" {
		merged := make(map[string]any, len(details)+1)
		for k, v := range details {
			merged[k] = v
		}
		merged["trace_id"] = l.traceID
		details = merged
	}

	event := model.AuditEvent{
		ID:            idgen.New(),
		SessionID:     l.sessionID,
		Timestamp:     nowISO(),
		AgentID:       p.AgentID,
		EventType:     p.EventType,
		Action:        p.Action,
		Details:       details,
		FilesAffected: p.Files,
		GateID:        p.GateID,
		Severity:      severity,
	}

	err := l.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		row, err := tx.FetchOne(ctx,
			`SELECT sequence, hmac FROM audit_events WHERE session_id = ? ORDER BY sequence DESC LIMIT 1`,
			l.sessionID,
		)
		if err != nil {
			return fmt.Errorf("audit: load last sequence: %w", err)
		}

		var previousHMAC string
		if row != nil {
			if seq, ok := row["sequence"].(int64); ok {
				event.Sequence = seq + 1
			}
			if h, ok := row["hmac"].(string); ok {
				previousHMAC = h
			}
		} else {
			event.Sequence = 1
		}

		if l.signingKey != nil {
			if previousHMAC == "" {
				previousHMAC = signing.Genesis(l.sessionID)
			}
			hmacVal, err := signing.ComputeHMAC(l.signingKey, previousHMAC, event)
			if err != nil {
				return fmt.Errorf("audit: compute hmac: %w", err)
			}
			event.HMAC = hmacVal
		}

		if _, err := tx.Insert(ctx, "audit_events", event.ToRow()); err != nil {
			return fmt.Errorf("audit: persist event: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.AuditEvent{}, err
	}

	l.fanOut(ctx, event)

	return event, nil
}

// fanOut fires the post-persistence side effects. Every failure here is
// logged and swallowed — it must never roll back or re-raise past the
// write that already committed.
func (l *Logger) fanOut(ctx context.Context, event model.AuditEvent) {
	if l.telemetry != nil {
		l.telemetry.RecordEvent(ctx, string(event.EventType), string(event.Severity))
	}
	if l.webhook != nil {
		l.webhook.Dispatch(ctx, event, webhook.SessionContext{SessionID: l.sessionID, TraceID: l.traceID})
	}
	if l.plugins != nil {
		l.plugins.OnAuditEvent(ctx, event)
		switch event.EventType {
		case model.EventToolUse:
			l.plugins.OnToolUse(ctx, event)
		case model.EventGateTriggered:
			l.plugins.OnGateTrigger(ctx, event)
		}
	}
}

// GetEventsParams filters GetEvents.
type GetEventsParams struct {
	Limit     int
	Offset    int
	EventType model.EventType
	AgentID   string
	Since     string
	Severity  model.Severity
	TraceID   string
}

// GetEvents returns events ordered by sequence descending, filtered per
// params. When TraceID is set, it matches against the JSON-extracted
// trace_id field nested inside details.
func (l *Logger) GetEvents(ctx context.Context, p GetEventsParams) ([]model.AuditEvent, error) {
	query := `SELECT * FROM audit_events WHERE session_id = ?`
	args := []any{l.sessionID}

	if p.EventType != "" {
		query += ` AND event_type = ?`
		args = append(args, string(p.EventType))
	}
	if p.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, p.AgentID)
	}
	if p.Since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, p.Since)
	}
	if p.Severity != "" {
		query += ` AND severity = ?`
		args = append(args, string(p.Severity))
	}
	if p.TraceID != "" {
		query += ` AND json_extract(details, '$.trace_id') = ?`
		args = append(args, p.TraceID)
	}

	query += ` ORDER BY sequence DESC`
	if p.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", p.Limit)
		if p.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", p.Offset)
		}
	}

	rows, err := l.store.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: get_events: %w", err)
	}
	events := make([]model.AuditEvent, 0, len(rows))
	for _, row := range rows {
		e, err := model.AuditEventFromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// GetEventCount returns the per-session total.
func (l *Logger) GetEventCount(ctx context.Context) (int64, error) {
	row, err := l.store.FetchOne(ctx, `SELECT COUNT(*) as n FROM audit_events WHERE session_id = ?`, l.sessionID)
	if err != nil {
		return 0, fmt.Errorf("audit: get_event_count: %w", err)
	}
	n, _ := row["n"].(int64)
	return n, nil
}

// PruneResult is the outcome of Prune.
type PruneResult struct {
	EventsDeleted  int64
	SessionsPruned int64
}

// Prune deletes audit events older than beforeDate, then cascade-deletes
// any terminal session with ended_at < beforeDate that has no remaining
// events. dryRun returns the counts without mutating anything.
func Prune(ctx context.Context, st *store.Store, beforeDate string, dryRun bool) (PruneResult, error) {
	countRow, err := st.FetchOne(ctx, `SELECT COUNT(*) as n FROM audit_events WHERE timestamp < ?`, beforeDate)
	if err != nil {
		return PruneResult{}, fmt.Errorf("audit: prune count events: %w", err)
	}
	eventsToDelete, _ := countRow["n"].(int64)

	candidates, err := st.FetchAll(ctx,
		`SELECT id FROM sessions WHERE state IN ('completed','failed') AND ended_at < ?`, beforeDate)
	if err != nil {
		return PruneResult{}, fmt.Errorf("audit: prune find candidate sessions: %w", err)
	}

	var sessionsToPrune int64
	var prunableIDs []string
	for _, c := range candidates {
		id, _ := c["id"].(string)
		remaining, err := st.FetchOne(ctx,
			`SELECT COUNT(*) as n FROM audit_events WHERE session_id = ? AND timestamp >= ?`, id, beforeDate)
		if err != nil {
			return PruneResult{}, err
		}
		if n, _ := remaining["n"].(int64); n == 0 {
			sessionsToPrune++
			prunableIDs = append(prunableIDs, id)
		}
	}

	result := PruneResult{EventsDeleted: eventsToDelete, SessionsPruned: sessionsToPrune}
	if dryRun {
		return result, nil
	}

	err = st.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Delete(ctx, "audit_events", "timestamp < ?", beforeDate); err != nil {
			return err
		}
		for _, id := range prunableIDs {
			if _, err := tx.Delete(ctx, "boundary_violations", "session_id = ?", id); err != nil {
				return err
			}
			if _, err := tx.Delete(ctx, "file_locks", "session_id = ?", id); err != nil {
				return err
			}
			if _, err := tx.Delete(ctx, "context_store", "session_id = ?", id); err != nil {
				return err
			}
			if _, err := tx.Delete(ctx, "agents", "session_id = ?", id); err != nil {
				return err
			}
			if _, err := tx.Delete(ctx, "sessions", "id = ?", id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return PruneResult{}, fmt.Errorf("audit: prune: %w", err)
	}
	return result, nil
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
