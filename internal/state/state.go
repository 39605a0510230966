// Package state implements the StateManager: session, agent, and per-session
// context lifecycle on top of the Store.
package state

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/khoregos/khoregos/internal/idgen"
	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/store"
)

// Manager is the StateManager.
type Manager struct {
	store *store.Store
}

// New constructs a Manager over st.
func New(st *store.Store) *Manager {
	return &Manager{store: st}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// CreateSessionParams is the input to CreateSession.
type CreateSessionParams struct {
	Objective      string
	ConfigSnapshot map[string]any
	Parent         string
}

// CreateSession generates an id and trace id, and inserts the session in
// state "created".
func (m *Manager) CreateSession(ctx context.Context, p CreateSessionParams) (model.Session, error) {
	s := model.Session{
		ID:              idgen.New(),
		Objective:       p.Objective,
		State:           model.SessionCreated,
		StartedAt:       nowISO(),
		ParentSessionID: p.Parent,
		ConfigSnapshot:  p.ConfigSnapshot,
		TraceID:         idgen.NewTraceID(),
	}
	if _, err := m.store.Insert(ctx, "sessions", s.ToRow()); err != nil {
		return model.Session{}, fmt.Errorf("state: create_session: %w", err)
	}
	return s, nil
}

// MarkActive transitions a session to state "active".
func (m *Manager) MarkActive(ctx context.Context, id string) error {
	_, err := m.store.Update(ctx, "sessions", map[string]any{"state": string(model.SessionActive)}, "id = ?", id)
	if err != nil {
		return fmt.Errorf("state: mark_active: %w", err)
	}
	return nil
}

// MarkPaused transitions a session to state "paused".
func (m *Manager) MarkPaused(ctx context.Context, id string) error {
	_, err := m.store.Update(ctx, "sessions", map[string]any{"state": string(model.SessionPaused)}, "id = ?", id)
	if err != nil {
		return fmt.Errorf("state: mark_paused: %w", err)
	}
	return nil
}

// MarkCompleted transitions a session to a terminal state (completed or
// failed), recording ended_at and, optionally, a context_summary.
func (m *Manager) MarkCompleted(ctx context.Context, id string, state model.SessionState, summary string) error {
	set := map[string]any{"state": string(state), "ended_at": nowISO()}
	if summary != "" {
		set["context_summary"] = summary
	}
	_, err := m.store.Update(ctx, "sessions", set, "id = ?", id)
	if err != nil {
		return fmt.Errorf("state: mark_completed: %w", err)
	}
	return nil
}

// GetSession fetches a session by id, or (model.Session{}, false, nil) if absent.
func (m *Manager) GetSession(ctx context.Context, id string) (model.Session, bool, error) {
	row, err := m.store.FetchOne(ctx, `SELECT * FROM sessions WHERE id = ?`, id)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("state: get_session: %w", err)
	}
	if row == nil {
		return model.Session{}, false, nil
	}
	s, err := model.SessionFromRow(row)
	return s, true, err
}

// GetLatestSession returns the most recently started session, if any.
func (m *Manager) GetLatestSession(ctx context.Context) (model.Session, bool, error) {
	row, err := m.store.FetchOne(ctx, `SELECT * FROM sessions ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("state: get_latest_session: %w", err)
	}
	if row == nil {
		return model.Session{}, false, nil
	}
	s, err := model.SessionFromRow(row)
	return s, true, err
}

// GetActiveSession returns the first session in state created|active,
// ordered by started_at descending.
func (m *Manager) GetActiveSession(ctx context.Context) (model.Session, bool, error) {
	row, err := m.store.FetchOne(ctx,
		`SELECT * FROM sessions WHERE state IN ('created','active') ORDER BY started_at DESC LIMIT 1`)
	if err != nil {
		return model.Session{}, false, fmt.Errorf("state: get_active_session: %w", err)
	}
	if row == nil {
		return model.Session{}, false, nil
	}
	s, err := model.SessionFromRow(row)
	return s, true, err
}

// ListSessionsParams filters ListSessions.
type ListSessionsParams struct {
	Limit  int
	Offset int
	State  model.SessionState
}

// ListSessions returns sessions ordered by started_at descending.
func (m *Manager) ListSessions(ctx context.Context, p ListSessionsParams) ([]model.Session, error) {
	query := `SELECT * FROM sessions`
	var args []any
	if p.State != "" {
		query += ` WHERE state = ?`
		args = append(args, string(p.State))
	}
	query += ` ORDER BY started_at DESC`
	if p.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", p.Limit)
		if p.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", p.Offset)
		}
	}
	rows, err := m.store.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: list_sessions: %w", err)
	}
	out := make([]model.Session, 0, len(rows))
	for _, row := range rows {
		s, err := model.SessionFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// UpdateSession persists every ToRow field of s.
func (m *Manager) UpdateSession(ctx context.Context, s model.Session) error {
	row := s.ToRow()
	id := row["id"]
	delete(row, "id")
	_, err := m.store.Update(ctx, "sessions", row, "id = ?", id)
	if err != nil {
		return fmt.Errorf("state: update_session: %w", err)
	}
	return nil
}

// RegisterAgentParams is the input to RegisterAgent.
type RegisterAgentParams struct {
	SessionID      string
	Name           string
	Role           model.AgentRole
	Specialization string
	BoundaryConfig map[string]any
}

// RegisterAgent generates an id and inserts the agent with
// tool_call_count=0.
func (m *Manager) RegisterAgent(ctx context.Context, p RegisterAgentParams) (model.Agent, error) {
	role := p.Role
	if role == "" {
		role = model.RoleTeammate
	}
	a := model.Agent{
		ID:             idgen.New(),
		SessionID:      p.SessionID,
		Name:           p.Name,
		Role:           role,
		Specialization: p.Specialization,
		State:          model.AgentActive,
		SpawnedAt:      nowISO(),
		BoundaryConfig: p.BoundaryConfig,
	}
	if _, err := m.store.Insert(ctx, "agents", a.ToRow()); err != nil {
		return model.Agent{}, fmt.Errorf("state: register_agent: %w", err)
	}
	return a, nil
}

// GetAgentByName returns the first agent row matching (session_id, name) by
// spawned_at ascending — "first match" per spec.md §3's documented (and
// explicitly unresolved) duplicate-name allowance.
func (m *Manager) GetAgentByName(ctx context.Context, sessionID, name string) (model.Agent, bool, error) {
	row, err := m.store.FetchOne(ctx,
		`SELECT * FROM agents WHERE session_id = ? AND name = ? ORDER BY spawned_at ASC LIMIT 1`,
		sessionID, name)
	if err != nil {
		return model.Agent{}, false, fmt.Errorf("state: get_agent_by_name: %w", err)
	}
	if row == nil {
		return model.Agent{}, false, nil
	}
	a, err := model.AgentFromRow(row)
	return a, true, err
}

// GetAgentByExternalSessionID looks up an agent by its host-runtime
// correlation id.
func (m *Manager) GetAgentByExternalSessionID(ctx context.Context, sessionID, extID string) (model.Agent, bool, error) {
	row, err := m.store.FetchOne(ctx,
		`SELECT * FROM agents WHERE session_id = ? AND external_session_id = ? LIMIT 1`,
		sessionID, extID)
	if err != nil {
		return model.Agent{}, false, fmt.Errorf("state: get_agent_by_external_session_id: %w", err)
	}
	if row == nil {
		return model.Agent{}, false, nil
	}
	a, err := model.AgentFromRow(row)
	return a, true, err
}

// AssignExternalSessionToNewestUnassigned assigns extID to the most
// recently spawned agent in sessionID that has no external_session_id yet.
func (m *Manager) AssignExternalSessionToNewestUnassigned(ctx context.Context, sessionID, extID string) (model.Agent, bool, error) {
	row, err := m.store.FetchOne(ctx,
		`SELECT * FROM agents WHERE session_id = ? AND (external_session_id IS NULL OR external_session_id = '')
		 ORDER BY spawned_at DESC LIMIT 1`, sessionID)
	if err != nil {
		return model.Agent{}, false, fmt.Errorf("state: assign_external_session: %w", err)
	}
	if row == nil {
		return model.Agent{}, false, nil
	}
	a, err := model.AgentFromRow(row)
	if err != nil {
		return model.Agent{}, false, err
	}
	if _, err := m.store.Update(ctx, "agents", map[string]any{"external_session_id": extID}, "id = ?", a.ID); err != nil {
		return model.Agent{}, false, fmt.Errorf("state: assign_external_session: %w", err)
	}
	a.ExternalSessionID = extID
	return a, true, nil
}

// IncrementToolCallCount atomically increments the agent's counter inside a
// transaction and returns the resulting value.
func (m *Manager) IncrementToolCallCount(ctx context.Context, agentID string) (int64, error) {
	var newCount int64
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE agents SET tool_call_count = tool_call_count + 1 WHERE id = ?`, agentID); err != nil {
			return err
		}
		row, err := tx.FetchOne(ctx, `SELECT tool_call_count FROM agents WHERE id = ?`, agentID)
		if err != nil {
			return err
		}
		if row == nil {
			return fmt.Errorf("state: increment_tool_call_count: agent %s not found", agentID)
		}
		if n, ok := row["tool_call_count"].(int64); ok {
			newCount = n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("state: increment_tool_call_count: %w", err)
	}
	return newCount, nil
}

// SaveContext upserts a context entry keyed on (session_id, key).
func (m *Manager) SaveContext(ctx context.Context, entry model.ContextEntry) error {
	entry.UpdatedAt = nowISO()
	_, err := m.store.InsertOrReplace(ctx, "context_store", entry.ToRow())
	if err != nil {
		return fmt.Errorf("state: save_context: %w", err)
	}
	return nil
}

// LoadContext fetches a single context entry.
func (m *Manager) LoadContext(ctx context.Context, sessionID, key string) (model.ContextEntry, bool, error) {
	row, err := m.store.FetchOne(ctx,
		`SELECT * FROM context_store WHERE session_id = ? AND key = ?`, sessionID, key)
	if err != nil {
		return model.ContextEntry{}, false, fmt.Errorf("state: load_context: %w", err)
	}
	if row == nil {
		return model.ContextEntry{}, false, nil
	}
	e, err := model.ContextEntryFromRow(row)
	return e, true, err
}

// LoadAllContext fetches every context entry for a session, optionally
// filtered by agent id.
func (m *Manager) LoadAllContext(ctx context.Context, sessionID, agentID string) ([]model.ContextEntry, error) {
	query := `SELECT * FROM context_store WHERE session_id = ?`
	args := []any{sessionID}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY updated_at ASC`
	rows, err := m.store.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("state: load_all_context: %w", err)
	}
	out := make([]model.ContextEntry, 0, len(rows))
	for _, row := range rows {
		e, err := model.ContextEntryFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// DeleteContext removes one context entry.
func (m *Manager) DeleteContext(ctx context.Context, sessionID, key string) error {
	_, err := m.store.Delete(ctx, "context_store", "session_id = ? AND key = ?", sessionID, key)
	if err != nil {
		return fmt.Errorf("state: delete_context: %w", err)
	}
	return nil
}

// GenerateResumeContext composes a markdown block summarizing the prior
// objective, active agents, and the first ten saved context entries
// (values truncated to 100 chars). Returns an empty string for an unknown
// session.
func (m *Manager) GenerateResumeContext(ctx context.Context, sessionID string) (string, error) {
	session, found, err := m.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", nil
	}

	agents, err := m.store.FetchAll(ctx,
		`SELECT * FROM agents WHERE session_id = ? AND state IN ('active','idle') ORDER BY spawned_at ASC`, sessionID)
	if err != nil {
		return "", fmt.Errorf("state: generate_resume_context: list agents: %w", err)
	}

	entries, err := m.LoadAllContext(ctx, sessionID, "")
	if err != nil {
		return "", fmt.Errorf("state: generate_resume_context: load context: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UpdatedAt < entries[j].UpdatedAt })
	if len(entries) > 10 {
		entries = entries[:10]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Resuming session %s\n\n", sessionID)
	fmt.Fprintf(&b, "**Objective:** %s\n\n", session.Objective)

	b.WriteString("**Active agents:**\n")
	if len(agents) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, row := range agents {
		a, convErr := model.AgentFromRow(row)
		if convErr != nil {
			return "", convErr
		}
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, a.Role)
	}

	b.WriteString("\n**Saved context:**\n")
	if len(entries) == 0 {
		b.WriteString("- (none)\n")
	}
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.Key, truncate(e.Value, 100))
	}

	return b.String(), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
