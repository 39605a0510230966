// Package lock implements the FileLockManager: exclusive, TTL-bounded
// per-path ownership enforced via single-writer database transactions.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/store"
)

const defaultDurationSeconds = 300

// Manager is the FileLockManager.
type Manager struct {
	store     *store.Store
	sessionID string
}

// New constructs a Manager scoped to a session.
func New(st *store.Store, sessionID string) *Manager {
	return &Manager{store: st, sessionID: sessionID}
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func addSeconds(fromISO string, seconds int) (string, error) {
	from, err := time.Parse("2006-01-02T15:04:05.000Z", fromISO)
	if err != nil {
		return "", err
	}
	return from.Add(time.Duration(seconds) * time.Second).Format("2006-01-02T15:04:05.000Z"), nil
}

// AcquireResult is the outcome of Acquire.
type AcquireResult struct {
	Success bool
	Reason  string
	Lock    model.FileLock
}

// Acquire implements spec.md §4.6's acquire algorithm. durationSeconds <= 0
// means "use the default".
func (m *Manager) Acquire(ctx context.Context, path, agentID string, durationSeconds int) (AcquireResult, error) {
	if durationSeconds <= 0 {
		durationSeconds = defaultDurationSeconds
	}

	var result AcquireResult
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		now := nowISO()
		expiresAt, err := addSeconds(now, durationSeconds)
		if err != nil {
			return err
		}

		row, err := tx.FetchOne(ctx, `SELECT * FROM file_locks WHERE path = ?`, path)
		if err != nil {
			return err
		}

		if row != nil {
			existing, err := model.FileLockFromRow(row)
			if err != nil {
				return err
			}
			switch {
			case !existing.IsLive(now):
				if _, err := tx.Delete(ctx, "file_locks", "path = ?", path); err != nil {
					return err
				}
			case existing.AgentID == agentID:
				if _, err := tx.Update(ctx, "file_locks", map[string]any{"expires_at": expiresAt}, "path = ?", path); err != nil {
					return err
				}
				existing.ExpiresAt = expiresAt
				result = AcquireResult{Success: true, Lock: existing}
				return nil
			default:
				result = AcquireResult{Success: false, Reason: fmt.Sprintf("locked by agent %s", existing.AgentID)}
				return nil
			}
		}

		newLock := model.FileLock{
			Path:       path,
			SessionID:  m.sessionID,
			AgentID:    agentID,
			AcquiredAt: now,
			ExpiresAt:  expiresAt,
		}
		if _, err := tx.Insert(ctx, "file_locks", newLock.ToRow()); err != nil {
			return err
		}
		result = AcquireResult{Success: true, Lock: newLock}
		return nil
	})
	if err != nil {
		return AcquireResult{}, fmt.Errorf("lock: acquire: %w", err)
	}
	return result, nil
}

// ReleaseResult is the outcome of Release.
type ReleaseResult struct {
	Success bool
	Reason  string
}

// Release implements spec.md §4.6's release algorithm: idempotent if no
// lock exists, fails if held by a different agent.
func (m *Manager) Release(ctx context.Context, path, agentID string) (ReleaseResult, error) {
	var result ReleaseResult
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		row, err := tx.FetchOne(ctx, `SELECT * FROM file_locks WHERE path = ?`, path)
		if err != nil {
			return err
		}
		if row == nil {
			result = ReleaseResult{Success: true}
			return nil
		}
		existing, err := model.FileLockFromRow(row)
		if err != nil {
			return err
		}
		if existing.AgentID != agentID {
			result = ReleaseResult{Success: false, Reason: fmt.Sprintf("locked by agent %s", existing.AgentID)}
			return nil
		}
		if _, err := tx.Delete(ctx, "file_locks", "path = ?", path); err != nil {
			return err
		}
		result = ReleaseResult{Success: true}
		return nil
	})
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("lock: release: %w", err)
	}
	return result, nil
}

// Check returns the live lock for path, reaping it first if expired.
func (m *Manager) Check(ctx context.Context, path string) (model.FileLock, bool, error) {
	var found model.FileLock
	var ok bool
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		row, err := tx.FetchOne(ctx, `SELECT * FROM file_locks WHERE path = ?`, path)
		if err != nil {
			return err
		}
		if row == nil {
			return nil
		}
		l, err := model.FileLockFromRow(row)
		if err != nil {
			return err
		}
		if !l.IsLive(nowISO()) {
			_, err := tx.Delete(ctx, "file_locks", "path = ?", path)
			return err
		}
		found, ok = l, true
		return nil
	})
	if err != nil {
		return model.FileLock{}, false, fmt.Errorf("lock: check: %w", err)
	}
	return found, ok, nil
}

// ListLocks returns live locks, optionally filtered by agentID, reaping any
// expired locks encountered.
func (m *Manager) ListLocks(ctx context.Context, agentID string) ([]model.FileLock, error) {
	var live []model.FileLock
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		query := `SELECT * FROM file_locks WHERE session_id = ?`
		args := []any{m.sessionID}
		if agentID != "" {
			query += ` AND agent_id = ?`
			args = append(args, agentID)
		}
		rows, err := tx.FetchAll(ctx, query, args...)
		if err != nil {
			return err
		}
		now := nowISO()
		for _, row := range rows {
			l, err := model.FileLockFromRow(row)
			if err != nil {
				return err
			}
			if !l.IsLive(now) {
				if _, err := tx.Delete(ctx, "file_locks", "path = ?", l.Path); err != nil {
					return err
				}
				continue
			}
			live = append(live, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lock: list_locks: %w", err)
	}
	return live, nil
}

// ReleaseAllForAgent deletes every lock for this session held by agentID,
// returning the count released.
func (m *Manager) ReleaseAllForAgent(ctx context.Context, agentID string) (int64, error) {
	var count int64
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := tx.Delete(ctx, "file_locks", "session_id = ? AND agent_id = ?", m.sessionID, agentID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("lock: release_all_for_agent: %w", err)
	}
	return count, nil
}

// ReleaseAll deletes every lock for this session, returning the count
// released.
func (m *Manager) ReleaseAll(ctx context.Context) (int64, error) {
	var count int64
	err := m.store.Transaction(ctx, func(ctx context.Context, tx *store.Tx) error {
		n, err := tx.Delete(ctx, "file_locks", "session_id = ?", m.sessionID)
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("lock: release_all: %w", err)
	}
	return count, nil
}
