// Package boundary implements the BoundaryEnforcer: glob-based allow/deny
// path evaluation per agent, violation recording, and strict-mode revert via
// a version-control snapshot.
package boundary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/khoregos/khoregos/internal/idgen"
	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/store"
	"github.com/khoregos/khoregos/internal/vcs"
)

// Enforcement is the closed enum of enforcement modes.
type Enforcement string

const (
	Advisory Enforcement = "advisory"
	Strict   Enforcement = "strict"
)

// Boundary pairs an agent-name glob pattern with allow/deny path patterns
// and an enforcement mode.
type Boundary struct {
	Pattern              string
	AllowedPaths         []string
	ForbiddenPaths       []string
	Enforcement          Enforcement
	MaxToolCallsPerSession int // 0 means unbounded
}

// Enforcer is the BoundaryEnforcer.
type Enforcer struct {
	store       *store.Store
	sessionID   string
	projectRoot string
	boundaries  []Boundary
}

// New constructs an Enforcer.
func New(st *store.Store, sessionID, projectRoot string, boundaries []Boundary) *Enforcer {
	return &Enforcer{store: st, sessionID: sessionID, projectRoot: projectRoot, boundaries: boundaries}
}

// GetBoundaryForAgent matches name against each boundary's Pattern in
// order; falling back to the wildcard ("*") boundary if no specific
// pattern matches.
func (e *Enforcer) GetBoundaryForAgent(name string) (Boundary, bool) {
	var wildcard Boundary
	haveWildcard := false

	for _, b := range e.boundaries {
		if b.Pattern == "*" {
			wildcard = b
			haveWildcard = true
			continue
		}
		if ok, _ := doublestar.Match(b.Pattern, name); ok {
			return b, true
		}
	}
	if haveWildcard {
		return wildcard, true
	}
	return Boundary{}, false
}

// CheckResult is the outcome of CheckPathAllowed.
type CheckResult struct {
	Allowed bool
	Reason  string
}

// CheckPathAllowed implements the seven-step algorithm from spec.md §4.5.
func (e *Enforcer) CheckPathAllowed(path, agentName string) (CheckResult, error) {
	resolvedRoot := resolveCanonical(e.projectRoot)

	var resolvedPath string
	if filepath.IsAbs(path) {
		resolvedPath = resolveCanonical(path)
	} else {
		resolvedPath = resolveCanonical(filepath.Join(resolvedRoot, path))
	}

	relative, err := filepath.Rel(resolvedRoot, resolvedPath)
	if err != nil {
		return CheckResult{Allowed: false, Reason: "outside project root"}, nil
	}
	relative = filepath.ToSlash(relative)
	if relative == ".." || strings.HasPrefix(relative, "../") || filepath.IsAbs(relative) {
		return CheckResult{Allowed: false, Reason: "outside project root"}, nil
	}

	b, ok := e.GetBoundaryForAgent(agentName)
	if !ok {
		return CheckResult{Allowed: false, Reason: "no boundary configured"}, nil
	}

	for _, pattern := range b.ForbiddenPaths {
		if matchGlob(pattern, relative) {
			return CheckResult{Allowed: false, Reason: fmt.Sprintf("Path matches forbidden pattern: %s", pattern)}, nil
		}
	}

	if len(b.AllowedPaths) > 0 {
		matched := false
		for _, pattern := range b.AllowedPaths {
			if matchGlob(pattern, relative) {
				matched = true
				break
			}
		}
		if !matched {
			return CheckResult{Allowed: false, Reason: "does not match any allowed patterns"}, nil
		}
	}

	return CheckResult{Allowed: true}, nil
}

// matchGlob implements the pattern semantics of spec.md §4.5: `*`, `**`,
// `?`, `[class]`. The whole candidate is tried with doublestar.Match first;
// when that fails and the pattern contains no "/", the candidate's last
// segment (its file name) is tried against the pattern as well.
func matchGlob(pattern, candidate string) bool {
	if ok, err := doublestar.Match(pattern, candidate); err == nil && ok {
		return true
	}
	// A bare single-segment pattern (no "/") matches any file name at any
	// depth, mirroring "a pattern without `/` matches any single-segment
	// file name".
	if !strings.Contains(pattern, "/") {
		base := candidate
		if idx := strings.LastIndex(candidate, "/"); idx >= 0 {
			base = candidate[idx+1:]
		}
		if ok, err := doublestar.Match(pattern, base); err == nil && ok {
			return true
		}
	}
	return false
}

// resolveCanonical follows symlinks via filepath.EvalSymlinks; if that
// fails (path doesn't exist yet, permission denied, …) it falls back to
// lexical cleaning, per spec.md §4.5 step 1's "if resolution fails, use
// lexical resolution".
func resolveCanonical(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// RecordViolationParams is the input to RecordViolation.
type RecordViolationParams struct {
	FilePath          string
	AgentID           string
	ViolationType     model.ViolationType
	EnforcementAction model.EnforcementAction
	Details           map[string]any
}

// RecordViolation inserts a boundary_violations row.
func (e *Enforcer) RecordViolation(ctx context.Context, p RecordViolationParams) (model.BoundaryViolation, error) {
	v := model.BoundaryViolation{
		ID:                idgen.New(),
		SessionID:         e.sessionID,
		AgentID:           p.AgentID,
		Timestamp:         nowISO(),
		FilePath:          p.FilePath,
		ViolationType:     p.ViolationType,
		EnforcementAction: p.EnforcementAction,
		Details:           p.Details,
	}
	if _, err := e.store.Insert(ctx, "boundary_violations", v.ToRow()); err != nil {
		return model.BoundaryViolation{}, fmt.Errorf("boundary: record_violation: %w", err)
	}
	return v, nil
}

// GetViolations returns violations for the session (optionally filtered by
// agent) in descending timestamp order.
func (e *Enforcer) GetViolations(ctx context.Context, agentID string, limit int) ([]model.BoundaryViolation, error) {
	query := `SELECT * FROM boundary_violations WHERE session_id = ?`
	args := []any{e.sessionID}
	if agentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := e.store.FetchAll(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("boundary: get_violations: %w", err)
	}
	out := make([]model.BoundaryViolation, 0, len(rows))
	for _, row := range rows {
		v, err := model.BoundaryViolationFromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// BoundariesSummary is the result of GetAgentBoundariesSummary.
type BoundariesSummary struct {
	Agent          string
	HasBoundary    bool
	AllowedPaths   []string
	ForbiddenPaths []string
	Enforcement    string
}

// GetAgentBoundariesSummary reports the effective boundary for name.
func (e *Enforcer) GetAgentBoundariesSummary(name string) BoundariesSummary {
	b, ok := e.GetBoundaryForAgent(name)
	if !ok {
		return BoundariesSummary{Agent: name, HasBoundary: false, Enforcement: "deny"}
	}
	return BoundariesSummary{
		Agent:          name,
		HasBoundary:    true,
		AllowedPaths:   b.AllowedPaths,
		ForbiddenPaths: b.ForbiddenPaths,
		Enforcement:    string(b.Enforcement),
	}
}

// RevertFile implements strict revert (spec.md §4.5 "Strict revert"). It
// never propagates a VCS/I-O error: every failure path returns the
// best-effort captured content instead.
func RevertFile(absolutePath, projectRoot string) (originalContent string, hadContent bool) {
	captured, capturedOK := readIfExists(absolutePath)

	repo, err := vcs.Open(projectRoot)
	if err != nil {
		return captured, capturedOK
	}
	rel, err := repo.RelPath(absolutePath)
	if err != nil {
		return captured, capturedOK
	}

	tracked, err := repo.IsTracked(rel)
	if err != nil {
		return captured, capturedOK
	}
	if !tracked {
		_ = removeIfExists(absolutePath)
		return captured, capturedOK
	}
	if err := repo.RestoreToHead(rel); err != nil {
		return captured, capturedOK
	}
	return captured, capturedOK
}

func readIfExists(path string) (string, bool) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(contents), true
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
