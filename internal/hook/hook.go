// Package hook implements the post-tool-use pipeline: the short-lived
// subprocess entry point invoked after every tool call in a governed
// session, reading one JSON payload from stdin and producing the
// corresponding audit trail, boundary enforcement, and review
// annotations.
package hook

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/khoregos/khoregos/internal/audit"
	"github.com/khoregos/khoregos/internal/boundary"
	"github.com/khoregos/khoregos/internal/depdiff"
	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/state"
	"github.com/khoregos/khoregos/internal/telemetry"
	"github.com/khoregos/khoregos/internal/vcs"
)

const primaryAgentName = "primary"

const violationDetailTruncateLen = 500

// Pipeline orchestrates the post-tool-use pipeline for a single session.
type Pipeline struct {
	State       *state.Manager
	Audit       *audit.Logger
	Boundary    *boundary.Enforcer
	Telemetry   *telemetry.Facade
	SessionID   string
	ProjectRoot string
	ReviewRules []ReviewRule
}

// Run executes the full pipeline for one payload. It returns an error
// only for unexpected persistence failures; an internal tool is a no-op
// that returns nil. Disabled settings and an unresolvable project root are
// handled by the caller before Run is reached.
func (p *Pipeline) Run(ctx context.Context, payload Payload) error {
	if IsInternalTool(payload.ToolName) {
		return nil
	}

	agentRec, err := p.identifyAgent(ctx, payload)
	if err != nil {
		return fmt.Errorf("hook: identify agent: %w", err)
	}

	newCount, violated, err := p.accountToolCall(ctx, agentRec)
	if err != nil {
		return fmt.Errorf("hook: account tool call: %w", err)
	}
	if violated {
		if _, err := p.Audit.Log(ctx, audit.LogParams{
			EventType: model.EventBoundaryViolation,
			Action:    fmt.Sprintf("tool call limit exceeded (%d/%d)", newCount, p.resourceLimit(agentRec)),
			AgentID:   agentRec.ID,
			Severity:  model.SeverityWarning,
		}); err != nil {
			return fmt.Errorf("hook: log resource violation: %w", err)
		}
	}

	filesAffected := DeriveFilesAffected(payload.ToolName, payload.ToolInput)
	explicitViolation := false

	if IsWriteLikeTool(payload.ToolName) && p.strictModeFor(agentRec) {
		if err := p.enforceStrictMode(ctx, agentRec, filesAffected, &explicitViolation); err != nil {
			return fmt.Errorf("hook: enforce strict mode: %w", err)
		}
	}

	action := actionText(payload)
	severity := ClassifySeverity(filesAffected, action, explicitViolation)

	details := map[string]any{}
	if durationMs, ok := ExtractDurationMs(payload); ok {
		details["duration_ms"] = durationMs
		if p.Telemetry != nil {
			p.Telemetry.RecordToolDuration(ctx, durationMs/1000)
		}
	}

	if _, err := p.Audit.Log(ctx, audit.LogParams{
		EventType: model.EventToolUse,
		Action:    action,
		AgentID:   agentRec.ID,
		Details:   details,
		Files:     filesAffected,
		Severity:  severity,
	}); err != nil {
		return fmt.Errorf("hook: log tool_use event: %w", err)
	}

	if IsWriteLikeTool(payload.ToolName) {
		if err := p.annotateSensitiveFiles(ctx, agentRec, filesAffected); err != nil {
			return fmt.Errorf("hook: annotate sensitive files: %w", err)
		}
		if err := p.detectDependencyChanges(ctx, agentRec, filesAffected); err != nil {
			return fmt.Errorf("hook: detect dependency changes: %w", err)
		}
	}

	return nil
}

func actionText(p Payload) string {
	if v, ok := p.ToolInput["command"].(string); ok && v != "" {
		return fmt.Sprintf("%s: %s", p.ToolName, v)
	}
	return p.ToolName
}

// identifyAgent implements spec.md §4.7's agent identification.
func (p *Pipeline) identifyAgent(ctx context.Context, payload Payload) (model.Agent, error) {
	if payload.SessionID != "" {
		a, found, err := p.State.GetAgentByExternalSessionID(ctx, p.SessionID, payload.SessionID)
		if err != nil {
			return model.Agent{}, err
		}
		if found {
			return a, nil
		}
		assigned, found, err := p.State.AssignExternalSessionToNewestUnassigned(ctx, p.SessionID, payload.SessionID)
		if err != nil {
			return model.Agent{}, err
		}
		if found {
			return assigned, nil
		}
	}

	a, found, err := p.State.GetAgentByName(ctx, p.SessionID, primaryAgentName)
	if err != nil {
		return model.Agent{}, err
	}
	if found {
		return a, nil
	}
	return p.State.RegisterAgent(ctx, state.RegisterAgentParams{
		SessionID: p.SessionID,
		Name:      primaryAgentName,
		Role:      model.RoleLead,
	})
}

func (p *Pipeline) resourceLimit(a model.Agent) int {
	b, ok := p.Boundary.GetBoundaryForAgent(a.Name)
	if !ok {
		return 0
	}
	return b.MaxToolCallsPerSession
}

func (p *Pipeline) strictModeFor(a model.Agent) bool {
	b, ok := p.Boundary.GetBoundaryForAgent(a.Name)
	return ok && b.Enforcement == boundary.Strict
}

// accountToolCall increments the agent's tool_call_count and reports
// whether this exact call is the one that first exceeds the configured
// limit (new_count == limit+1).
func (p *Pipeline) accountToolCall(ctx context.Context, a model.Agent) (int64, bool, error) {
	newCount, err := p.State.IncrementToolCallCount(ctx, a.ID)
	if err != nil {
		return 0, false, err
	}
	b, ok := p.Boundary.GetBoundaryForAgent(a.Name)
	if !ok || b.MaxToolCallsPerSession <= 0 {
		return newCount, false, nil
	}
	return newCount, newCount == int64(b.MaxToolCallsPerSession)+1, nil
}

// enforceStrictMode implements spec.md §4.7's strict-mode enforcement.
func (p *Pipeline) enforceStrictMode(ctx context.Context, a model.Agent, filesAffected []string, explicitViolation *bool) error {
	for _, rel := range filesAffected {
		abs := rel
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(p.ProjectRoot, rel)
		}

		result, err := p.Boundary.CheckPathAllowed(abs, a.Name)
		if err != nil {
			return err
		}
		if result.Allowed {
			continue
		}

		*explicitViolation = true
		violationType := model.ViolationOutsideAllowed
		if strings.Contains(result.Reason, "forbidden pattern") {
			violationType = model.ViolationForbiddenPath
		}

		content, hadContent := boundary.RevertFile(abs, p.ProjectRoot)
		action := model.ActionReverted
		if !hadContent && !fileWasTracked(p.ProjectRoot, abs) {
			action = model.ActionRevertFailed
		}

		truncated := content
		if len(truncated) > violationDetailTruncateLen {
			truncated = truncated[:violationDetailTruncateLen]
		}

		if _, err := p.Boundary.RecordViolation(ctx, boundary.RecordViolationParams{
			FilePath:          rel,
			AgentID:           a.ID,
			ViolationType:     violationType,
			EnforcementAction: action,
			Details:           map[string]any{"reason": result.Reason, "original_content": truncated},
		}); err != nil {
			return err
		}

		if _, err := p.Audit.Log(ctx, audit.LogParams{
			EventType: model.EventBoundaryViolation,
			Action:    fmt.Sprintf("denied write to %s: %s", rel, result.Reason),
			AgentID:   a.ID,
			Files:     []string{rel},
			Severity:  model.SeverityCritical,
		}); err != nil {
			return err
		}
	}
	return nil
}

func fileWasTracked(projectRoot, abs string) bool {
	repo, err := vcs.Open(projectRoot)
	if err != nil {
		return false
	}
	rel, err := repo.RelPath(abs)
	if err != nil {
		return false
	}
	tracked, err := repo.IsTracked(rel)
	return err == nil && tracked
}

// annotateSensitiveFiles implements spec.md §4.7's sensitive-file
// annotation via configured review rule globs.
func (p *Pipeline) annotateSensitiveFiles(ctx context.Context, a model.Agent, filesAffected []string) error {
	for _, rel := range filesAffected {
		for _, rule := range MatchReviewRules(p.ReviewRules, rel) {
			if _, err := p.Audit.Log(ctx, audit.LogParams{
				EventType: model.EventGateTriggered,
				Action:    fmt.Sprintf("%s matches review rule %s", rel, rule.Name),
				AgentID:   a.ID,
				Files:     []string{rel},
				GateID:    rule.Name,
				Severity:  model.SeverityWarning,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectDependencyChanges implements spec.md §4.7's dependency-change
// detection for affected package.json files.
func (p *Pipeline) detectDependencyChanges(ctx context.Context, a model.Agent, filesAffected []string) error {
	for _, rel := range filesAffected {
		if filepath.Base(rel) != "package.json" {
			continue
		}

		abs := rel
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(p.ProjectRoot, rel)
		}

		repo, err := vcs.Open(p.ProjectRoot)
		if err != nil {
			continue
		}
		repoRel, err := repo.RelPath(abs)
		if err != nil {
			continue
		}
		before, _, err := repo.HeadCommittedContents(repoRel)
		if err != nil {
			continue
		}
		after, err := readCurrentContents(abs)
		if err != nil {
			continue
		}

		changes, ok := depdiff.Diff(before, after)
		if !ok {
			continue
		}
		for _, c := range changes {
			if err := p.logDependencyChange(ctx, a, rel, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) logDependencyChange(ctx context.Context, a model.Agent, rel string, c depdiff.Change) error {
	eventType := model.EventType(c.Type)
	action := dependencyActionText(c)
	details := map[string]any{"name": c.Name, "diff": c.Diff}
	if c.Before != "" {
		details["before"] = c.Before
	}
	if c.After != "" {
		details["after"] = c.After
	}
	if c.Bump != "" {
		details["bump"] = string(c.Bump)
	}
	_, err := p.Audit.Log(ctx, audit.LogParams{
		EventType: eventType,
		Action:    action,
		AgentID:   a.ID,
		Details:   details,
		Files:     []string{rel},
		Severity:  model.SeverityWarning,
	})
	return err
}

func dependencyActionText(c depdiff.Change) string {
	switch c.Type {
	case depdiff.Added:
		return fmt.Sprintf("%s(%s, %s)", c.Type, c.Name, c.After)
	case depdiff.Removed:
		return fmt.Sprintf("%s(%s, %s)", c.Type, c.Name, c.Before)
	default:
		return fmt.Sprintf("%s(%s, %s→%s)", c.Type, c.Name, c.Before, c.After)
	}
}
