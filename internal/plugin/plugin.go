// Package plugin implements the optional out-of-tree extension surface: a
// small fixed set of hook points and best-effort invocation that never lets
// a plugin failure touch audit persistence. The Manager works on plugins
// handed to it already resolved; the package does not read the plugin list
// from configuration or load a module from Spec.Module. Plugin hooks are never invoked from short-lived hook
// subprocesses — only from long-lived lifecycle processes (spec.md §4.9).
package plugin

import (
	"context"
	"log/slog"

	"github.com/khoregos/khoregos/internal/logging"
	"github.com/khoregos/khoregos/internal/model"
)

// Spec is one configured plugin: a loadable module path plus its config.
type Spec struct {
	Module string
	Config map[string]any
}

// Hooks is the set of callbacks a plugin may implement. Every field is
// optional; a nil field is simply not invoked.
type Hooks struct {
	OnSessionStart      func(ctx context.Context, session model.Session) error
	OnSessionStop       func(ctx context.Context, session model.Session) error
	OnAuditEvent        func(ctx context.Context, event model.AuditEvent) error
	OnToolUse           func(ctx context.Context, event model.AuditEvent) error
	OnGateTrigger       func(ctx context.Context, event model.AuditEvent) error
	OnBoundaryViolation func(ctx context.Context, violation model.BoundaryViolation) error
}

// Plugin pairs a Spec with its resolved Hooks.
type Plugin struct {
	Spec  Spec
	Hooks Hooks
}

// Manager fans a hook point out to every registered plugin, catching and
// logging any failure instead of propagating it.
type Manager struct {
	plugins []Plugin
}

// NewManager constructs a Manager from already-resolved plugins (loading a
// plugin module from its Spec.Module path is an installer/packaging
// concern outside the core, per spec.md §1).
func NewManager(plugins []Plugin) *Manager {
	return &Manager{plugins: plugins}
}

func (m *Manager) ctx() context.Context {
	return logging.WithComponent(context.Background(), "plugin")
}

func (m *Manager) invoke(name string, fn func(p Plugin) error) {
	if m == nil {
		return
	}
	for _, p := range m.plugins {
		if err := safeCall(fn, p); err != nil {
			logging.Warn(m.ctx(), "plugin hook failed",
				slog.String("hook", name), slog.String("module", p.Spec.Module), slog.String("error", err.Error()))
		}
	}
}

// safeCall recovers a panicking plugin hook in addition to catching its
// returned error, since a best-effort extension point must not be able to
// crash the governing process.
func safeCall(fn func(p Plugin) error, p Plugin) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{r}
		}
	}()
	return fn(p)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "plugin panicked" }

// OnSessionStart invokes every plugin's OnSessionStart hook.
func (m *Manager) OnSessionStart(ctx context.Context, session model.Session) {
	m.invoke("on_session_start", func(p Plugin) error {
		if p.Hooks.OnSessionStart == nil {
			return nil
		}
		return p.Hooks.OnSessionStart(ctx, session)
	})
}

// OnSessionStop invokes every plugin's OnSessionStop hook.
func (m *Manager) OnSessionStop(ctx context.Context, session model.Session) {
	m.invoke("on_session_stop", func(p Plugin) error {
		if p.Hooks.OnSessionStop == nil {
			return nil
		}
		return p.Hooks.OnSessionStop(ctx, session)
	})
}

// OnAuditEvent invokes every plugin's OnAuditEvent hook.
func (m *Manager) OnAuditEvent(ctx context.Context, event model.AuditEvent) {
	m.invoke("on_audit_event", func(p Plugin) error {
		if p.Hooks.OnAuditEvent == nil {
			return nil
		}
		return p.Hooks.OnAuditEvent(ctx, event)
	})
}

// OnToolUse invokes every plugin's OnToolUse hook.
func (m *Manager) OnToolUse(ctx context.Context, event model.AuditEvent) {
	m.invoke("on_tool_use", func(p Plugin) error {
		if p.Hooks.OnToolUse == nil {
			return nil
		}
		return p.Hooks.OnToolUse(ctx, event)
	})
}

// OnGateTrigger invokes every plugin's OnGateTrigger hook.
func (m *Manager) OnGateTrigger(ctx context.Context, event model.AuditEvent) {
	m.invoke("on_gate_trigger", func(p Plugin) error {
		if p.Hooks.OnGateTrigger == nil {
			return nil
		}
		return p.Hooks.OnGateTrigger(ctx, event)
	})
}

// OnBoundaryViolation invokes every plugin's OnBoundaryViolation hook.
func (m *Manager) OnBoundaryViolation(ctx context.Context, violation model.BoundaryViolation) {
	m.invoke("on_boundary_violation", func(p Plugin) error {
		if p.Hooks.OnBoundaryViolation == nil {
			return nil
		}
		return p.Hooks.OnBoundaryViolation(ctx, violation)
	})
}
