package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/khoregos/khoregos/internal/analytics"
	"github.com/khoregos/khoregos/internal/audit"
	"github.com/khoregos/khoregos/internal/config"
	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/state"
	"github.com/khoregos/khoregos/internal/store"
	"github.com/khoregos/khoregos/internal/telemetry"
	"github.com/khoregos/khoregos/internal/vcs"
	"github.com/khoregos/khoregos/internal/webhook"
)

// Version is the khoregos build version, surfaced on Session.K6sVersion.
// Overridden at build time via -ldflags "-X ...cli.Version=...".
var Version = "dev"

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage the project's governed session lifecycle",
	}
	cmd.AddCommand(newSessionStartCmd())
	cmd.AddCommand(newSessionPauseCmd())
	cmd.AddCommand(newSessionCompleteCmd())
	cmd.AddCommand(newSessionFailCmd())
	return cmd
}

func newSessionStartCmd() *cobra.Command {
	var objective string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new governed session in the current project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			return runSessionStart(cmd, root, objective)
		},
	}
	cmd.Flags().StringVar(&objective, "objective", "", "Free-text description of the session's goal")
	return cmd
}

func runSessionStart(cmd *cobra.Command, root, objective string) error {
	if paths.IsDaemonStateLive(root) {
		return fmt.Errorf("session start: a session is already live in %s", root)
	}

	stateDir := root + string(os.PathSeparator) + paths.StateDir
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return fmt.Errorf("session start: create state dir: %w", err)
	}
	if _, err := signing.GenerateKey(stateDir); err != nil {
		return fmt.Errorf("session start: generate signing key: %w", err)
	}

	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return fmt.Errorf("session start: open store: %w", err)
	}
	defer st.Close()

	settings, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("session start: load settings: %w", err)
	}
	snapshot, err := config.Redacted(settings)
	if err != nil {
		return fmt.Errorf("session start: redact settings: %w", err)
	}

	ctx := context.Background()
	mgr := state.New(st)
	session, err := mgr.CreateSession(ctx, state.CreateSessionParams{Objective: objective, ConfigSnapshot: snapshot})
	if err != nil {
		return fmt.Errorf("session start: create session: %w", err)
	}

	session.K6sVersion = Version
	if hostname, err := os.Hostname(); err == nil {
		session.Hostname = hostname
	}
	if repo, err := vcs.Open(root); err == nil {
		if branch, err := repo.Branch(); err == nil {
			session.GitBranch = branch
		}
		if sha, err := repo.CommitSHA(); err == nil {
			session.GitSHA = sha
		}
		if dirty, err := repo.IsDirty(); err == nil {
			session.GitDirty = dirty
		}
	}
	if err := mgr.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("session start: update session metadata: %w", err)
	}
	if err := mgr.MarkActive(ctx, session.ID); err != nil {
		return fmt.Errorf("session start: mark active: %w", err)
	}
	session.State = model.SessionActive

	if err := paths.WriteDaemonState(root, session.ID); err != nil {
		return fmt.Errorf("session start: write daemon state: %w", err)
	}

	key, err := signing.LoadKey(stateDir)
	if err != nil {
		return fmt.Errorf("session start: load signing key: %w", err)
	}

	logger := newSessionLogger(st, session.ID, key, session.TraceID, settings)
	if _, err := logger.Log(ctx, audit.LogParams{
		EventType: model.EventSessionStart,
		Action:    "start",
		Details:   map[string]any{"objective": objective},
	}); err != nil {
		return fmt.Errorf("session start: log audit event: %w", err)
	}

	analytics.Ping("session_start", telemetryEnabled(settings))

	return writeResult(cmd, map[string]any{"session_id": session.ID, "trace_id": session.TraceID, "state": string(session.State)})
}

func newSessionPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause the active session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			return withActiveSession(cmd, root, func(ctx context.Context, mgr *state.Manager, logger *audit.Logger, s model.Session) error {
				if err := mgr.MarkPaused(ctx, s.ID); err != nil {
					return err
				}
				_, err := logger.Log(ctx, audit.LogParams{EventType: model.EventSessionPause, Action: "pause"})
				return err
			})
		},
	}
}

func newSessionCompleteCmd() *cobra.Command {
	var summary string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Mark the active session completed and clear the daemon state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			if err := withActiveSession(cmd, root, func(ctx context.Context, mgr *state.Manager, logger *audit.Logger, s model.Session) error {
				if err := mgr.MarkCompleted(ctx, s.ID, model.SessionCompleted, summary); err != nil {
					return err
				}
				_, err := logger.Log(ctx, audit.LogParams{
					EventType: model.EventSessionComplete,
					Action:    "complete",
					Details:   map[string]any{"summary": summary},
				})
				return err
			}); err != nil {
				return err
			}
			return paths.RemoveDaemonState(root)
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "Final context summary recorded on the session")
	return cmd
}

func newSessionFailCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "fail",
		Short: "Mark the active session failed and clear the daemon state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			if err := withActiveSession(cmd, root, func(ctx context.Context, mgr *state.Manager, logger *audit.Logger, s model.Session) error {
				if err := mgr.MarkCompleted(ctx, s.ID, model.SessionFailed, reason); err != nil {
					return err
				}
				_, err := logger.Log(ctx, audit.LogParams{
					EventType: model.EventSessionFail,
					Action:    "fail",
					Details:   map[string]any{"reason": reason},
					Severity:  model.SeverityCritical,
				})
				return err
			}); err != nil {
				return err
			}
			return paths.RemoveDaemonState(root)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason the session is being marked failed")
	return cmd
}

// withActiveSession opens the project's store, resolves the live session
// recorded in daemon.state, and runs fn inside it, writing its result as the
// command's output.
func withActiveSession(cmd *cobra.Command, root string, fn func(ctx context.Context, mgr *state.Manager, logger *audit.Logger, s model.Session) error) error {
	sessionID, ok := paths.ReadDaemonState(root)
	if !ok {
		return fmt.Errorf("no live session in %s", root)
	}

	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	mgr := state.New(st)
	ctx := context.Background()
	session, found, err := mgr.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	if !found {
		return fmt.Errorf("session %s not found", sessionID)
	}

	key, err := signing.LoadKey(root + string(os.PathSeparator) + paths.StateDir)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	settings, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	logger := newSessionLogger(st, session.ID, key, session.TraceID, settings)

	if err := fn(ctx, mgr, logger, session); err != nil {
		return err
	}
	return writeResult(cmd, map[string]any{"session_id": session.ID})
}

// newSessionLogger constructs the audit.Logger used by every lifecycle
// command, wired with the project's signing key and the webhook/telemetry
// fan-out configured in settings. It does not call audit.WithPlugins: no
// plugin-loading mechanism exists yet (spec.md §1 leaves installer-side
// plugin configuration out of scope), so plugin fan-out is implemented and
// unit-tested in the audit package but not exercised by any production
// lifecycle or hook-subprocess wiring.
func newSessionLogger(st *store.Store, sessionID string, key []byte, traceID string, settings *config.Settings) *audit.Logger {
	opts := []audit.Option{
		audit.WithSigningKey(key),
		audit.WithTraceID(traceID),
		audit.WithWebhook(webhook.New(settings.Webhooks)),
	}
	if facade, err := telemetry.New(); err == nil {
		opts = append(opts, audit.WithTelemetry(facade))
	}
	return audit.New(st, sessionID, opts...)
}

func telemetryEnabled(s *config.Settings) bool {
	return s.Telemetry != nil && *s.Telemetry
}

// writeResult prints result either as a one-line text summary or, with
// --output json, as indented JSON.
func writeResult(cmd *cobra.Command, result map[string]any) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	for _, k := range []string{"session_id", "trace_id", "state"} {
		if v, ok := result[k]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s=%v ", k, v)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
