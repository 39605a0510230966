package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/khoregos/khoregos/internal/audit"
	"github.com/khoregos/khoregos/internal/boundary"
	"github.com/khoregos/khoregos/internal/config"
	"github.com/khoregos/khoregos/internal/hook"
	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/state"
	"github.com/khoregos/khoregos/internal/store"
	"github.com/khoregos/khoregos/internal/telemetry"
	"github.com/khoregos/khoregos/internal/webhook"
)

// newHooksCmd builds the hidden "hooks" command group. These subcommands
// are invoked by the coding agent's own hook runner, not typed by a human,
// so they are hidden from --help.
func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook entry points invoked by the governed agent session",
		Hidden: true,
	}
	cmd.AddCommand(newHooksPostToolUseCmd())
	return cmd
}

func newHooksPostToolUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "post-tool-use",
		Short:  "Process one tool-call payload from stdin",
		Hidden: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			runPostToolUse(cmd)
			return nil
		},
	}
}

// runPostToolUse implements spec.md §4.7/§6's hook contract: read one JSON
// payload from stdin and run it through the pipeline. Every failure mode
// short of an unrecoverable initialization error is swallowed so the
// process always exits 0 — a non-zero exit from a hook subprocess would
// surface as a spurious tool-call failure to the governed agent.
func runPostToolUse(cmd *cobra.Command) {
	payload, ok := hook.ReadPayload(cmd.InOrStdin())
	if !ok {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	root, found := paths.ResolveProjectRoot(cwd)
	if !found {
		return
	}
	sessionID, ok := paths.ReadDaemonState(root)
	if !ok {
		return
	}

	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return
	}
	defer st.Close()

	settings, err := config.Load(root)
	if err != nil {
		return
	}
	if !settings.Enabled {
		return
	}

	key, err := signing.LoadKey(filepath.Join(root, paths.StateDir))
	if err != nil {
		return
	}

	boundaries := make([]boundary.Boundary, len(settings.Boundaries))
	for i, b := range settings.Boundaries {
		boundaries[i] = b.ToBoundary()
	}

	telemetryFacade, err := telemetry.New()
	if err != nil {
		telemetryFacade = nil
	}

	mgr := state.New(st)
	session, found, err := mgr.GetSession(context.Background(), sessionID)
	if err != nil || !found {
		return
	}

	logger := audit.New(st, sessionID,
		audit.WithSigningKey(key),
		audit.WithTraceID(session.TraceID),
		audit.WithTelemetry(telemetryFacade),
		audit.WithWebhook(webhook.New(settings.Webhooks)),
	)

	pipeline := &hook.Pipeline{
		State:       mgr,
		Audit:       logger,
		Boundary:    boundary.New(st, sessionID, root, boundaries),
		Telemetry:   telemetryFacade,
		SessionID:   sessionID,
		ProjectRoot: root,
		ReviewRules: reviewRulesFromSettings(settings),
	}

	_ = pipeline.Run(context.Background(), payload)
}

// reviewRulesFromSettings always returns no rules: Settings has no
// review-rule section, so the pipeline never matches a path against a
// review rule and logs no gate_triggered annotation.
func reviewRulesFromSettings(_ *config.Settings) []hook.ReviewRule {
	return nil
}
