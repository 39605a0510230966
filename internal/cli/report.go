package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/report"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/state"
	"github.com/khoregos/khoregos/internal/store"
)

func newReportCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a structured report of a session's governed activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			return runReport(cmd, root, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to report on (defaults to the most recent)")
	return cmd
}

func runReport(cmd *cobra.Command, root, sessionID string) error {
	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return fmt.Errorf("report: open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	mgr := state.New(st)

	if sessionID == "" {
		session, found, err := mgr.GetLatestSession(ctx)
		if err != nil {
			return fmt.Errorf("report: find latest session: %w", err)
		}
		if !found {
			return fmt.Errorf("report: no sessions recorded in %s", root)
		}
		sessionID = session.ID
	}

	var key []byte
	if k, err := signing.LoadKey(filepath.Join(root, paths.StateDir)); err == nil {
		key = k
	}

	r, err := report.Generate(ctx, st, sessionID, key)
	if err != nil {
		return fmt.Errorf("report: generate: %w", err)
	}

	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s (%s)\n", r.Session.ID, r.Session.State)
	fmt.Fprintf(out, "  objective: %s\n", r.Session.Objective)
	fmt.Fprintf(out, "  agents: %d\n", len(r.Agents))
	fmt.Fprintf(out, "  total events: %d\n", r.TotalEvents)
	for eventType, count := range r.EventCounts {
		fmt.Fprintf(out, "    %s: %d\n", eventType, count)
	}
	fmt.Fprintf(out, "  violations: %d\n", len(r.Violations))
	fmt.Fprintf(out, "  active locks: %d\n", len(r.ActiveLocks))
	if r.Chain != nil {
		fmt.Fprintf(out, "  chain: valid=%v checked=%d errors=%d\n", r.Chain.Valid, r.Chain.EventsChecked, len(r.Chain.Errors))
	}
	return nil
}
