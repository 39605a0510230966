package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/khoregos/khoregos/internal/model"
	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/signing"
	"github.com/khoregos/khoregos/internal/state"
	"github.com/khoregos/khoregos/internal/store"
)

func newVerifyCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the HMAC audit chain of a session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			return runVerify(cmd, root, sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session to verify (defaults to the most recent)")
	return cmd
}

func runVerify(cmd *cobra.Command, root, sessionID string) error {
	key, err := signing.LoadKey(filepath.Join(root, paths.StateDir))
	if err != nil {
		return fmt.Errorf("verify: load signing key: %w", err)
	}
	if key == nil {
		return fmt.Errorf("verify: no signing key found in %s", root)
	}

	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return fmt.Errorf("verify: open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	mgr := state.New(st)

	if sessionID == "" {
		session, found, err := mgr.GetLatestSession(ctx)
		if err != nil {
			return fmt.Errorf("verify: find latest session: %w", err)
		}
		if !found {
			return fmt.Errorf("verify: no sessions recorded in %s", root)
		}
		sessionID = session.ID
	}

	eventRows, err := st.FetchAll(ctx,
		`SELECT * FROM audit_events WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return fmt.Errorf("verify: fetch events: %w", err)
	}
	events := make([]model.AuditEvent, 0, len(eventRows))
	for _, row := range eventRows {
		e, err := model.AuditEventFromRow(row)
		if err != nil {
			return fmt.Errorf("verify: decode event: %w", err)
		}
		events = append(events, e)
	}

	result := signing.VerifyChain(key, sessionID, events)

	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "session %s: checked %d events, valid=%v\n", sessionID, result.EventsChecked, result.Valid)
	for _, e := range result.Errors {
		fmt.Fprintf(out, "  sequence %d: %s\n", e.Sequence, e.Kind)
	}
	if !result.Valid {
		return fmt.Errorf("verify: chain is broken for session %s", sessionID)
	}
	return nil
}
