package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/khoregos/khoregos/internal/lock"
	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/store"
)

// newLockCmd exposes FileLockManager directly to an agent that wants to
// claim exclusive ownership of a path outside the normal tool-call flow —
// e.g. before a long-running multi-file refactor another agent shouldn't
// touch concurrently.
func newLockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, release, and inspect file locks for the active session",
	}
	cmd.AddCommand(newLockAcquireCmd())
	cmd.AddCommand(newLockReleaseCmd())
	cmd.AddCommand(newLockListCmd())
	return cmd
}

func newLockAcquireCmd() *cobra.Command {
	var agentID string
	var duration int
	cmd := &cobra.Command{
		Use:   "acquire <path>",
		Short: "Acquire (or extend) an exclusive lock on a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLockManager(cmd, func(ctx context.Context, mgr *lock.Manager) error {
				result, err := mgr.Acquire(ctx, args[0], agentID, duration)
				if err != nil {
					return fmt.Errorf("lock acquire: %w", err)
				}
				if outputFormat == "json" {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(result)
				}
				return writeOutcome(cmd, result.Success, result.Reason)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID requesting the lock")
	cmd.Flags().IntVar(&duration, "duration", 300, "Lock TTL in seconds")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newLockReleaseCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "release <path>",
		Short: "Release a lock held by the given agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLockManager(cmd, func(ctx context.Context, mgr *lock.Manager) error {
				result, err := mgr.Release(ctx, args[0], agentID)
				if err != nil {
					return fmt.Errorf("lock release: %w", err)
				}
				return writeOutcome(cmd, result.Success, result.Reason)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Agent ID releasing the lock")
	cmd.MarkFlagRequired("agent")
	return cmd
}

func newLockListCmd() *cobra.Command {
	var agentID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List currently live locks, optionally filtered to one agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withLockManager(cmd, func(ctx context.Context, mgr *lock.Manager) error {
				locks, err := mgr.ListLocks(ctx, agentID)
				if err != nil {
					return fmt.Errorf("lock list: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(locks)
			})
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "Restrict to locks held by this agent")
	return cmd
}

func withLockManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *lock.Manager) error) error {
	root, err := projectRootOrCwd()
	if err != nil {
		return err
	}
	sessionID, ok := paths.ReadDaemonState(root)
	if !ok {
		return fmt.Errorf("lock: no live session in %s", root)
	}

	st, err := store.Open(paths.DatabasePath(root))
	if err != nil {
		return fmt.Errorf("lock: open store: %w", err)
	}
	defer st.Close()

	return fn(context.Background(), lock.New(st, sessionID))
}

func writeOutcome(cmd *cobra.Command, success bool, reason string) error {
	if outputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"success": success, "reason": reason})
	}
	if success {
		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "denied: %s\n", reason)
	return nil
}
