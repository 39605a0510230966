package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/khoregos/khoregos/internal/config"
	"github.com/khoregos/khoregos/internal/paths"
	"github.com/khoregos/khoregos/internal/signing"
)

// check is one read-only health finding.
type check struct {
	name   string
	ok     bool
	detail string
}

func newDoctorCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report on the health of the project's khoregos state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := projectRootOrCwd()
			if err != nil {
				return err
			}
			return runDoctor(cmd, root, force)
		},
	}
	cmd.Flags().BoolVar(&force, "yes", false, "Skip the confirmation prompt before clearing a stale daemon state")
	return cmd
}

func runDoctor(cmd *cobra.Command, root string, force bool) error {
	stateDir := filepath.Join(root, paths.StateDir)
	checks := []check{checkStateDirExists(stateDir)}

	signingOK, signingDetail := checkSigningKey(stateDir)
	checks = append(checks, check{name: "signing key", ok: signingOK, detail: signingDetail})

	settingsOK, settingsDetail := checkSettings(root)
	checks = append(checks, check{name: "settings", ok: settingsOK, detail: settingsDetail})

	stale, sessionID := staleDaemonState(root)
	if stale {
		checks = append(checks, check{
			name:   "daemon state",
			ok:     false,
			detail: fmt.Sprintf("daemon.state references session %s but no database record confirms it is live", sessionID),
		})
	} else {
		checks = append(checks, check{name: "daemon state", ok: true, detail: "no live session, or the live session matches recorded state"})
	}

	out := cmd.OutOrStdout()
	allOK := true
	for _, c := range checks {
		status := "ok"
		if !c.ok {
			status = "FAIL"
			allOK = false
		}
		fmt.Fprintf(out, "[%s] %s: %s\n", status, c.name, c.detail)
	}

	if stale {
		if err := confirmClearStaleState(force); err != nil {
			return err
		}
		if err := paths.RemoveDaemonState(root); err != nil {
			return fmt.Errorf("doctor: clear stale daemon state: %w", err)
		}
		fmt.Fprintln(out, "cleared stale daemon.state")
	}

	if !allOK && !stale {
		return fmt.Errorf("doctor: one or more checks failed")
	}
	return nil
}

func checkStateDirExists(stateDir string) check {
	if _, err := os.Stat(stateDir); err != nil {
		return check{name: ".khoregos", ok: false, detail: "directory does not exist; run `khoregos session start`"}
	}
	return check{name: ".khoregos", ok: true, detail: stateDir}
}

func checkSigningKey(stateDir string) (bool, string) {
	key, err := signing.LoadKey(stateDir)
	if err != nil {
		return false, err.Error()
	}
	if key == nil {
		return false, "no signing key present"
	}
	return true, "present"
}

func checkSettings(root string) (bool, string) {
	if !config.IsSetUp(root) {
		return true, "not configured; using defaults"
	}
	if _, err := config.Load(root); err != nil {
		return false, err.Error()
	}
	return true, "loaded"
}

// staleDaemonState reports whether root has a daemon.state file recording a
// session ID with no corresponding database, a condition that can only
// arise from a crashed lifecycle process.
func staleDaemonState(root string) (bool, string) {
	sessionID, ok := paths.ReadDaemonState(root)
	if !ok {
		return false, ""
	}
	if _, err := os.Stat(paths.DatabasePath(root)); os.IsNotExist(err) {
		return true, sessionID
	}
	return false, sessionID
}

// confirmClearStaleState is the one destructive action doctor can take:
// clearing a daemon.state file left behind by a session that crashed
// before calling `session complete`/`session fail`. --yes skips the
// interactive huh.Confirm prompt.
func confirmClearStaleState(force bool) error {
	if force {
		return nil
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("doctor: stale daemon state found but stdin is not a terminal; rerun with --yes")
	}
	confirmed := false
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Clear stale daemon.state?").
				Description("No running session matches it; leaving it in place will block `session start`.").
				Affirmative("Yes").
				Negative("No").
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("doctor: confirmation prompt: %w", err)
	}
	if !confirmed {
		return fmt.Errorf("doctor: declined to clear stale daemon state")
	}
	return nil
}
