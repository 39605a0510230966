// Package cli is the cobra-based command surface that invokes the core:
// session lifecycle transitions, the hidden hook entry point, and the
// read-only report/verify/doctor commands. Per spec.md §1, the interactive
// *workflow* of the CLI (approval prompts, packaging, installer-side agent
// settings) is out of scope — this package is the thin, ambient front door
// the teacher repo ships as `entire`.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var outputFormat string

// Execute builds and runs the root command. It is the sole entry point
// cmd/khoregos/main.go calls.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "khoregos",
		Short:         "Governance sidecar for AI-coding agent sessions",
		Long:          "khoregos audits, bounds, and locks the work an AI-coding agent does in a project.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text|json")

	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newVerifyCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newLockCmd())

	return cmd
}

// projectRootOrCwd returns the current working directory as the project
// root. It does not search for a live daemon.state; the only error it
// returns is a failure to read the working directory.
func projectRootOrCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return cwd, nil
}
