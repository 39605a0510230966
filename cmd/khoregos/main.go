// Command khoregos is the governance sidecar CLI: it manages a project's
// governed session lifecycle, runs as the hidden hook entry point invoked
// after every tool call, and exposes read-only report/verify/doctor
// surfaces over the resulting audit trail.
package main

import (
	"fmt"
	"os"

	"github.com/khoregos/khoregos/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
