// Package analytics sends a single best-effort anonymous "command invoked"
// ping when a project's settings opt in. It is entirely independent of the
// audit/webhook pipeline described elsewhere in this module — it never
// reads an AuditEvent, a file path, or a tool input, and is never invoked
// from a short-lived hook process (the same long-lived-process constraint
// internal/plugin and internal/telemetry's real exporters carry).
package analytics

import (
	"context"
	"log/slog"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/posthog/posthog-go"

	"github.com/khoregos/khoregos/internal/logging"
)

// appID salts the machine id so the distinct id is specific to khoregos and
// cannot be correlated with other tools' usage of the same machine.
const appID = "khoregos"

// apiKey is the write-only PostHog project key. Public by design: PostHog
// ingest keys are meant to ship in client binaries.
const apiKey = "phc_khoregos_placeholder"

var (
	mu           sync.Mutex
	client       posthog.Client
	distinctOnce sync.Once
	distinctID   string
)

func resolveDistinctID() string {
	distinctOnce.Do(func() {
		id, err := machineid.ProtectedID(appID)
		if err != nil || id == "" {
			id = "unknown"
		}
		distinctID = id
	})
	return distinctID
}

// Ping fires one best-effort "command invoked" event tagged with the
// command name. enabled gates the call entirely — when false, Ping does
// nothing and opens no connection. Failures are logged and swallowed,
// never returned: analytics delivery must never affect a command's exit
// status.
func Ping(command string, enabled bool) {
	if !enabled {
		return
	}

	mu.Lock()
	if client == nil {
		c, err := posthog.NewWithConfig(apiKey, posthog.Config{})
		if err != nil {
			mu.Unlock()
			logging.Warn(context.Background(), "analytics: client init failed", slog.String("error", err.Error()))
			return
		}
		client = c
	}
	c := client
	mu.Unlock()

	err := c.Enqueue(posthog.Capture{
		DistinctId: resolveDistinctID(),
		Event:      "command_invoked",
		Properties: posthog.NewProperties().Set("command", command),
	})
	if err != nil {
		logging.Warn(context.Background(), "analytics: enqueue failed", slog.String("error", err.Error()))
	}
}

// Close releases the underlying PostHog client, flushing any queued event.
// Safe to call when Ping was never invoked.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if client != nil {
		_ = client.Close()
		client = nil
	}
}
