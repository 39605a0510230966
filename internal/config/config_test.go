package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/khoregos/khoregos/internal/webhook"
)

func TestLoadDefaultsWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()
	s, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled {
		t.Fatal("expected default Enabled=true")
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := &Settings{
		Enabled:  true,
		LogLevel: "debug",
		Boundaries: []BoundarySettings{
			{Pattern: "*", ForbiddenPaths: []string{".env*"}, Enforcement: "strict"},
		},
	}
	if err := Save(dir, s); err != nil {
		t.Fatal(err)
	}
	if !IsSetUp(dir) {
		t.Fatal("expected IsSetUp to be true after Save")
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.LogLevel != "debug" || len(got.Boundaries) != 1 || got.Boundaries[0].Pattern != "*" {
		t.Fatalf("got %+v", got)
	}
}

func TestLocalSettingsOverrideBaseSettings(t *testing.T) {
	dir := t.TempDir()
	if err := Save(dir, &Settings{Enabled: true, LogLevel: "info"}); err != nil {
		t.Fatal(err)
	}
	if err := saveToFile(absPath(dir, LocalSettingsFile), &Settings{Enabled: true, LogLevel: "debug"}); err != nil {
		t.Fatal(err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.LogLevel != "debug" {
		t.Fatalf("expected local override to win, got %q", got.LogLevel)
	}
}

func TestRedactedHidesWebhookSecrets(t *testing.T) {
	s := &Settings{
		Enabled:  true,
		Webhooks: []webhook.Target{{URL: "https://example.com/hook", Secret: "top-secret"}},
	}
	m, err := Redacted(s)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	data := string(raw)
	if strings.Contains(data, "top-secret") {
		t.Fatalf("expected secret to be redacted: %s", data)
	}
	if !strings.Contains(data, "[redacted]") {
		t.Fatalf("expected redaction placeholder: %s", data)
	}
}
