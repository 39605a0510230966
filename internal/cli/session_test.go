package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
)

// withTempProject creates a temp directory, initializes a git repository in
// it (session start opportunistically records git context), chdirs into it
// for the duration of fn, and restores the original working directory
// afterward.
func withTempProject(t *testing.T, fn func(root string)) {
	t.Helper()
	root := t.TempDir()
	if _, err := git.PlainInit(root, false); err != nil {
		t.Fatal(err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(root); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	fn(root)
}

func execCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("khoregos %v: %v (output: %s)", args, err, out.String())
	}
	return out.String()
}

func TestSessionStartCreatesStateAndSigningKey(t *testing.T) {
	withTempProject(t, func(root string) {
		out := execCommand(t, "session", "start", "--objective", "add tests")

		if !bytes.Contains([]byte(out), []byte("session_id=")) {
			t.Fatalf("expected session_id in output, got %q", out)
		}
		if _, err := os.Stat(filepath.Join(root, ".khoregos", "signing.key")); err != nil {
			t.Fatalf("expected a signing key to be generated: %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, ".khoregos", "daemon.state")); err != nil {
			t.Fatalf("expected daemon.state to be written: %v", err)
		}
	})
}

func TestSessionStartRefusesWhenAlreadyLive(t *testing.T) {
	withTempProject(t, func(root string) {
		execCommand(t, "session", "start")

		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"session", "start"})
		if err := cmd.Execute(); err == nil {
			t.Fatal("expected second session start to fail while one is live")
		}
	})
}

func TestSessionLifecycleCompleteClearsDaemonState(t *testing.T) {
	withTempProject(t, func(root string) {
		execCommand(t, "session", "start", "--objective", "ship feature")
		execCommand(t, "session", "complete", "--summary", "done")

		if _, err := os.Stat(filepath.Join(root, ".khoregos", "daemon.state")); !os.IsNotExist(err) {
			t.Fatalf("expected daemon.state to be removed after complete, stat err=%v", err)
		}
	})
}

func TestSessionFailRequiresLiveSession(t *testing.T) {
	withTempProject(t, func(root string) {
		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"session", "fail", "--reason", "nothing to fail"})
		if err := cmd.Execute(); err == nil {
			t.Fatal("expected session fail without a live session to error")
		}
	})
}

func TestReportAndVerifyAfterSessionStart(t *testing.T) {
	withTempProject(t, func(root string) {
		execCommand(t, "session", "start", "--objective", "exercise report")

		reportOut := execCommand(t, "report")
		if !bytes.Contains([]byte(reportOut), []byte("total events:")) {
			t.Fatalf("expected report output to summarize events, got %q", reportOut)
		}

		verifyOut := execCommand(t, "verify")
		if !bytes.Contains([]byte(verifyOut), []byte("valid=true")) {
			t.Fatalf("expected a freshly started session's chain to verify, got %q", verifyOut)
		}
	})
}

func TestLockAcquireReleaseRoundTrip(t *testing.T) {
	withTempProject(t, func(root string) {
		execCommand(t, "session", "start")

		acquireOut := execCommand(t, "lock", "acquire", "src/x.ts", "--agent", "agent-1")
		if !bytes.Contains([]byte(acquireOut), []byte("ok")) {
			t.Fatalf("expected successful acquire, got %q", acquireOut)
		}

		cmd := newRootCmd()
		var out bytes.Buffer
		cmd.SetOut(&out)
		cmd.SetErr(&out)
		cmd.SetArgs([]string{"lock", "acquire", "src/x.ts", "--agent", "agent-2"})
		_ = cmd.Execute()
		if !bytes.Contains(out.Bytes(), []byte("denied")) {
			t.Fatalf("expected cross-agent acquire to be denied, got %q", out.String())
		}

		releaseOut := execCommand(t, "lock", "release", "src/x.ts", "--agent", "agent-1")
		if !bytes.Contains([]byte(releaseOut), []byte("ok")) {
			t.Fatalf("expected release by the owning agent to succeed, got %q", releaseOut)
		}
	})
}
