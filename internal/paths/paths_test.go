package paths

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveProjectRootFindsCwd(t *testing.T) {
	root := t.TempDir()
	if err := WriteDaemonState(root, "s1"); err != nil {
		t.Fatal(err)
	}

	got, ok := ResolveProjectRoot(root)
	if !ok || got != root {
		t.Fatalf("got %q ok=%v, want %q", got, ok, root)
	}
}

func TestResolveProjectRootFindsAncestor(t *testing.T) {
	root := t.TempDir()
	if err := WriteDaemonState(root, "s1"); err != nil {
		t.Fatal(err)
	}
	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok := ResolveProjectRoot(sub)
	if !ok || got != root {
		t.Fatalf("got %q ok=%v, want %q", got, ok, root)
	}
}

func TestResolveProjectRootFindsChild(t *testing.T) {
	cwd := t.TempDir()
	child := filepath.Join(cwd, "nested")
	if err := os.MkdirAll(child, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := WriteDaemonState(child, "s2"); err != nil {
		t.Fatal(err)
	}

	got, ok := ResolveProjectRoot(cwd)
	if !ok || got != child {
		t.Fatalf("got %q ok=%v, want %q", got, ok, child)
	}
}

func TestResolveProjectRootNoneRunning(t *testing.T) {
	cwd := t.TempDir()
	_, ok := ResolveProjectRoot(cwd)
	if ok {
		t.Fatal("expected no project root to resolve")
	}
}

func TestWriteDaemonStateRefusesWhenAlreadyPresent(t *testing.T) {
	root := t.TempDir()
	if err := WriteDaemonState(root, "first"); err != nil {
		t.Fatal(err)
	}
	err := WriteDaemonState(root, "second")
	if !errors.Is(err, ErrDaemonStateExists) {
		t.Fatalf("expected ErrDaemonStateExists, got %v", err)
	}
	sessionID, ok := ReadDaemonState(root)
	if !ok {
		t.Fatal("expected daemon state to be readable")
	}
	if sessionID != "first" {
		t.Fatalf("expected first write to survive the refused second write, got %q", sessionID)
	}
}

func TestRemoveDaemonStateIsIdempotent(t *testing.T) {
	root := t.TempDir()
	if err := RemoveDaemonState(root); err != nil {
		t.Fatal(err)
	}
	if err := WriteDaemonState(root, "s1"); err != nil {
		t.Fatal(err)
	}
	if err := RemoveDaemonState(root); err != nil {
		t.Fatal(err)
	}
	if IsDaemonStateLive(root) {
		t.Fatal("expected daemon state to be gone")
	}
}

func TestReadDaemonStateMissingIsNotOK(t *testing.T) {
	root := t.TempDir()
	if _, ok := ReadDaemonState(root); ok {
		t.Fatal("expected no daemon state to be readable")
	}
}
