package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func initRepoWithFile(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatal(err)
	}
	_, err = wt.Commit("initial commit", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Unix(0, 0)},
	})
	if err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestOpenReturnsErrNoRepositoryOutsideGit(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir)
	if err != ErrNoRepository {
		t.Fatalf("expected ErrNoRepository, got %v", err)
	}
}

func TestHeadCommittedContents(t *testing.T) {
	dir := initRepoWithFile(t, "package.json", `{"a":1}`)
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	contents, ok, err := r.HeadCommittedContents("package.json")
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if string(contents) != `{"a":1}` {
		t.Fatalf("got %q", contents)
	}
}

func TestHeadCommittedContentsNeverTracked(t *testing.T) {
	dir := initRepoWithFile(t, "package.json", `{}`)
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	_, ok, err := r.HeadCommittedContents("never-committed.env")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected not-found for never-committed file")
	}
}

func TestRestoreToHeadDiscardsUncommittedEdit(t *testing.T) {
	dir := initRepoWithFile(t, ".env", "ORIGINAL=1")
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("TAMPERED=1"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.RestoreToHead(".env"); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ORIGINAL=1" {
		t.Fatalf("expected restore to HEAD, got %q", got)
	}
}

func TestBranchAndCommitSHA(t *testing.T) {
	dir := initRepoWithFile(t, "a.txt", "x")
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	branch, err := r.Branch()
	if err != nil {
		t.Fatal(err)
	}
	if branch == "" {
		t.Fatal("expected a non-empty branch name on a fresh PlainInit repo")
	}
	sha, err := r.CommitSHA()
	if err != nil {
		t.Fatal(err)
	}
	if len(sha) != 40 {
		t.Fatalf("expected a 40-character hex SHA, got %q", sha)
	}
}

func TestIsDirty(t *testing.T) {
	dir := initRepoWithFile(t, "a.txt", "x")
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	clean, err := r.IsDirty()
	if err != nil {
		t.Fatal(err)
	}
	if clean {
		t.Fatal("expected a freshly committed worktree to be clean")
	}

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	dirty, err := r.IsDirty()
	if err != nil {
		t.Fatal(err)
	}
	if !dirty {
		t.Fatal("expected the worktree to be dirty after an uncommitted edit")
	}
}

func TestRelPath(t *testing.T) {
	dir := initRepoWithFile(t, "a.txt", "x")
	r, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	rel, err := r.RelPath(filepath.Join(dir, "sub", "file.ts"))
	if err != nil {
		t.Fatal(err)
	}
	if rel != "sub/file.ts" {
		t.Fatalf("got %q", rel)
	}
}
