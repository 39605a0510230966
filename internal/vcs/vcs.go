// Package vcs wraps the go-git operations the core needs: reading a file's
// last committed contents (the HEAD side of the package.json dependency
// diff, which package depdiff computes), restoring a tracked file to HEAD,
// and reading branch, commit and dirty state. It is grounded directly
// on the teacher corpus's git-backed state snapshot/diff logic (go-git/v5's
// Worktree/Head/CommitObject/Tree/File surface), generalized from "per-task
// checkpoint diffing" to "boundary revert" and "dependency-change
// detection".
package vcs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNoRepository is returned (and should be handled "fail open" by
// callers) when projectRoot is not inside a git working tree.
var ErrNoRepository = errors.New("vcs: not a git repository")

// Repo is a thin handle over a discovered repository and its root.
type Repo struct {
	repo *git.Repository
	root string
}

// Open discovers the repository containing projectRoot. Returns
// ErrNoRepository (never a lower-level go-git error) when none is found, so
// every caller can treat "no VCS" as a single, simple case.
func Open(projectRoot string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(projectRoot, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, ErrNoRepository
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, ErrNoRepository
	}
	return &Repo{repo: repo, root: wt.Filesystem.Root()}, nil
}

// HeadCommittedContents returns the contents of relPath (relative to the
// repository root) as of HEAD. Returns (nil, false, nil) if the file has no
// committed version (never tracked, or deleted since).
func (r *Repo) HeadCommittedContents(relPath string) ([]byte, bool, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, false, fmt.Errorf("vcs: resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, false, fmt.Errorf("vcs: load HEAD commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, false, fmt.Errorf("vcs: load HEAD tree: %w", err)
	}
	file, err := tree.File(relPath)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("vcs: load tree file %s: %w", relPath, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, false, fmt.Errorf("vcs: open tree file %s: %w", relPath, err)
	}
	defer reader.Close()
	contents, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("vcs: read tree file %s: %w", relPath, err)
	}
	return contents, true, nil
}

// IsTracked reports whether relPath has an entry in HEAD's tree; a file
// committed earlier and deleted since reports false.
func (r *Repo) IsTracked(relPath string) (bool, error) {
	_, ok, err := r.HeadCommittedContents(relPath)
	return ok, err
}

// RestoreToHead checks out relPath from HEAD into the working tree,
// discarding any uncommitted modification — the go-git equivalent of
// `git checkout HEAD -- <path>`.
func (r *Repo) RestoreToHead(relPath string) error {
	wt, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("vcs: load worktree: %w", err)
	}
	head, err := r.repo.Head()
	if err != nil {
		return fmt.Errorf("vcs: resolve HEAD: %w", err)
	}
	return wt.Checkout(&git.CheckoutOptions{
		Branch: head.Name(),
		Force:  true,
		Paths:  []string{relPath},
	})
}

// Root returns the git worktree root.
func (r *Repo) Root() string { return r.root }

// Branch returns HEAD's short branch name, or "" when HEAD is detached.
func (r *Repo) Branch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("vcs: resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", nil
	}
	return head.Name().Short(), nil
}

// CommitSHA returns HEAD's full commit hash, hex-encoded.
func (r *Repo) CommitSHA() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("vcs: resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// IsDirty reports whether the worktree has any uncommitted modification
// (staged or not), used to populate Session.GitDirty on session start.
func (r *Repo) IsDirty() (bool, error) {
	wt, err := r.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("vcs: load worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("vcs: status: %w", err)
	}
	return !status.IsClean(), nil
}

// RelPath converts an absolute path into one relative to the repository
// root, using POSIX separators.
func (r *Repo) RelPath(absPath string) (string, error) {
	rel, err := filepath.Rel(r.root, absPath)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}
