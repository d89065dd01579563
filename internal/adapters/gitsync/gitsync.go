package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Syncer keeps a working tree in step with a remote branch.
type Syncer struct {
	dir      string
	remote   string
	branch   string
	progress io.Writer
}

// NewSyncer creates a syncer for the repository at dir. An empty remote pulls from origin.
func NewSyncer(dir, remote, branch string, progress io.Writer) *Syncer {
	if branch == "" {
		branch = "main"
	}
	return &Syncer{dir: dir, remote: remote, branch: branch, progress: progress}
}

// Sync pulls the branch and returns the HEAD commit. When dir is not yet a repository
// and a remote is configured, the remote is cloned into it.
func (s *Syncer) Sync(ctx context.Context) (string, error) {
	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) && s.remote != "" {
		repo, err = git.PlainCloneContext(ctx, s.dir, false, &git.CloneOptions{
			URL:           s.remote,
			ReferenceName: plumbing.NewBranchReferenceName(s.branch),
			SingleBranch:  true,
			Progress:      s.progress,
		})
		if err != nil {
			return "", fmt.Errorf("failed to clone %s: %w", s.remote, err)
		}
		return headCommit(repo)
	}
	if err != nil {
		return "", fmt.Errorf("failed to open repo %s: %w", s.dir, err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to open worktree: %w", err)
	}

	err = wt.PullContext(ctx, &git.PullOptions{
		RemoteName:    git.DefaultRemoteName,
		RemoteURL:     s.remote,
		ReferenceName: plumbing.NewBranchReferenceName(s.branch),
		SingleBranch:  true,
		Progress:      s.progress,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return "", fmt.Errorf("failed to pull %s: %w", s.branch, err)
	}

	return headCommit(repo)
}

// Clone makes a shallow single-branch clone of url into dir.
func Clone(ctx context.Context, url, branch, dir string, progress io.Writer) error {
	opts := &git.CloneOptions{
		URL:      url,
		Progress: progress,
		Depth:    1, // Shallow clone for speed
	}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	if _, err := git.PlainCloneContext(ctx, dir, false, opts); err != nil {
		return fmt.Errorf("failed to clone repo: %w", err)
	}
	return nil
}

func headCommit(repo *git.Repository) (string, error) {
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}
