package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// ErrNothingToCommit is returned by CommitAll when the worktree is clean.
// Callers treat it as a no-op, not a failure.
var ErrNothingToCommit = errors.New("nothing to commit")

// Manager creates and tears down protocol worktrees.
type Manager struct {
	retryer *Retryer
	logger  *logging.Logger
}

// NewManager builds a Manager. All mutating git operations run through the
// retryer.
func NewManager(retryer *Retryer, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{retryer: retryer, logger: logger}
}

// EnsureWorktree makes sure a worktree for branch exists at worktreePath,
// creating branch from baseBranch if needed. Re-running against an existing
// worktree is a no-op.
func (m *Manager) EnsureWorktree(ctx context.Context, repoRoot, worktreePath, branch, baseBranch string) error {
	if _, err := git.PlainOpen(worktreePath); err == nil {
		return nil
	}
	return m.retryer.Do(ctx, repoRoot, func() error {
		return runGit(ctx, repoRoot, "worktree", "add", "-B", branch, worktreePath, baseBranch)
	})
}

// RemoveWorktree detaches and deletes the worktree. A missing worktree is
// not an error.
func (m *Manager) RemoveWorktree(ctx context.Context, repoRoot, worktreePath string) error {
	if _, err := os.Stat(worktreePath); os.IsNotExist(err) {
		return nil
	}
	err := m.retryer.Do(ctx, repoRoot, func() error {
		return runGit(ctx, repoRoot, "worktree", "remove", "--force", worktreePath)
	})
	if err != nil {
		return err
	}
	return runGit(ctx, repoRoot, "worktree", "prune")
}

// CurrentBranch returns the branch checked out at path, or "" for a
// detached HEAD.
func (m *Manager) CurrentBranch(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open repository %s: %w", path, err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD of %s: %w", path, err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "", nil
}

// CommitAll stages everything in the worktree and commits. The clean-tree
// case is detected structurally from status, never by parsing git output,
// and reported as ErrNothingToCommit.
func (m *Manager) CommitAll(ctx context.Context, worktreePath, message string) (string, error) {
	var hash string
	err := m.retryer.Do(ctx, worktreePath, func() error {
		repo, err := git.PlainOpen(worktreePath)
		if err != nil {
			return fmt.Errorf("open worktree %s: %w", worktreePath, err)
		}
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("resolve worktree: %w", err)
		}
		status, err := wt.Status()
		if err != nil {
			return fmt.Errorf("worktree status: %w", err)
		}
		if status.IsClean() {
			return ErrNothingToCommit
		}
		if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
			return fmt.Errorf("stage changes: %w", err)
		}
		commit, err := wt.Commit(message, &git.CommitOptions{
			Author: &object.Signature{
				Name:  "protocold",
				Email: "protocold@localhost",
				When:  time.Now(),
			},
		})
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		hash = commit.String()
		return nil
	})
	if err != nil {
		return "", err
	}
	m.logger.Info(ctx, "committed worktree changes",
		zap.String("worktree", worktreePath),
		zap.String("commit", hash))
	return hash, nil
}

// Push publishes branch to origin.
func (m *Manager) Push(ctx context.Context, worktreePath, branch string) error {
	return m.retryer.Do(ctx, worktreePath, func() error {
		return runGit(ctx, worktreePath, "push", "-u", "origin", branch)
	})
}

// runGit executes git with its stderr folded into the returned error so
// lock detection sees the real message.
func runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
