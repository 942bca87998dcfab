package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// RunPublisher commits and pushes a finished run's worktree and opens a
// pull request against the project's base branch.
type RunPublisher struct {
	manager *Manager
	pr      *PROpener
	logger  *logging.Logger
}

// NewRunPublisher wires a publisher. pr may be nil, in which case the
// branch is pushed without opening a pull request.
func NewRunPublisher(manager *Manager, pr *PROpener, logger *logging.Logger) *RunPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RunPublisher{manager: manager, pr: pr, logger: logger}
}

// Publish commits outstanding changes, pushes the run branch, and opens a
// pull request. Returns the pull request URL, or "" when no PR was opened.
func (p *RunPublisher) Publish(ctx context.Context, project *domain.Project, run *domain.ProtocolRun) (string, error) {
	if run.WorktreePath == "" {
		return "", nil
	}

	message := fmt.Sprintf("%s: protocol run %d", run.ProtocolName, run.ID)
	if _, err := p.manager.CommitAll(ctx, run.WorktreePath, message); err != nil {
		if !errors.Is(err, ErrNothingToCommit) {
			return "", fmt.Errorf("commit run %d: %w", run.ID, err)
		}
		p.logger.Debug(ctx, "worktree clean, nothing to commit")
	}

	branch, err := p.manager.CurrentBranch(run.WorktreePath)
	if err != nil {
		return "", fmt.Errorf("resolve branch for run %d: %w", run.ID, err)
	}
	if err := p.manager.Push(ctx, run.WorktreePath, branch); err != nil {
		return "", fmt.Errorf("push run %d: %w", run.ID, err)
	}

	if p.pr == nil {
		return "", nil
	}
	owner, repo, ok := ParseGitHubURL(project.GitURL)
	if !ok {
		p.logger.Warn(ctx, "git url is not a github repository, skipping pull request",
			zap.String("git_url", project.GitURL))
		return "", nil
	}
	base := run.BaseBranch
	if base == "" {
		base = project.BaseBranch
	}
	title := fmt.Sprintf("%s (protocol run %d)", run.ProtocolName, run.ID)
	return p.pr.Open(ctx, owner, repo, branch, base, title, run.Description)
}

// ParseGitHubURL extracts owner and repository from an HTTPS or SSH
// GitHub remote URL.
func ParseGitHubURL(gitURL string) (owner, repo string, ok bool) {
	s := strings.TrimSuffix(gitURL, ".git")
	switch {
	case strings.HasPrefix(s, "https://github.com/"):
		s = strings.TrimPrefix(s, "https://github.com/")
	case strings.HasPrefix(s, "git@github.com:"):
		s = strings.TrimPrefix(s, "git@github.com:")
	default:
		return "", "", false
	}
	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
