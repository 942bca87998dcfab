package workspace

import (
	"context"
	"fmt"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// PROpener opens pull requests for finished protocol branches.
type PROpener struct {
	client *github.Client
	logger *logging.Logger
}

// NewPROpener builds a GitHub client from a personal access token.
func NewPROpener(ctx context.Context, token string, logger *logging.Logger) *PROpener {
	if logger == nil {
		logger = logging.NewNop()
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return &PROpener{
		client: github.NewClient(oauth2.NewClient(ctx, ts)),
		logger: logger,
	}
}

// Open creates a pull request from head into base and returns its URL.
func (p *PROpener) Open(ctx context.Context, owner, repo, head, base, title, body string) (string, error) {
	pr, _, err := p.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title: github.String(title),
		Head:  github.String(head),
		Base:  github.String(base),
		Body:  github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("create pull request %s/%s %s->%s: %w", owner, repo, head, base, err)
	}
	p.logger.Info(ctx, "opened pull request",
		zap.String("repo", owner+"/"+repo),
		zap.String("url", pr.GetHTMLURL()))
	return pr.GetHTMLURL(), nil
}
