package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/logging"
)

func TestParseGitHubURL(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
		ok    bool
	}{
		{"https://github.com/acme/api.git", "acme", "api", true},
		{"https://github.com/acme/api", "acme", "api", true},
		{"git@github.com:acme/api.git", "acme", "api", true},
		{"https://gitlab.com/acme/api.git", "", "", false},
		{"https://github.com/acme", "", "", false},
		{"", "", "", false},
	}
	for _, tt := range tests {
		owner, repo, ok := ParseGitHubURL(tt.url)
		assert.Equal(t, tt.ok, ok, tt.url)
		assert.Equal(t, tt.owner, owner, tt.url)
		assert.Equal(t, tt.repo, repo, tt.url)
	}
}

func TestPublishCommitsWorktree(t *testing.T) {
	dir := initRepo(t)
	manager := newTestManager()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.go"), []byte("package feature\n"), 0o644))

	pub := NewRunPublisher(manager, nil, logging.NewNop())

	// Push fails without a remote; committing is the part under test.
	_, err := pub.Publish(context.Background(), &domain.Project{GitURL: "https://github.com/acme/api.git"},
		&domain.ProtocolRun{ID: 1, ProtocolName: "feature", WorktreePath: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "push")

	// The commit itself landed before the push attempt.
	_, err = manager.CommitAll(context.Background(), dir, "again")
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestPublishSkipsRunsWithoutWorktree(t *testing.T) {
	pub := NewRunPublisher(newTestManager(), nil, nil)
	url, err := pub.Publish(context.Background(), &domain.Project{}, &domain.ProtocolRun{})
	require.NoError(t, err)
	assert.Empty(t, url)
}
