package workspace

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

func newTestManager() *Manager {
	return NewManager(NewRetryer(2, time.Millisecond, 5*time.Minute, logging.NewNop()), logging.NewNop())
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return dir
}

func TestCommitAll(t *testing.T) {
	dir := initRepo(t)
	m := newTestManager()
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0o644))

	hash, err := m.CommitAll(ctx, dir, "add main")
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	// A clean tree is a structural no-op.
	_, err = m.CommitAll(ctx, dir, "empty")
	assert.ErrorIs(t, err, ErrNothingToCommit)
}

func TestCurrentBranch(t *testing.T) {
	dir := initRepo(t)
	m := newTestManager()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	_, err := m.CommitAll(context.Background(), dir, "init")
	require.NoError(t, err)

	branch, err := m.CurrentBranch(dir)
	require.NoError(t, err)
	assert.Equal(t, "master", branch)

	_, err = m.CurrentBranch(t.TempDir())
	assert.Error(t, err)
}
