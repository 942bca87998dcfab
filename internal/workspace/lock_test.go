package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

var errIndexLock = errors.New("fatal: Unable to create '/repo/.git/index.lock': File exists")

func TestIsLockError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"index lock", errIndexLock, true},
		{"another process", errors.New("Another git process seems to be running in this repository"), true},
		{"could not lock", errors.New("error: could not lock config file"), true},
		{"unrelated", errors.New("fatal: pathspec 'nope' did not match any files"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLockError(tt.err))
		})
	}
}

func newTestRetryer(maxRetries int) (*Retryer, *[]time.Duration) {
	r := NewRetryer(maxRetries, 100*time.Millisecond, 5*time.Minute, logging.NewNop())
	var sleeps []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return r, &sleeps
}

func TestDoSucceedsAfterContention(t *testing.T) {
	r, sleeps := newTestRetryer(5)

	calls := 0
	err := r.Do(context.Background(), t.TempDir(), func() error {
		calls++
		if calls < 3 {
			return errIndexLock
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Backoff doubles per failed attempt.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *sleeps)
}

func TestDoExhaustsRetries(t *testing.T) {
	r, sleeps := newTestRetryer(5)

	calls := 0
	err := r.Do(context.Background(), "/repo", func() error {
		calls++
		return errIndexLock
	})
	require.Error(t, err)

	var le *LockError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 6, le.Attempts)
	assert.Equal(t, 6, calls)
	assert.Len(t, *sleeps, 5)
	assert.ErrorIs(t, err, errIndexLock)
}

func TestDoPropagatesNonLockErrors(t *testing.T) {
	r, sleeps := newTestRetryer(5)

	boom := errors.New("fatal: not a git repository")
	calls := 0
	err := r.Do(context.Background(), "/repo", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestDoRespectsContextCancel(t *testing.T) {
	r, _ := newTestRetryer(5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, "/repo", func() error { return errIndexLock })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReclaimStaleLock(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(repo, ".git"), 0o755))
	lockPath := filepath.Join(repo, ".git", "index.lock")
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))

	r, _ := newTestRetryer(0)

	// Fresh lock stays.
	r.reclaimStaleLock(context.Background(), repo)
	_, err := os.Stat(lockPath)
	assert.NoError(t, err)

	// Old lock is removed.
	r.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	r.reclaimStaleLock(context.Background(), repo)
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err))
}
