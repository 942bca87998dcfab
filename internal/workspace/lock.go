package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// lockIndicators are the stderr fragments git emits when another process
// holds a repository lock. Matching is case-insensitive.
var lockIndicators = []string{
	"index.lock",
	"unable to create",
	"another git process seems to be running",
	"lock file exists",
	"could not lock",
}

// IsLockError reports whether err looks like git lock contention.
func IsLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, ind := range lockIndicators {
		if strings.Contains(msg, ind) {
			return true
		}
	}
	return false
}

// LockError is returned when an operation stayed lock-blocked through every
// retry.
type LockError struct {
	RepoRoot string
	Attempts int
	Err      error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("git lock held in %s after %d attempts: %v", e.RepoRoot, e.Attempts, e.Err)
}

func (e *LockError) Unwrap() error { return e.Err }

// Retryer wraps git operations with lock-aware retries.
type Retryer struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is doubled on each consecutive lock failure.
	BaseDelay time.Duration
	// StaleAge is the minimum index.lock age before it is reclaimed.
	StaleAge time.Duration

	logger *logging.Logger

	// test hooks
	sleep func(context.Context, time.Duration) error
	now   func() time.Time
}

// NewRetryer builds a Retryer with the given bounds.
func NewRetryer(maxRetries int, baseDelay, staleAge time.Duration, logger *logging.Logger) *Retryer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Retryer{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		StaleAge:   staleAge,
		logger:     logger,
		sleep:      sleepCtx,
		now:        time.Now,
	}
}

// Do runs op, retrying on git lock contention with exponential backoff.
//
// op runs at most MaxRetries+1 times. Before each retry a stale
// .git/index.lock under repoRoot is reclaimed. Errors that are not lock
// contention propagate unchanged on the first occurrence; exhausting the
// budget yields a *LockError wrapping the last failure.
func (r *Retryer) Do(ctx context.Context, repoRoot string, op func() error) error {
	var lastErr error
	attempts := r.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if !IsLockError(err) {
			return err
		}
		lastErr = err

		r.logger.Warn(ctx, "git lock contention",
			zap.String("repo", repoRoot),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if attempt == attempts-1 {
			break
		}
		r.reclaimStaleLock(ctx, repoRoot)
		delay := r.BaseDelay * (1 << attempt)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &LockError{RepoRoot: repoRoot, Attempts: attempts, Err: lastErr}
}

// reclaimStaleLock deletes .git/index.lock when it is old enough to belong
// to a dead process. A fresh lock is left alone.
func (r *Retryer) reclaimStaleLock(ctx context.Context, repoRoot string) {
	lockPath := filepath.Join(repoRoot, ".git", "index.lock")
	info, err := os.Stat(lockPath)
	if err != nil {
		return
	}
	age := r.now().Sub(info.ModTime())
	if age < r.StaleAge {
		return
	}
	if err := os.Remove(lockPath); err != nil {
		r.logger.Warn(ctx, "failed to remove stale index.lock",
			zap.String("path", lockPath), zap.Error(err))
		return
	}
	r.logger.Info(ctx, "removed stale index.lock",
		zap.String("path", lockPath),
		zap.Duration("age", age))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
