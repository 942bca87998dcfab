// Package workspace manages per-protocol git worktrees.
//
// Concurrent steps of one protocol share a repository, so git-level lock
// contention (index.lock) is expected during normal operation. The Retryer
// absorbs it with exponential backoff and reclaims locks abandoned by
// crashed processes; only exhausted retries surface as a LockError.
package workspace
