// Package executor dispatches step work to an execution backend.
//
// The engine treats execution as fire-and-report: Dispatch hands a step
// to a backend and returns a handle, and the executing side reports the
// result back through the orchestrator's callback surface. The temporal
// backend is the production path; the local backend runs steps in-process
// for tests and single-node setups.
package executor

import "context"

// StepInput is everything a backend needs to execute one step.
type StepInput struct {
	ProtocolRunID int64  `json:"protocol_run_id"`
	StepRunID     int64  `json:"step_run_id"`
	StepName      string `json:"step_name"`
	StepType      string `json:"step_type"`

	WorktreePath string `json:"worktree_path"`
	EngineID     string `json:"engine_id"`
	Model        string `json:"model"`
	Prompt       string `json:"prompt"`

	// Attempt is the step's retry counter at dispatch time.
	Attempt int `json:"attempt"`

	// InlineDepth counts synchronous completion-triggered dispatches, used
	// to bound inline trigger chains.
	InlineDepth int `json:"inline_depth"`
}

// StepOutput is what an executed step reports back.
type StepOutput struct {
	StepRunID    int64    `json:"step_run_id"`
	Success      bool     `json:"success"`
	Summary      string   `json:"summary"`
	ChangedFiles []string `json:"changed_files,omitempty"`
}

// Backend dispatches steps for execution.
type Backend interface {
	// Dispatch starts executing the step and returns an opaque handle.
	Dispatch(ctx context.Context, input StepInput) (string, error)
	// Cancel best-effort stops a previously dispatched step.
	Cancel(ctx context.Context, handle string) error
	// Close releases backend resources.
	Close()
}
