package qa

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/protocold/internal/domain"
)

// Verdict is an overall or per-gate QA outcome.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictWarn  Verdict = "warn"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
	VerdictSkip  Verdict = "skip"
)

// Passable reports whether the verdict lets the step proceed.
func (v Verdict) Passable() bool {
	return v == VerdictPass || v == VerdictWarn || v == VerdictSkip
}

// GateContext carries everything a gate may inspect.
type GateContext struct {
	Project *domain.Project
	Run     *domain.ProtocolRun
	Step    *domain.StepRun

	WorktreePath string
	// ChangedFiles are paths relative to the worktree touched by the step.
	ChangedFiles []string

	Policy          map[string]any
	EnforcementMode string
}

// GateResult is one gate's outcome.
type GateResult struct {
	Gate    string   `json:"gate"`
	Verdict Verdict  `json:"verdict"`
	Details []string `json:"details,omitempty"`
}

// Gate inspects a step's output.
type Gate interface {
	Name() string
	Run(ctx context.Context, gc GateContext) GateResult
}

// Result is the aggregate of one QA pass over a step.
type Result struct {
	Verdict Verdict      `json:"verdict"`
	Gates   []GateResult `json:"gates,omitempty"`
}

// Registry holds the enabled gates in execution order.
type Registry struct {
	mu    sync.RWMutex
	gates []Gate
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a gate.
func (r *Registry) Register(g Gate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gates = append(r.gates, g)
}

// Run executes every gate and aggregates their verdicts. A gate panic or
// missing registry is not possible here; gates report errors through
// their verdict.
func (r *Registry) Run(ctx context.Context, gc GateContext) Result {
	r.mu.RLock()
	gates := make([]Gate, len(r.gates))
	copy(gates, r.gates)
	r.mu.RUnlock()

	results := make([]GateResult, 0, len(gates))
	for _, g := range gates {
		results = append(results, g.Run(ctx, gc))
	}
	return Result{Verdict: Aggregate(results), Gates: results}
}

// Aggregate folds gate results into an overall verdict: any fail or error
// fails the step, otherwise any warning downgrades to warn, and no gates
// at all means QA was skipped.
func Aggregate(results []GateResult) Verdict {
	if len(results) == 0 {
		return VerdictSkip
	}
	verdict := VerdictPass
	for _, r := range results {
		switch r.Verdict {
		case VerdictFail, VerdictError:
			return VerdictFail
		case VerdictWarn:
			verdict = VerdictWarn
		}
	}
	return verdict
}
