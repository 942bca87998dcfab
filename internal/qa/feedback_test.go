package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

type fakeRedispatcher struct {
	enqueued []int64
}

func (f *fakeRedispatcher) EnqueueStep(_ context.Context, step *domain.StepRun) error {
	f.enqueued = append(f.enqueued, step.ID)
	return nil
}

func setupFeedback(t *testing.T, budget int) (*FeedbackLoop, *fakeRedispatcher, store.Store, *domain.StepRun) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()

	project := &domain.Project{Name: "widget"}
	require.NoError(t, st.CreateProject(ctx, project))
	run := &domain.ProtocolRun{ProjectID: project.ID, ProtocolName: "feature_dev"}
	require.NoError(t, st.CreateProtocolRun(ctx, run))
	require.NoError(t, st.SetProtocolStatus(ctx, run.ID, domain.ProtocolRunning))

	step := &domain.StepRun{ProtocolRunID: run.ID, StepName: "build", Status: domain.StepNeedsQA}
	require.NoError(t, st.CreateStepRun(ctx, step))

	rd := &fakeRedispatcher{}
	loop := NewFeedbackLoop(st, rd, events.Noop{}, logging.NewNop(), budget)
	return loop, rd, st, step
}

func TestHandleVerdictPassCompletesStep(t *testing.T) {
	loop, rd, st, step := setupFeedback(t, 3)
	ctx := context.Background()

	outcome, err := loop.HandleVerdict(ctx, step, Result{Verdict: VerdictPass})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Empty(t, rd.enqueued)

	got, err := st.GetStepRun(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, got.Status)
	assert.Contains(t, got.RuntimeState, "qa_verdict")
}

func TestHandleVerdictWarnStillCompletes(t *testing.T) {
	loop, _, st, step := setupFeedback(t, 3)
	ctx := context.Background()

	outcome, err := loop.HandleVerdict(ctx, step, Result{Verdict: VerdictWarn})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	got, err := st.GetStepRun(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepCompleted, got.Status)
}

func TestHandleVerdictFailRetriesWithinBudget(t *testing.T) {
	loop, rd, st, step := setupFeedback(t, 3)
	ctx := context.Background()

	failure := Result{
		Verdict: VerdictFail,
		Gates:   []GateResult{{Gate: "ci", Verdict: VerdictFail, Details: []string{"test assertion failed"}}},
	}

	outcome, err := loop.HandleVerdict(ctx, step, failure)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)
	assert.Equal(t, []int64{step.ID}, rd.enqueued)

	got, err := st.GetStepRun(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, got.Status)
	assert.Equal(t, 1, got.Retries)
}

func TestHandleVerdictSpentBudgetEscalates(t *testing.T) {
	loop, rd, st, step := setupFeedback(t, 3)
	ctx := context.Background()

	failure := Result{
		Verdict: VerdictFail,
		Gates:   []GateResult{{Gate: "ci", Verdict: VerdictFail, Details: []string{"test assertion failed"}}},
	}

	// The first two failures re-dispatch; the budget of three attempts
	// still has room for one more.
	for i := 0; i < 2; i++ {
		outcome, err := loop.HandleVerdict(ctx, step, failure)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRetried, outcome)
	}
	assert.Equal(t, 2, step.Retries)
	got, err := st.GetStepRun(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepPending, got.Status)

	// The third failure spends the budget and escalates.
	outcome, err := loop.HandleVerdict(ctx, step, failure)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEscalated, outcome)
	assert.Len(t, rd.enqueued, 2)

	got, err = st.GetStepRun(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepFailed, got.Status)

	run, err := st.GetProtocolRun(ctx, step.ProtocolRunID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolBlocked, run.Status)

	recs, err := st.ListFeedbackRecords(ctx, step.ProtocolRunID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, CategoryTest, recs[0].ErrorCategory)
	assert.Equal(t, domain.ActionRetry, recs[0].Action)
	assert.Equal(t, 3, recs[0].Attempt)
	assert.Equal(t, 2, got.Retries)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		message string
		want    string
	}{
		{"syntax error: unexpected token", CategorySyntax},
		{"golangci-lint found issues", CategoryLint},
		{"file is not gofmt-ed", CategoryFormat},
		{"undefined: frobnicate", CategoryTypeCheck},
		{"TestFoo assertion failed", CategoryTest},
		{"hardcoded credential detected", CategorySecurity},
		{"something else entirely", CategoryOther},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.message), tt.message)
	}
}

func TestEscalationAction(t *testing.T) {
	assert.Equal(t, domain.ActionRePlan, EscalationAction(CategoryLogic))
	assert.Equal(t, domain.ActionClarify, EscalationAction(CategoryOther))
	assert.Equal(t, domain.ActionClarify, EscalationAction(CategorySecurity))
	assert.Equal(t, domain.ActionRetry, EscalationAction(CategoryTest))
	assert.Equal(t, domain.ActionRetry, EscalationAction(CategoryLint))
}
