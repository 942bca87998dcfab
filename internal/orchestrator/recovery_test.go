package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
)

func (e *testEnv) seedRunningRun(t *testing.T, statuses ...domain.StepStatus) *domain.ProtocolRun {
	t.Helper()
	ctx := context.Background()
	run := e.seedRun(t, nil)
	require.NoError(t, e.store.SetProtocolStatus(ctx, run.ID, domain.ProtocolRunning))
	var prev int64
	for i, status := range statuses {
		step := &domain.StepRun{
			ProtocolRunID: run.ID,
			StepIndex:     i,
			StepName:      string(rune('a' + i)),
			Status:        status,
		}
		if prev != 0 {
			step.DependsOn = []int64{prev}
		}
		require.NoError(t, e.store.CreateStepRun(ctx, step))
		prev = step.ID
	}
	return run
}

func TestRecoveryCompletesTerminalRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRunningRun(t, domain.StepCompleted, domain.StepCompleted)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolCompleted, got.Status)
	assert.Contains(t, env.pub.types(), events.ProtocolRecovered)
}

func TestRecoveryBlocksRunWithFailedStep(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRunningRun(t, domain.StepFailed, domain.StepPending)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolBlocked, got.Status)
}

func TestRecoveryRedispatchesRunnableSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRunningRun(t, domain.StepCompleted, domain.StepPending)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	steps, err := env.store.ListStepRuns(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StepRunning, steps[1].Status)
	require.Len(t, env.backend.inputs(), 1)
}

func TestRecoveryLeavesInFlightStepsAlone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRunningRun(t, domain.StepRunning)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolRunning, got.Status)
	assert.Empty(t, env.backend.inputs())
}

func TestRecoveryBlocksWhenNothingCanRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRunningRun(t, domain.StepCancelled, domain.StepPending)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolBlocked, got.Status)
	assert.Empty(t, env.backend.inputs())
}

func TestRecoveryIgnoresRunsWithoutSteps(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.seedRunningRun(t)

	n, err := env.disp.RecoverStuckProtocols(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRecoveryHonorsLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	env.seedRunningRun(t, domain.StepCompleted)
	env.seedRunningRun(t, domain.StepCompleted)

	n, err := env.disp.RecoverStuckProtocols(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
