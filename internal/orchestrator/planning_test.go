package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/executor"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

// fakeBackend records dispatches without executing anything, leaving the
// test in control of when results arrive.
type fakeBackend struct {
	mu          sync.Mutex
	dispatched  []executor.StepInput
	cancelled   []string
	dispatchErr error
}

func (b *fakeBackend) Dispatch(_ context.Context, input executor.StepInput) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.dispatchErr != nil {
		return "", b.dispatchErr
	}
	b.dispatched = append(b.dispatched, input)
	return fmt.Sprintf("job-%d", input.StepRunID), nil
}

func (b *fakeBackend) Cancel(_ context.Context, handle string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, handle)
	return nil
}

func (b *fakeBackend) Close() {}

func (b *fakeBackend) inputs() []executor.StepInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]executor.StepInput, len(b.dispatched))
	copy(out, b.dispatched)
	return out
}

// capturePublisher collects published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *capturePublisher) Publish(_ context.Context, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *capturePublisher) Close() {}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}

type testEnv struct {
	store   *store.MemoryStore
	backend *fakeBackend
	pub     *capturePublisher
	disp    *Dispatcher
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		store:   store.NewMemory(),
		backend: &fakeBackend{},
		pub:     &capturePublisher{},
	}
	opts.Store = env.store
	opts.Backend = env.backend
	opts.Events = env.pub
	opts.Logger = logging.NewTestLogger().Logger
	env.disp = New(opts)
	return env
}

func (e *testEnv) seedRun(t *testing.T, cfg map[string]any) *domain.ProtocolRun {
	t.Helper()
	ctx := context.Background()
	project := &domain.Project{
		Name:       "api",
		GitURL:     "https://example.com/api.git",
		BaseBranch: "main",
	}
	require.NoError(t, e.store.CreateProject(ctx, project))
	run := &domain.ProtocolRun{
		ProjectID:      project.ID,
		ProtocolName:   "feature",
		Status:         domain.ProtocolPending,
		BaseBranch:     "main",
		TemplateConfig: cfg,
	}
	require.NoError(t, e.store.CreateProtocolRun(ctx, run))
	return run
}

func diamondConfig() map[string]any {
	return map[string]any{
		"steps": []any{
			map[string]any{"id": "analyze", "type": "analysis"},
			map[string]any{"id": "impl-a", "type": "code", "depends_on": []any{"analyze"}},
			map[string]any{"id": "impl-b", "type": "code", "depends_on": []any{"analyze"}},
			map[string]any{"id": "review", "type": "review", "depends_on": []any{"impl-a", "impl-b"}},
		},
	}
}

func TestStepSpecsFromTemplate(t *testing.T) {
	t.Run("bare names", func(t *testing.T) {
		specs, err := StepSpecsFromTemplate(map[string]any{"steps": []any{"plan", "build"}})
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, "plan", specs[0].ID)
		assert.Equal(t, "plan", specs[0].Name)
	})

	t.Run("name defaults id", func(t *testing.T) {
		specs, err := StepSpecsFromTemplate(map[string]any{"steps": []any{
			map[string]any{"name": "build", "agent": "coder", "model": "large"},
		}})
		require.NoError(t, err)
		assert.Equal(t, "build", specs[0].ID)
		assert.Equal(t, "coder", specs[0].Agent)
		assert.Equal(t, "large", specs[0].Model)
	})

	t.Run("missing steps", func(t *testing.T) {
		_, err := StepSpecsFromTemplate(map[string]any{})
		assert.Error(t, err)
	})

	t.Run("anonymous step", func(t *testing.T) {
		_, err := StepSpecsFromTemplate(map[string]any{"steps": []any{map[string]any{"type": "code"}}})
		assert.Error(t, err)
	})

	t.Run("non-string dependency", func(t *testing.T) {
		_, err := StepSpecsFromTemplate(map[string]any{"steps": []any{
			map[string]any{"id": "a", "depends_on": []any{7}},
		}})
		assert.Error(t, err)
	})

	t.Run("unsupported entry", func(t *testing.T) {
		_, err := StepSpecsFromTemplate(map[string]any{"steps": []any{42}})
		assert.Error(t, err)
	})
}

func TestPlanMaterializesLevels(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRun(t, diamondConfig())

	require.NoError(t, env.disp.Plan(ctx, run.ID))

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolPlanned, got.Status)

	steps, err := env.store.ListStepRuns(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, steps, 4)

	byName := make(map[string]*domain.StepRun, len(steps))
	for i, step := range steps {
		assert.Equal(t, i, step.StepIndex)
		assert.Equal(t, domain.StepPending, step.Status)
		byName[step.StepName] = step
	}

	// Root and final levels have one member each, so no parallel group.
	assert.Empty(t, byName["analyze"].ParallelGroup)
	assert.Equal(t, "level-1", byName["impl-a"].ParallelGroup)
	assert.Equal(t, "level-1", byName["impl-b"].ParallelGroup)
	assert.Empty(t, byName["review"].ParallelGroup)

	assert.Empty(t, byName["analyze"].DependsOn)
	assert.Equal(t, []int64{byName["analyze"].ID}, byName["impl-a"].DependsOn)
	assert.ElementsMatch(t,
		[]int64{byName["impl-a"].ID, byName["impl-b"].ID},
		byName["review"].DependsOn)

	assert.Contains(t, env.pub.types(), events.ProtocolPlanned)
}

func TestPlanCycleBlocksRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRun(t, map[string]any{"steps": []any{
		map[string]any{"id": "a", "depends_on": []any{"b"}},
		map[string]any{"id": "b", "depends_on": []any{"a"}},
	}})

	err := env.disp.Plan(ctx, run.ID)
	require.Error(t, err)

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolBlocked, got.Status)
	assert.Contains(t, got.Description, "planning blocked")

	steps, err := env.store.ListStepRuns(ctx, run.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)
	assert.Contains(t, env.pub.types(), events.ProtocolBlocked)
}

func TestPlanInvalidTemplateBlocksRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRun(t, map[string]any{"steps": []any{
		map[string]any{"id": "a", "depends_on": []any{"ghost"}},
	}})

	require.Error(t, env.disp.Plan(ctx, run.ID))

	got, err := env.store.GetProtocolRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolBlocked, got.Status)
}

func TestPlanOnlyFromPending(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, Options{})
	run := env.seedRun(t, diamondConfig())

	require.NoError(t, env.disp.Plan(ctx, run.ID))
	err := env.disp.Plan(ctx, run.ID)
	assert.True(t, domain.IsConflict(err))
}
