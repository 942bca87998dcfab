package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/executor"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/policy"
	"github.com/fyrsmithlabs/protocold/internal/qa"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

// MaxInlineTriggerDepth bounds how many consecutive step completions may
// trigger follow-up dispatches inline before handing off to the recovery
// sweep.
const MaxInlineTriggerDepth = 3

const jobHandleKey = "job_handle"

// RunPublisher ships a completed run's worktree, typically by pushing
// its branch and opening a pull request.
type RunPublisher interface {
	Publish(ctx context.Context, project *domain.Project, run *domain.ProtocolRun) (string, error)
}

// Options configures a Dispatcher.
type Options struct {
	Store    store.Store
	Backend  executor.Backend
	Gates    *qa.Registry
	Resolver *policy.Resolver
	Events   events.Publisher
	Logger   *logging.Logger

	// Publisher ships a completed run's branch, when set.
	Publisher RunPublisher

	MaxAutoFixAttempts    int
	MaxInlineTriggerDepth int
	// DispatchRate caps backend dispatches per second; 0 disables the cap.
	DispatchRate float64
}

// Dispatcher coordinates planning, dispatch, QA, and completion.
type Dispatcher struct {
	store     store.Store
	backend   executor.Backend
	gates     *qa.Registry
	feedback  *qa.FeedbackLoop
	resolver  *policy.Resolver
	events    events.Publisher
	logger    *logging.Logger
	limiter   *rate.Limiter
	publisher RunPublisher

	maxInlineDepth int
}

// New wires a Dispatcher.
func New(opts Options) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	pub := opts.Events
	if pub == nil {
		pub = events.Noop{}
	}
	gates := opts.Gates
	if gates == nil {
		gates = qa.NewRegistry()
	}
	maxDepth := opts.MaxInlineTriggerDepth
	if maxDepth <= 0 {
		maxDepth = MaxInlineTriggerDepth
	}
	var limiter *rate.Limiter
	if opts.DispatchRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.DispatchRate), 1)
	}

	d := &Dispatcher{
		store:          opts.Store,
		backend:        opts.Backend,
		gates:          gates,
		resolver:       opts.Resolver,
		events:         pub,
		logger:         logger.Named("dispatcher"),
		limiter:        limiter,
		publisher:      opts.Publisher,
		maxInlineDepth: maxDepth,
	}
	d.feedback = qa.NewFeedbackLoop(opts.Store, d, pub, logger, opts.MaxAutoFixAttempts)
	return d
}

// Start moves a run into running and dispatches its first wave. A run
// still pending is planned first; a paused run resumes.
func (d *Dispatcher) Start(ctx context.Context, runID int64) error {
	ctx = logging.WithRunID(ctx, runID)
	run, err := d.store.GetProtocolRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == domain.ProtocolPending {
		if err := d.Plan(ctx, runID); err != nil {
			return err
		}
	}
	if err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolRunning,
		domain.ProtocolPlanned, domain.ProtocolPlanning, domain.ProtocolPaused); err != nil {
		return err
	}
	d.events.Publish(ctx, events.Event{Type: events.ProtocolStarted, ProtocolRunID: runID})
	d.logger.Info(ctx, "protocol started")

	_, err = d.EnqueueNext(ctx, runID, 0)
	return err
}

// EnqueueNext dispatches every pending step whose dependencies have all
// completed. Returns the number of steps dispatched.
func (d *Dispatcher) EnqueueNext(ctx context.Context, runID int64, inlineDepth int) (int, error) {
	ctx = logging.WithRunID(ctx, runID)

	run, err := d.store.GetProtocolRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.Status != domain.ProtocolRunning {
		// Paused, blocked, and terminal runs dispatch nothing.
		return 0, nil
	}
	steps, err := d.store.ListStepRuns(ctx, runID)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, step := range runnableSteps(steps) {
		if err := d.dispatchStep(ctx, run, step, inlineDepth); err != nil {
			if domain.IsConflict(err) {
				// Another dispatcher got there first.
				continue
			}
			return dispatched, err
		}
		dispatched++
	}
	if dispatched == 0 {
		// Nothing runnable: the run is either finished or waiting on
		// in-flight work.
		if _, err := d.CheckAndCompleteProtocol(ctx, runID); err != nil {
			return 0, err
		}
	}
	return dispatched, nil
}

// runnableSteps filters for pending steps whose dependencies are all
// completed. A dependency in any other terminal status keeps its
// dependents parked.
func runnableSteps(steps []*domain.StepRun) []*domain.StepRun {
	byID := make(map[int64]*domain.StepRun, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
	}
	var runnable []*domain.StepRun
	for _, s := range steps {
		if s.Status != domain.StepPending {
			continue
		}
		ready := true
		for _, dep := range s.DependsOn {
			if parent, ok := byID[dep]; !ok || parent.Status != domain.StepCompleted {
				ready = false
				break
			}
		}
		if ready {
			runnable = append(runnable, s)
		}
	}
	return runnable
}

// EnqueueStep re-dispatches one step. Implements qa.Redispatcher.
func (d *Dispatcher) EnqueueStep(ctx context.Context, step *domain.StepRun) error {
	run, err := d.store.GetProtocolRun(ctx, step.ProtocolRunID)
	if err != nil {
		return err
	}
	return d.dispatchStep(ctx, run, step, 0)
}

// dispatchStep performs the guarded pending->running move and hands the
// step to the backend.
func (d *Dispatcher) dispatchStep(ctx context.Context, run *domain.ProtocolRun, step *domain.StepRun, inlineDepth int) error {
	ctx = logging.WithStepID(logging.WithRunID(ctx, run.ID), step.ID)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if err := d.store.SetStepStatus(ctx, step.ID, domain.StepRunning, domain.StepPending); err != nil {
		return err
	}

	input := executor.StepInput{
		ProtocolRunID: run.ID,
		StepRunID:     step.ID,
		StepName:      step.StepName,
		StepType:      step.StepType,
		WorktreePath:  run.WorktreePath,
		EngineID:      step.EngineID,
		Model:         step.Model,
		Prompt:        step.Summary,
		Attempt:       step.Retries,
		InlineDepth:   inlineDepth,
	}
	handle, err := d.backend.Dispatch(ctx, input)
	if err != nil {
		// Give the step back so a later sweep can try again.
		if serr := d.store.SetStepStatus(ctx, step.ID, domain.StepBlocked, domain.StepRunning); serr != nil {
			d.logger.Error(ctx, "failed to park step after dispatch error", zap.Error(serr))
		}
		return fmt.Errorf("dispatch step %d: %w", step.ID, err)
	}

	step.Status = domain.StepRunning
	if step.RuntimeState == nil {
		step.RuntimeState = map[string]any{}
	}
	step.RuntimeState[jobHandleKey] = handle
	step.RuntimeState["dispatched_at"] = time.Now().UTC().Format(time.RFC3339)
	if err := d.store.UpdateStepRun(ctx, step); err != nil {
		return err
	}

	stepsDispatchedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("step_type", step.StepType)))
	d.events.Publish(ctx, events.Event{
		Type:          events.StepStarted,
		ProtocolRunID: run.ID,
		StepRunID:     step.ID,
		Fields:        map[string]any{"attempt": step.Retries},
	})
	d.logger.Info(ctx, "step dispatched",
		zap.String("step", step.StepName),
		zap.String("handle", handle))
	return nil
}

// OnStepResult ingests a backend-reported result: successful output goes
// through the QA gates, failures go straight into the feedback loop.
func (d *Dispatcher) OnStepResult(ctx context.Context, output executor.StepOutput, inlineDepth int) error {
	step, err := d.store.GetStepRun(ctx, output.StepRunID)
	if err != nil {
		return err
	}
	ctx = logging.WithStepID(logging.WithRunID(ctx, step.ProtocolRunID), step.ID)

	if output.Summary != "" {
		step.Summary = output.Summary
	}

	var result qa.Result
	if output.Success {
		if err := d.store.SetStepStatus(ctx, step.ID, domain.StepNeedsQA, domain.StepRunning); err != nil {
			return err
		}
		step.Status = domain.StepNeedsQA
		result, err = d.runGates(ctx, step, output)
		if err != nil {
			return err
		}
	} else {
		result = qa.Result{
			Verdict: qa.VerdictFail,
			Gates: []qa.GateResult{{
				Gate:    "execution",
				Verdict: qa.VerdictFail,
				Details: []string{output.Summary},
			}},
		}
	}

	qaVerdictCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("verdict", string(result.Verdict))))
	if !step.CreatedAt.IsZero() {
		stepDurationHistogram.Record(ctx, time.Since(step.CreatedAt).Seconds())
	}

	outcome, err := d.feedback.HandleVerdict(ctx, step, result)
	if err != nil {
		return err
	}
	if outcome != qa.OutcomeCompleted {
		return nil
	}

	finished, err := d.CheckAndCompleteProtocol(ctx, step.ProtocolRunID)
	if err != nil {
		return err
	}
	if finished {
		return nil
	}
	if inlineDepth >= d.maxInlineDepth {
		d.logger.Warn(ctx, "inline trigger depth exceeded, deferring to recovery sweep",
			zap.Int("depth", inlineDepth))
		return nil
	}
	_, err = d.EnqueueNext(ctx, step.ProtocolRunID, inlineDepth+1)
	return err
}

// runGates resolves the effective policy and runs the QA registry.
func (d *Dispatcher) runGates(ctx context.Context, step *domain.StepRun, output executor.StepOutput) (qa.Result, error) {
	run, err := d.store.GetProtocolRun(ctx, step.ProtocolRunID)
	if err != nil {
		return qa.Result{}, err
	}
	project, err := d.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		return qa.Result{}, err
	}

	gc := qa.GateContext{
		Project:         project,
		Run:             run,
		Step:            step,
		WorktreePath:    run.WorktreePath,
		ChangedFiles:    output.ChangedFiles,
		EnforcementMode: project.PolicyEnforcementMode,
	}
	if d.resolver != nil {
		eff, err := d.resolver.Resolve(ctx, project, run.WorktreePath)
		if err != nil {
			return qa.Result{}, err
		}
		gc.Policy = eff.Policy
	}
	return d.gates.Run(ctx, gc), nil
}

// RetryStep resets a failed, blocked, or timed-out step to pending and
// re-dispatches it. The retry counter moves in the same write as the
// status reset.
func (d *Dispatcher) RetryStep(ctx context.Context, stepID int64) error {
	step, err := d.store.GetStepRun(ctx, stepID)
	if err != nil {
		return err
	}
	ctx = logging.WithStepID(logging.WithRunID(ctx, step.ProtocolRunID), step.ID)

	if !step.Status.Retryable() {
		return domain.Validationf("step %d in status %q cannot be retried", stepID, step.Status)
	}
	if err := d.store.ResetStepForRetry(ctx, stepID,
		domain.StepFailed, domain.StepBlocked, domain.StepTimeout); err != nil {
		return err
	}
	step.Status = domain.StepPending
	step.Retries++

	// A blocked protocol with a freshly retryable step may run again.
	if err := d.store.SetProtocolStatus(ctx, step.ProtocolRunID, domain.ProtocolRunning,
		domain.ProtocolBlocked); err != nil && !domain.IsConflict(err) {
		return err
	}
	d.events.Publish(ctx, events.Event{
		Type:          events.StepRetried,
		ProtocolRunID: step.ProtocolRunID,
		StepRunID:     step.ID,
		Fields:        map[string]any{"attempt": step.Retries},
	})
	return d.EnqueueStep(ctx, step)
}

// Pause stops further dispatching. In-flight steps finish on their own.
func (d *Dispatcher) Pause(ctx context.Context, runID int64) error {
	return d.store.SetProtocolStatus(ctx, runID, domain.ProtocolPaused,
		domain.ProtocolRunning, domain.ProtocolPlanned)
}

// Resume returns a paused or blocked run to running and dispatches
// whatever became runnable in the meantime.
func (d *Dispatcher) Resume(ctx context.Context, runID int64) error {
	if err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolRunning,
		domain.ProtocolPaused, domain.ProtocolBlocked); err != nil {
		return err
	}
	_, err := d.EnqueueNext(ctx, runID, 0)
	return err
}

// Cancel force-cancels the run and every non-terminal step. In-flight
// steps are best-effort cancelled at the backend.
func (d *Dispatcher) Cancel(ctx context.Context, runID int64) error {
	ctx = logging.WithRunID(ctx, runID)
	run, err := d.store.GetProtocolRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return domain.Validationf("protocol run %d already %s", runID, run.Status)
	}
	if err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolCancelled, run.Status); err != nil {
		return err
	}

	steps, err := d.store.ListStepRuns(ctx, runID)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.Status.Terminal() {
			continue
		}
		if step.Status.InFlight() {
			if handle, ok := step.RuntimeState[jobHandleKey].(string); ok && handle != "" {
				if err := d.backend.Cancel(ctx, handle); err != nil {
					d.logger.Warn(ctx, "backend cancel failed",
						zap.Int64("step_id", step.ID), zap.Error(err))
				}
			}
		}
		if err := d.store.SetStepStatus(ctx, step.ID, domain.StepCancelled,
			domain.StepPending, domain.StepRunning, domain.StepNeedsQA, domain.StepBlocked); err != nil && !domain.IsConflict(err) {
			return err
		}
	}

	d.events.Publish(ctx, events.Event{Type: events.ProtocolCancelled, ProtocolRunID: runID})
	d.logger.Info(ctx, "protocol cancelled")
	return nil
}

// CheckAndCompleteProtocol finishes a run once every step is terminal:
// any failed step fails the whole run, otherwise it completes. Returns
// false without touching anything while work remains.
func (d *Dispatcher) CheckAndCompleteProtocol(ctx context.Context, runID int64) (bool, error) {
	ctx = logging.WithRunID(ctx, runID)
	steps, err := d.store.ListStepRuns(ctx, runID)
	if err != nil {
		return false, err
	}
	if len(steps) == 0 {
		return false, nil
	}

	failed := false
	for _, step := range steps {
		if !step.Status.Terminal() {
			return false, nil
		}
		if step.Status == domain.StepFailed {
			failed = true
		}
	}

	target := domain.ProtocolCompleted
	eventType := events.ProtocolCompleted
	if failed {
		target = domain.ProtocolFailed
		eventType = events.ProtocolFailed
	}
	err = d.store.SetProtocolStatus(ctx, runID, target,
		domain.ProtocolRunning, domain.ProtocolBlocked)
	if err != nil {
		if domain.IsConflict(err) {
			// Already finished by a concurrent caller.
			return false, nil
		}
		return false, err
	}

	protocolsFinishedCount.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", string(target))))
	d.events.Publish(ctx, events.Event{Type: eventType, ProtocolRunID: runID})
	d.logger.Info(ctx, "protocol finished", zap.String("status", string(target)))

	if target == domain.ProtocolCompleted && d.publisher != nil {
		d.publishRun(ctx, runID)
	}
	return true, nil
}

// publishRun ships the completed run's branch. Publishing is best effort:
// a failed push or pull request never reopens a finished run.
func (d *Dispatcher) publishRun(ctx context.Context, runID int64) {
	run, err := d.store.GetProtocolRun(ctx, runID)
	if err != nil {
		d.logger.Error(ctx, "failed to load run for publishing", zap.Error(err))
		return
	}
	project, err := d.store.GetProject(ctx, run.ProjectID)
	if err != nil {
		d.logger.Error(ctx, "failed to load project for publishing", zap.Error(err))
		return
	}
	prURL, err := d.publisher.Publish(ctx, project, run)
	if err != nil {
		d.logger.Warn(ctx, "failed to publish completed run", zap.Error(err))
		return
	}
	if prURL == "" {
		return
	}
	run.PRURL = prURL
	if err := d.store.UpdateProtocolRun(ctx, run); err != nil {
		d.logger.Warn(ctx, "failed to record pull request url", zap.Error(err))
		return
	}
	d.logger.Info(ctx, "pull request opened", zap.String("url", prURL))
}
