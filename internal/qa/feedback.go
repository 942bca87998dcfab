package qa

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/logging"
	"github.com/fyrsmithlabs/protocold/internal/store"
)

// Error categories used to route failed QA verdicts.
const (
	CategorySyntax    = "syntax"
	CategoryLint      = "lint"
	CategoryFormat    = "format"
	CategoryTypeCheck = "typecheck"
	CategoryTest      = "test"
	CategorySecurity  = "security"
	CategoryLogic     = "logic"
	CategoryOther     = "other"
)

// ClassifyError buckets a failure message into an error category.
func ClassifyError(message string) string {
	msg := strings.ToLower(message)
	contains := func(subs ...string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
	switch {
	case contains("syntax", "parse", "unexpected token", "unterminated"):
		return CategorySyntax
	case contains("lint", "golangci", "staticcheck", "vet"):
		return CategoryLint
	case contains("format", "gofmt", "goimports", "indent"):
		return CategoryFormat
	case contains("type", "undefined", "cannot use"):
		return CategoryTypeCheck
	case contains("test", "assert", "failed", "panic"):
		return CategoryTest
	case contains("security", "vulnerability", "secret", "credential", "password", "unsafe"):
		return CategorySecurity
	default:
		return CategoryOther
	}
}

// EscalationAction maps an error category to the action recorded when the
// auto-fix budget is spent. Logic failures want a new plan; unknown ones
// want a human; everything else may be retried after intervention.
func EscalationAction(category string) string {
	switch category {
	case CategoryLogic:
		return domain.ActionRePlan
	case CategoryOther, CategorySecurity:
		return domain.ActionClarify
	default:
		return domain.ActionRetry
	}
}

// Redispatcher re-enqueues a step after a failed QA verdict.
type Redispatcher interface {
	EnqueueStep(ctx context.Context, step *domain.StepRun) error
}

// FeedbackLoop applies QA verdicts to step and protocol state.
type FeedbackLoop struct {
	store      store.Store
	redispatch Redispatcher
	events     events.Publisher
	logger     *logging.Logger

	// MaxAutoFixAttempts caps total attempts per step before escalation.
	MaxAutoFixAttempts int
}

// NewFeedbackLoop wires the loop.
func NewFeedbackLoop(st store.Store, rd Redispatcher, pub events.Publisher, logger *logging.Logger, maxAutoFixAttempts int) *FeedbackLoop {
	if logger == nil {
		logger = logging.NewNop()
	}
	if pub == nil {
		pub = events.Noop{}
	}
	return &FeedbackLoop{
		store:              st,
		redispatch:         rd,
		events:             pub,
		logger:             logger,
		MaxAutoFixAttempts: maxAutoFixAttempts,
	}
}

// Outcome reports what the loop decided for a step.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetried   Outcome = "retried"
	OutcomeEscalated Outcome = "escalated"
)

// HandleVerdict applies a QA result to the step.
//
// Passing verdicts complete the step. Failing verdicts re-dispatch it
// while the failing attempt number is under MaxAutoFixAttempts; the
// attempt that reaches the budget fails the step, blocks the protocol,
// and records feedback for the operator.
func (f *FeedbackLoop) HandleVerdict(ctx context.Context, step *domain.StepRun, result Result) (Outcome, error) {
	ctx = logging.WithRunID(logging.WithStepID(ctx, step.ID), step.ProtocolRunID)

	if err := f.persistVerdict(ctx, step, result); err != nil {
		f.logger.Warn(ctx, "failed to persist qa verdict", zap.Error(err))
	}

	if result.Verdict.Passable() {
		if err := f.store.SetStepStatus(ctx, step.ID, domain.StepCompleted,
			domain.StepNeedsQA, domain.StepRunning); err != nil {
			return "", fmt.Errorf("complete step %d: %w", step.ID, err)
		}
		f.events.Publish(ctx, events.Event{
			Type:          events.StepCompleted,
			ProtocolRunID: step.ProtocolRunID,
			StepRunID:     step.ID,
			Fields:        map[string]any{"verdict": string(result.Verdict)},
		})
		return OutcomeCompleted, nil
	}

	if step.Retries+1 < f.MaxAutoFixAttempts {
		// Fail first, then take the explicit retry path back to pending so
		// the status history matches what an operator-driven retry leaves.
		if err := f.store.SetStepStatus(ctx, step.ID, domain.StepFailed,
			domain.StepNeedsQA, domain.StepRunning, domain.StepPending); err != nil {
			return "", fmt.Errorf("fail step %d before retry: %w", step.ID, err)
		}
		if err := f.store.ResetStepForRetry(ctx, step.ID, domain.StepFailed); err != nil {
			return "", fmt.Errorf("reset step %d for retry: %w", step.ID, err)
		}
		step.Retries++
		step.Status = domain.StepPending
		f.events.Publish(ctx, events.Event{
			Type:          events.StepRetried,
			ProtocolRunID: step.ProtocolRunID,
			StepRunID:     step.ID,
			Fields:        map[string]any{"attempt": step.Retries},
		})
		f.logger.Info(ctx, "qa failed, re-dispatching step",
			zap.Int("attempt", step.Retries),
			zap.Int("budget", f.MaxAutoFixAttempts))
		if err := f.redispatch.EnqueueStep(ctx, step); err != nil {
			return "", fmt.Errorf("re-dispatch step %d: %w", step.ID, err)
		}
		return OutcomeRetried, nil
	}

	return f.escalate(ctx, step, result)
}

// escalate is the budget-exhausted path: fail the step, block the
// protocol, leave a feedback record.
func (f *FeedbackLoop) escalate(ctx context.Context, step *domain.StepRun, result Result) (Outcome, error) {
	category := ClassifyError(failureSummary(result))
	action := EscalationAction(category)

	if err := f.store.SetStepStatus(ctx, step.ID, domain.StepFailed,
		domain.StepNeedsQA, domain.StepRunning, domain.StepPending); err != nil {
		return "", fmt.Errorf("fail step %d: %w", step.ID, err)
	}
	if err := f.store.SetProtocolStatus(ctx, step.ProtocolRunID, domain.ProtocolBlocked,
		domain.ProtocolRunning, domain.ProtocolPaused); err != nil && !domain.IsConflict(err) {
		return "", fmt.Errorf("block protocol %d: %w", step.ProtocolRunID, err)
	}
	rec := &domain.FeedbackRecord{
		ProtocolRunID: step.ProtocolRunID,
		StepRunID:     step.ID,
		ErrorCategory: category,
		Action:        action,
		Attempt:       step.Retries + 1,
	}
	if err := f.store.CreateFeedbackRecord(ctx, rec); err != nil {
		return "", fmt.Errorf("record feedback for step %d: %w", step.ID, err)
	}

	f.events.Publish(ctx, events.Event{
		Type:          events.StepFailed,
		ProtocolRunID: step.ProtocolRunID,
		StepRunID:     step.ID,
		Fields:        map[string]any{"category": category, "action": action},
	})
	f.events.Publish(ctx, events.Event{
		Type:          events.ProtocolBlocked,
		ProtocolRunID: step.ProtocolRunID,
	})
	f.logger.Warn(ctx, "auto-fix budget spent, protocol blocked",
		zap.String("category", category),
		zap.String("action", action))
	return OutcomeEscalated, nil
}

// persistVerdict stashes the QA result in the step's runtime state.
func (f *FeedbackLoop) persistVerdict(ctx context.Context, step *domain.StepRun, result Result) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return err
	}
	if step.RuntimeState == nil {
		step.RuntimeState = map[string]any{}
	}
	step.RuntimeState["qa_verdict"] = doc
	return f.store.UpdateStepRun(ctx, step)
}

func failureSummary(result Result) string {
	var parts []string
	for _, g := range result.Gates {
		if g.Verdict == VerdictFail || g.Verdict == VerdictError {
			parts = append(parts, g.Details...)
		}
	}
	return strings.Join(parts, "; ")
}
