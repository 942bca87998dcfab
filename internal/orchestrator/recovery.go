package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// RecoverStuckProtocols sweeps running protocols whose forward progress
// stalled, typically because a completion callback was lost. For each run
// it finishes what is finished, blocks what cannot move, and re-dispatches
// what can. Returns the number of runs acted on.
func (d *Dispatcher) RecoverStuckProtocols(ctx context.Context, limit int) (int, error) {
	runs, err := d.store.ListProtocolRuns(ctx, []domain.ProtocolStatus{domain.ProtocolRunning}, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, run := range runs {
		acted, err := d.recoverRun(ctx, run)
		if err != nil {
			d.logger.Error(logging.WithRunID(ctx, run.ID), "recovery failed for protocol",
				zap.Error(err))
			continue
		}
		if acted {
			recovered++
			protocolsRecoveredCount.Add(ctx, 1)
		}
	}
	return recovered, nil
}

func (d *Dispatcher) recoverRun(ctx context.Context, run *domain.ProtocolRun) (bool, error) {
	ctx = logging.WithRunID(ctx, run.ID)

	steps, err := d.store.ListStepRuns(ctx, run.ID)
	if err != nil {
		return false, err
	}
	if len(steps) == 0 {
		return false, nil
	}

	allTerminal := true
	anyStuck := false
	anyInFlight := false
	for _, step := range steps {
		if !step.Status.Terminal() {
			allTerminal = false
		}
		switch step.Status {
		case domain.StepFailed, domain.StepTimeout, domain.StepBlocked:
			anyStuck = true
		}
		if step.Status.InFlight() {
			anyInFlight = true
		}
	}

	if anyInFlight {
		// Steps are still with the backend; nothing for the sweep to do.
		return false, nil
	}

	// Finished work first: every step terminal means the run should have
	// closed already.
	if allTerminal {
		finished, err := d.CheckAndCompleteProtocol(ctx, run.ID)
		if err != nil {
			return false, err
		}
		if finished {
			d.publishRecovered(ctx, run.ID, "completed terminal run")
		}
		return finished, nil
	}

	if anyStuck {
		// A failed or parked step with non-terminal siblings needs an
		// operator decision; park the run.
		if err := d.blockRun(ctx, run.ID, "failed step requires intervention"); err != nil {
			return false, err
		}
		return true, nil
	}

	dispatched, err := d.EnqueueNext(ctx, run.ID, 0)
	if err != nil {
		return false, err
	}
	if dispatched > 0 {
		d.publishRecovered(ctx, run.ID, "re-dispatched runnable steps")
		return true, nil
	}

	// Pending steps exist but none can run: their dependencies are parked.
	if err := d.blockRun(ctx, run.ID, "no runnable steps"); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Dispatcher) blockRun(ctx context.Context, runID int64, reason string) error {
	err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolBlocked, domain.ProtocolRunning)
	if err != nil {
		if domain.IsConflict(err) {
			return nil
		}
		return err
	}
	d.events.Publish(ctx, events.Event{
		Type:          events.ProtocolBlocked,
		ProtocolRunID: runID,
		Fields:        map[string]any{"reason": reason},
	})
	d.logger.Warn(ctx, "protocol blocked by recovery sweep", zap.String("reason", reason))
	return nil
}

func (d *Dispatcher) publishRecovered(ctx context.Context, runID int64, action string) {
	d.events.Publish(ctx, events.Event{
		Type:          events.ProtocolRecovered,
		ProtocolRunID: runID,
		Fields:        map[string]any{"action": action},
	})
}

// RunRecoverySweep runs RecoverStuckProtocols on a ticker until the
// context ends.
func (d *Dispatcher) RunRecoverySweep(ctx context.Context, interval time.Duration, limit int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.RecoverStuckProtocols(ctx, limit)
			if err != nil {
				d.logger.Error(ctx, "recovery sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.logger.Info(ctx, "recovery sweep acted on protocols", zap.Int("count", n))
			}
		}
	}
}
