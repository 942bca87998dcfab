package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/protocold/internal/dag"
	"github.com/fyrsmithlabs/protocold/internal/domain"
	"github.com/fyrsmithlabs/protocold/internal/events"
	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// StepSpecsFromTemplate extracts the step descriptors from a run's
// template config. Each entry of "steps" is either a bare step name or a
// full descriptor object.
func StepSpecsFromTemplate(cfg map[string]any) ([]domain.StepSpec, error) {
	raw, ok := cfg["steps"].([]any)
	if !ok || len(raw) == 0 {
		return nil, domain.Validationf("template config has no steps")
	}

	specs := make([]domain.StepSpec, 0, len(raw))
	for i, entry := range raw {
		switch v := entry.(type) {
		case string:
			specs = append(specs, domain.StepSpec{ID: v, Name: v})
		case map[string]any:
			spec := domain.StepSpec{
				ID:    stringField(v, "id"),
				Name:  stringField(v, "name"),
				Type:  stringField(v, "type"),
				Agent: stringField(v, "agent"),
				Model: stringField(v, "model"),
			}
			if spec.ID == "" {
				spec.ID = spec.Name
			}
			if spec.Name == "" {
				spec.Name = spec.ID
			}
			if spec.ID == "" {
				return nil, domain.Validationf("step %d has neither id nor name", i)
			}
			if deps, ok := v["depends_on"].([]any); ok {
				for _, dep := range deps {
					s, ok := dep.(string)
					if !ok {
						return nil, domain.Validationf("step %q has a non-string dependency", spec.ID)
					}
					spec.DependsOn = append(spec.DependsOn, s)
				}
			}
			if parallel, ok := v["parallel"].(bool); ok {
				spec.Parallel = parallel
			}
			specs = append(specs, spec)
		default:
			return nil, domain.Validationf("step %d has unsupported type %T", i, entry)
		}
	}
	return specs, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Plan materializes a pending run's step graph.
//
// The template's step specs are validated as a DAG, partitioned into
// dependency levels, and persisted as step runs; the effective policy is
// resolved once and recorded on the run as an audit trail. A cycle blocks
// the run instead of failing it, leaving the operator a fixable state.
func (d *Dispatcher) Plan(ctx context.Context, runID int64) error {
	ctx = logging.WithRunID(ctx, runID)

	if err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolPlanning, domain.ProtocolPending); err != nil {
		return err
	}
	run, err := d.store.GetProtocolRun(ctx, runID)
	if err != nil {
		return err
	}

	specs, err := StepSpecsFromTemplate(run.TemplateConfig)
	if err != nil {
		return d.blockPlanning(ctx, run, err)
	}

	nodes := make([]dag.Node, len(specs))
	specByID := make(map[string]domain.StepSpec, len(specs))
	for i, spec := range specs {
		nodes[i] = dag.Node{ID: spec.ID, DependsOn: spec.DependsOn}
		specByID[spec.ID] = spec
	}
	graph, err := dag.Build(nodes)
	if err != nil {
		return d.blockPlanning(ctx, run, err)
	}
	levels, err := graph.Levels()
	if err != nil {
		return d.blockPlanning(ctx, run, err)
	}

	// Record the policy audit trail before any step exists.
	if d.resolver != nil {
		project, err := d.store.GetProject(ctx, run.ProjectID)
		if err != nil {
			return err
		}
		eff, err := d.resolver.Resolve(ctx, project, run.WorktreePath)
		if err != nil {
			return err
		}
		run.PolicyPackKey = eff.PackKey
		run.PolicyPackVersion = eff.PackVersion
		run.PolicyEffectiveHash = eff.Hash
	}

	// Creating level by level guarantees every dependency already has a
	// row ID when its dependents are written.
	idByStep := make(map[string]int64, len(specs))
	index := 0
	for li, level := range levels {
		group := ""
		if len(level) > 1 {
			group = fmt.Sprintf("level-%d", li)
		}
		for _, stepID := range level {
			spec := specByID[stepID]
			deps := make([]int64, len(spec.DependsOn))
			for i, dep := range spec.DependsOn {
				deps[i] = idByStep[dep]
			}
			step := &domain.StepRun{
				ProtocolRunID: run.ID,
				StepIndex:     index,
				StepName:      spec.Name,
				StepType:      spec.Type,
				Status:        domain.StepPending,
				EngineID:      spec.Agent,
				Model:         spec.Model,
				DependsOn:     deps,
				ParallelGroup: group,
			}
			if err := d.store.CreateStepRun(ctx, step); err != nil {
				return err
			}
			idByStep[stepID] = step.ID
			index++
		}
	}

	if err := d.store.UpdateProtocolRun(ctx, run); err != nil {
		return err
	}
	if err := d.store.SetProtocolStatus(ctx, runID, domain.ProtocolPlanned, domain.ProtocolPlanning); err != nil {
		return err
	}

	d.events.Publish(ctx, events.Event{
		Type:          events.ProtocolPlanned,
		ProtocolRunID: runID,
		Fields:        map[string]any{"steps": len(specs), "levels": len(levels)},
	})
	d.logger.Info(ctx, "protocol planned",
		zap.Int("steps", len(specs)),
		zap.Int("levels", len(levels)))
	return nil
}

// blockPlanning parks a run whose template cannot be planned.
func (d *Dispatcher) blockPlanning(ctx context.Context, run *domain.ProtocolRun, cause error) error {
	run.Description = fmt.Sprintf("planning blocked: %v", cause)
	if err := d.store.UpdateProtocolRun(ctx, run); err != nil {
		d.logger.Error(ctx, "failed to record planning failure", zap.Error(err))
	}
	if err := d.store.SetProtocolStatus(ctx, run.ID, domain.ProtocolBlocked, domain.ProtocolPlanning); err != nil {
		return err
	}
	d.events.Publish(ctx, events.Event{
		Type:          events.ProtocolBlocked,
		ProtocolRunID: run.ID,
		Fields:        map[string]any{"reason": cause.Error()},
	})
	return cause
}
