package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// StepWorkflow executes one protocol step as a durable workflow. The heavy
// lifting happens in ExecuteStepActivity; result reporting back to the
// engine happens in ReportResultActivity so a crash between the two never
// loses the outcome.
func StepWorkflow(ctx workflow.Context, input StepInput) (*StepOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting step workflow",
		"step", input.StepName,
		"protocol_run_id", input.ProtocolRunID,
	)

	activityOptions := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, activityOptions)

	var activities *Activities
	var output StepOutput
	err := workflow.ExecuteActivity(ctx, activities.ExecuteStep, input).Get(ctx, &output)
	if err != nil {
		// A failed execution is still a result the engine must hear about.
		output = StepOutput{
			StepRunID: input.StepRunID,
			Success:   false,
			Summary:   fmt.Sprintf("step execution failed: %v", err),
		}
	}

	reportErr := workflow.ExecuteActivity(ctx, activities.ReportResult, input, output).Get(ctx, nil)
	if reportErr != nil {
		logger.Error("Failed to report step result", "error", reportErr)
		return &output, reportErr
	}
	return &output, nil
}

// ResultReporter delivers a finished step's output back to the engine.
type ResultReporter interface {
	Report(ctx context.Context, input StepInput, output StepOutput) error
}

// Activities hosts the step execution activities on a worker.
type Activities struct {
	// AgentCommand is the executable invoked to run a step; the prompt is
	// written to stdin and the worktree is the working directory.
	AgentCommand []string
	Reporter     ResultReporter
}

// ExecuteStep runs the configured agent command inside the step worktree.
func (a *Activities) ExecuteStep(ctx context.Context, input StepInput) (*StepOutput, error) {
	if len(a.AgentCommand) == 0 {
		return nil, fmt.Errorf("no agent command configured")
	}

	args := append([]string(nil), a.AgentCommand[1:]...)
	if input.Model != "" {
		args = append(args, "--model", input.Model)
	}
	cmd := exec.CommandContext(ctx, a.AgentCommand[0], args...)
	cmd.Dir = input.WorktreePath
	cmd.Stdin = strings.NewReader(input.Prompt)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		return &StepOutput{
			StepRunID: input.StepRunID,
			Success:   false,
			Summary:   fmt.Sprintf("%v: %s", err, truncate(out.String(), 2000)),
		}, nil
	}
	return &StepOutput{
		StepRunID: input.StepRunID,
		Success:   true,
		Summary:   truncate(out.String(), 2000),
	}, nil
}

// ReportResult forwards the output to the engine.
func (a *Activities) ReportResult(ctx context.Context, input StepInput, output StepOutput) error {
	if a.Reporter == nil {
		return fmt.Errorf("no result reporter configured")
	}
	return a.Reporter.Report(ctx, input, output)
}

// NewWorker builds a Temporal worker serving the step task queue.
func NewWorker(c client.Client, taskQueue string, activities *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	w.RegisterWorkflow(StepWorkflow)
	w.RegisterActivity(activities.ExecuteStep)
	w.RegisterActivity(activities.ReportResult)
	return w
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
