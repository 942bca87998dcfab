package executor

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"

	"github.com/fyrsmithlabs/protocold/internal/logging"
)

// TemporalBackend dispatches each step as a Temporal workflow execution.
// Temporal gives steps durability across worker crashes for free; the
// engine only tracks the workflow ID as its job handle.
type TemporalBackend struct {
	client    client.Client
	taskQueue string
	logger    *logging.Logger
}

var _ Backend = (*TemporalBackend)(nil)

// NewTemporal dials the Temporal frontend.
func NewTemporal(hostPort, namespace, taskQueue string, logger *logging.Logger) (*TemporalBackend, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal at %s: %w", hostPort, err)
	}
	return &TemporalBackend{client: c, taskQueue: taskQueue, logger: logger}, nil
}

func (b *TemporalBackend) Dispatch(ctx context.Context, input StepInput) (string, error) {
	options := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("protocol-%d-step-%d-attempt-%d", input.ProtocolRunID, input.StepRunID, input.Attempt),
		TaskQueue: b.taskQueue,
	}
	we, err := b.client.ExecuteWorkflow(ctx, options, StepWorkflow, input)
	if err != nil {
		return "", fmt.Errorf("start step workflow: %w", err)
	}
	return we.GetID(), nil
}

func (b *TemporalBackend) Cancel(ctx context.Context, handle string) error {
	if err := b.client.CancelWorkflow(ctx, handle, ""); err != nil {
		return fmt.Errorf("cancel workflow %s: %w", handle, err)
	}
	return nil
}

func (b *TemporalBackend) Close() {
	b.client.Close()
}
