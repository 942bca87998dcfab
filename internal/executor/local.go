package executor

import (
	"context"
	"fmt"
	"sync"
)

// LocalBackend executes steps in-process by invoking a handler goroutine
// per dispatch. Tests inject a synchronous handler to observe dispatches.
type LocalBackend struct {
	handler func(ctx context.Context, input StepInput)

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

var _ Backend = (*LocalBackend)(nil)

// NewLocal builds a local backend. handler may be nil, in which case
// dispatches are recorded but execute nothing.
func NewLocal(handler func(ctx context.Context, input StepInput)) *LocalBackend {
	return &LocalBackend{
		handler: handler,
		cancels: make(map[string]context.CancelFunc),
	}
}

func (b *LocalBackend) Dispatch(ctx context.Context, input StepInput) (string, error) {
	handle := fmt.Sprintf("local-%d-%d", input.ProtocolRunID, input.StepRunID)

	// Detach from the caller's context; the step outlives the dispatch call.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.mu.Lock()
	b.cancels[handle] = cancel
	b.mu.Unlock()

	if b.handler != nil {
		go func() {
			defer b.release(handle)
			b.handler(runCtx, input)
		}()
	}
	return handle, nil
}

func (b *LocalBackend) Cancel(_ context.Context, handle string) error {
	b.mu.Lock()
	cancel, ok := b.cancels[handle]
	b.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}

func (b *LocalBackend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cancel := range b.cancels {
		cancel()
	}
	b.cancels = make(map[string]context.CancelFunc)
}

func (b *LocalBackend) release(handle string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cancel, ok := b.cancels[handle]; ok {
		cancel()
		delete(b.cancels, handle)
	}
}
