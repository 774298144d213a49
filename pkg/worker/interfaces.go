package worker

import (
	"context"

	"github.com/cuemby/asaengine/pkg/types"
)

// Dequeuer is the worker's narrow view of the admission queue: pull the
// next handle, observe its cancel flag, and report a terminal outcome back
// so the coordination layer can release it. A Redis-backed queue and an
// in-memory fallback both satisfy this without the worker knowing which.
type Dequeuer interface {
	// Dequeue returns the next handle without blocking, or ok=false if none
	// is queued; the worker calls it again on its next poll tick.
	Dequeue(ctx context.Context) (handle *types.JobHandle, ok bool, err error)
	// Cancelled reports the current cancel flag for a running handle.
	Cancelled(ctx context.Context, handleID string) (bool, error)
	// Release marks a dequeued handle with its terminal status, freeing it
	// from the running set.
	Release(ctx context.Context, handleID string, status types.HandleStatus) error
}

// TaskLoader fetches the durable Task a JobHandle refers to.
type TaskLoader interface {
	// LoadTask returns (nil, nil) if no such task exists.
	LoadTask(ctx context.Context, taskID string) (*types.Task, error)
}
