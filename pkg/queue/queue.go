package queue

import (
	"context"

	"github.com/cuemby/asaengine/pkg/types"
)

// Limits bounds admission. Zero values disable the corresponding gate.
type Limits struct {
	MaxQueueSize         int
	MaxConcurrentJobs    int
	MaxPerUserConcurrent int
}

// Stats is a point-in-time snapshot of queue occupancy.
type Stats struct {
	Queued  int
	Running int
	Limits  Limits
}

// Coordinator is the admission and dequeue contract shared by the
// in-memory and Redis-backed implementations. Its Dequeue/Cancelled/Release
// methods also satisfy pkg/worker.Dequeuer, so a Coordinator can be handed
// to a Worker directly.
type Coordinator interface {
	// CanAdmit evaluates the three backpressure gates in order — global
	// queued count, running-jobs count, per-principal count — and returns
	// false with a human-readable reason for the first gate that fails.
	CanAdmit(ctx context.Context, principal string) (ok bool, reason string, err error)

	// Enqueue admits and records a handle, or returns an error carrying
	// errors.KindQueueFull if admission is denied. The caller must call
	// CanAdmit (or accept Enqueue's own denial) rather than assume success.
	Enqueue(ctx context.Context, taskID, principal string, priority types.Priority) (*types.JobHandle, error)

	// Cancel marks a queued handle removed, or a running handle's cancel
	// flag set for the worker to observe cooperatively.
	Cancel(ctx context.Context, handleID string) error

	// StatusOf returns the current observable state of a handle.
	StatusOf(ctx context.Context, handleID string) (types.JobHandle, error)

	// Stats reports current occupancy against the configured limits.
	Stats(ctx context.Context) (Stats, error)

	// Dequeue blocks up to the caller's polling cadence (the coordinator
	// itself does not block; callers poll) and returns ok=false when no
	// handle is ready. High-priority handles are returned before normal
	// ones; within a priority class, FIFO order is preserved.
	Dequeue(ctx context.Context) (handle *types.JobHandle, ok bool, err error)

	// Cancelled reports whether handleID's cancel flag has been set.
	Cancelled(ctx context.Context, handleID string) (bool, error)

	// Release records a dequeued handle's terminal status, freeing the
	// running-count and per-principal gates it was holding.
	Release(ctx context.Context, handleID string, status types.HandleStatus) error

	// Close releases any background resources (the TTL purge loop, open
	// connections).
	Close() error
}
