package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// TTLConfig bounds how long terminal handles are retained before purge.
type TTLConfig struct {
	ResultTTL  time.Duration // COMPLETED-equivalent handles (finished)
	FailureTTL time.Duration // FAILED/CANCELLED/expired handles
}

// MemoryCoordinator is an in-memory Coordinator for single-process use and
// tests. All mutations are guarded by a single mutex; the three admission
// gates are evaluated against a consistent snapshot under that lock.
type MemoryCoordinator struct {
	mu sync.Mutex

	limits Limits
	ttl    TTLConfig

	normal []string // queued handle IDs, priority normal
	high   []string // queued handle IDs, priority high

	handles    map[string]*types.JobHandle
	cancelled  map[string]bool
	principals map[string]int // live (queued+running) count per principal

	logger zerolog.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMemoryCoordinator creates an in-memory Coordinator and starts its TTL
// purge loop.
func NewMemoryCoordinator(limits Limits, ttl TTLConfig) *MemoryCoordinator {
	c := &MemoryCoordinator{
		limits:     limits,
		ttl:        ttl,
		handles:    make(map[string]*types.JobHandle),
		cancelled:  make(map[string]bool),
		principals: make(map[string]int),
		logger:     log.WithComponent("queue"),
		stopCh:     make(chan struct{}),
	}
	c.wg.Add(1)
	go c.purgeLoop()
	return c
}

func (c *MemoryCoordinator) CanAdmit(ctx context.Context, principal string) (bool, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canAdmitLocked(principal)
}

func (c *MemoryCoordinator) canAdmitLocked(principal string) (bool, string, error) {
	if c.limits.MaxQueueSize > 0 && len(c.normal)+len(c.high) >= c.limits.MaxQueueSize {
		metrics.AdmissionDenialsTotal.WithLabelValues("global queue is full").Inc()
		return false, "global queue is full", nil
	}
	if c.limits.MaxConcurrentJobs > 0 && c.runningCountLocked() >= c.limits.MaxConcurrentJobs {
		metrics.AdmissionDenialsTotal.WithLabelValues("max concurrent jobs reached").Inc()
		return false, "max concurrent jobs reached", nil
	}
	if principal != "" && c.limits.MaxPerUserConcurrent > 0 && c.principals[principal] >= c.limits.MaxPerUserConcurrent {
		metrics.AdmissionDenialsTotal.WithLabelValues("principal concurrency limit reached").Inc()
		return false, "principal concurrency limit reached", nil
	}
	return true, "", nil
}

func (c *MemoryCoordinator) runningCountLocked() int {
	n := 0
	for _, h := range c.handles {
		if h.Status == types.HandleRunning {
			n++
		}
	}
	return n
}

func (c *MemoryCoordinator) Enqueue(ctx context.Context, taskID, principal string, priority types.Priority) (*types.JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ok, reason, _ := c.canAdmitLocked(principal)
	if !ok {
		return nil, aerrors.New(aerrors.KindQueueFull, nil, map[string]string{"reason": reason})
	}

	h := &types.JobHandle{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Principal:  principal,
		Priority:   priority,
		Status:     types.HandleQueued,
		EnqueuedAt: time.Now(),
	}
	c.handles[h.ID] = h
	if priority == types.PriorityHigh {
		c.high = append(c.high, h.ID)
	} else {
		c.normal = append(c.normal, h.ID)
	}
	if principal != "" {
		c.principals[principal]++
	}
	return h, nil
}

func (c *MemoryCoordinator) Cancel(ctx context.Context, handleID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[handleID]
	if !ok {
		return nil
	}
	switch h.Status {
	case types.HandleQueued:
		c.normal = removeID(c.normal, handleID)
		c.high = removeID(c.high, handleID)
		h.Status = types.HandleCancelled
		h.EndedAt = time.Now()
		c.releasePrincipalLocked(h)
	case types.HandleRunning:
		c.cancelled[handleID] = true
	}
	return nil
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (c *MemoryCoordinator) StatusOf(ctx context.Context, handleID string) (types.JobHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[handleID]
	if !ok {
		return types.JobHandle{}, aerrors.New(aerrors.KindInvalidInput, nil, map[string]string{"handle_id": handleID})
	}
	return *h, nil
}

func (c *MemoryCoordinator) Stats(ctx context.Context) (Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Queued:  len(c.normal) + len(c.high),
		Running: c.runningCountLocked(),
		Limits:  c.limits,
	}, nil
}

func (c *MemoryCoordinator) Dequeue(ctx context.Context) (*types.JobHandle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var id string
	switch {
	case len(c.high) > 0:
		id, c.high = c.high[0], c.high[1:]
	case len(c.normal) > 0:
		id, c.normal = c.normal[0], c.normal[1:]
	default:
		return nil, false, nil
	}

	h := c.handles[id]
	h.Status = types.HandleRunning
	h.StartedAt = time.Now()
	return h, true, nil
}

func (c *MemoryCoordinator) Cancelled(ctx context.Context, handleID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[handleID], nil
}

func (c *MemoryCoordinator) Release(ctx context.Context, handleID string, status types.HandleStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	h, ok := c.handles[handleID]
	if !ok {
		return nil
	}
	h.Status = status
	h.EndedAt = time.Now()
	delete(c.cancelled, handleID)
	c.releasePrincipalLocked(h)
	return nil
}

func (c *MemoryCoordinator) releasePrincipalLocked(h *types.JobHandle) {
	if h.Principal == "" {
		return
	}
	if n := c.principals[h.Principal]; n > 1 {
		c.principals[h.Principal] = n - 1
	} else {
		delete(c.principals, h.Principal)
	}
}

func (c *MemoryCoordinator) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}

// Ping always succeeds: an in-memory coordinator has no external
// dependency to be unreachable from.
func (c *MemoryCoordinator) Ping(ctx context.Context) error { return nil }

func (c *MemoryCoordinator) purgeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.purgeExpired()
		case <-c.stopCh:
			return
		}
	}
}

func (c *MemoryCoordinator) purgeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for id, h := range c.handles {
		if h.Status != types.HandleFinished && h.Status != types.HandleFailed &&
			h.Status != types.HandleCancelled && h.Status != types.HandleExpired {
			continue
		}
		ttl := c.ttl.FailureTTL
		if h.Status == types.HandleFinished {
			ttl = c.ttl.ResultTTL
		}
		if ttl > 0 && now.Sub(h.EndedAt) > ttl {
			delete(c.handles, id)
			c.logger.Debug().Str("handle_id", id).Msg("purged expired handle")
		}
	}
}
