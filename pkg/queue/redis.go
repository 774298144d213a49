package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/log"
	"github.com/cuemby/asaengine/pkg/metrics"
	"github.com/cuemby/asaengine/pkg/types"
)

// RedisCoordinator is a Coordinator backed by Redis, so admission counters
// and handle state are visible across every asaengine worker process
// sharing the same Redis instance. INCR/DECR on the counter keys and
// WATCH/MULTI around admission give the atomic single-key (and
// check-then-act) semantics spec.md's concurrency model requires without a
// Lua script.
type RedisCoordinator struct {
	client *redis.Client
	limits Limits
	ttl    TTLConfig
	prefix string
	logger zerolog.Logger
}

// NewRedisCoordinator wraps an existing *redis.Client. The caller owns the
// client's lifecycle; Close on the coordinator does not close it.
func NewRedisCoordinator(client *redis.Client, limits Limits, ttl TTLConfig, keyPrefix string) *RedisCoordinator {
	if keyPrefix == "" {
		keyPrefix = "asaengine:queue"
	}
	return &RedisCoordinator{client: client, limits: limits, ttl: ttl, prefix: keyPrefix, logger: log.WithComponent("queue")}
}

func (c *RedisCoordinator) listKey(p types.Priority) string {
	if p == types.PriorityHigh {
		return c.prefix + ":list:high"
	}
	return c.prefix + ":list:normal"
}

func (c *RedisCoordinator) handleKey(id string) string   { return c.prefix + ":handle:" + id }
func (c *RedisCoordinator) cancelKey(id string) string   { return c.prefix + ":cancel:" + id }
func (c *RedisCoordinator) runningKey() string           { return c.prefix + ":running" }
func (c *RedisCoordinator) principalKey(p string) string { return c.prefix + ":principal:" + p }

var errAdmissionDenied = errors.New("admission denied")

type denialReason struct{ reason string }

func (d denialReason) Error() string { return d.reason }

func (c *RedisCoordinator) CanAdmit(ctx context.Context, principal string) (bool, string, error) {
	return c.canAdmit(ctx, c.client, principal)
}

func (c *RedisCoordinator) canAdmit(ctx context.Context, cmdable redis.Cmdable, principal string) (bool, string, error) {
	if c.limits.MaxQueueSize > 0 {
		high, err := cmdable.LLen(ctx, c.listKey(types.PriorityHigh)).Result()
		if err != nil {
			return false, "", err
		}
		normal, err := cmdable.LLen(ctx, c.listKey(types.PriorityNormal)).Result()
		if err != nil {
			return false, "", err
		}
		if int(high+normal) >= c.limits.MaxQueueSize {
			metrics.AdmissionDenialsTotal.WithLabelValues("global queue is full").Inc()
			return false, "global queue is full", nil
		}
	}
	if c.limits.MaxConcurrentJobs > 0 {
		running, err := c.intCounter(ctx, cmdable, c.runningKey())
		if err != nil {
			return false, "", err
		}
		if running >= c.limits.MaxConcurrentJobs {
			metrics.AdmissionDenialsTotal.WithLabelValues("max concurrent jobs reached").Inc()
			return false, "max concurrent jobs reached", nil
		}
	}
	if principal != "" && c.limits.MaxPerUserConcurrent > 0 {
		n, err := c.intCounter(ctx, cmdable, c.principalKey(principal))
		if err != nil {
			return false, "", err
		}
		if n >= c.limits.MaxPerUserConcurrent {
			metrics.AdmissionDenialsTotal.WithLabelValues("principal concurrency limit reached").Inc()
			return false, "principal concurrency limit reached", nil
		}
	}
	return true, "", nil
}

func (c *RedisCoordinator) intCounter(ctx context.Context, cmdable redis.Cmdable, key string) (int, error) {
	n, err := cmdable.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *RedisCoordinator) Enqueue(ctx context.Context, taskID, principal string, priority types.Priority) (*types.JobHandle, error) {
	h := &types.JobHandle{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		Principal:  principal,
		Priority:   priority,
		Status:     types.HandleQueued,
		EnqueuedAt: time.Now(),
	}

	watchKeys := []string{c.listKey(types.PriorityHigh), c.listKey(types.PriorityNormal), c.runningKey()}
	if principal != "" {
		watchKeys = append(watchKeys, c.principalKey(principal))
	}

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		ok, reason, err := c.canAdmit(ctx, tx, principal)
		if err != nil {
			return err
		}
		if !ok {
			return denialReason{reason}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, c.handleKey(h.ID), handleFields(h))
			pipe.RPush(ctx, c.listKey(priority), h.ID)
			if principal != "" {
				pipe.Incr(ctx, c.principalKey(principal))
			}
			return nil
		})
		return err
	}, watchKeys...)

	var denied denialReason
	if errors.As(err, &denied) {
		return nil, aerrors.New(aerrors.KindQueueFull, errAdmissionDenied, map[string]string{"reason": denied.reason})
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

func handleFields(h *types.JobHandle) map[string]any {
	return map[string]any{
		"task_id":     h.TaskID,
		"principal":   h.Principal,
		"priority":    int(h.Priority),
		"status":      string(h.Status),
		"enqueued_at": h.EnqueuedAt.Format(time.RFC3339Nano),
	}
}

func (c *RedisCoordinator) Cancel(ctx context.Context, handleID string) error {
	status, err := c.client.HGet(ctx, c.handleKey(handleID), "status").Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	switch types.HandleStatus(status) {
	case types.HandleQueued:
		principal, _ := c.client.HGet(ctx, c.handleKey(handleID), "principal").Result()
		pipe := c.client.TxPipeline()
		pipe.LRem(ctx, c.listKey(types.PriorityHigh), 0, handleID)
		pipe.LRem(ctx, c.listKey(types.PriorityNormal), 0, handleID)
		pipe.HSet(ctx, c.handleKey(handleID), "status", string(types.HandleCancelled), "ended_at", time.Now().Format(time.RFC3339Nano))
		if principal != "" {
			pipe.Decr(ctx, c.principalKey(principal))
		}
		_, err = pipe.Exec(ctx)
		return err
	case types.HandleRunning:
		return c.client.Set(ctx, c.cancelKey(handleID), "1", 0).Err()
	}
	return nil
}

func (c *RedisCoordinator) StatusOf(ctx context.Context, handleID string) (types.JobHandle, error) {
	vals, err := c.client.HGetAll(ctx, c.handleKey(handleID)).Result()
	if err != nil {
		return types.JobHandle{}, err
	}
	if len(vals) == 0 {
		return types.JobHandle{}, aerrors.New(aerrors.KindInvalidInput, nil, map[string]string{"handle_id": handleID})
	}
	return parseHandle(handleID, vals), nil
}

func parseHandle(id string, vals map[string]string) types.JobHandle {
	h := types.JobHandle{ID: id, TaskID: vals["task_id"], Principal: vals["principal"], Status: types.HandleStatus(vals["status"])}
	if vals["priority"] == "1" {
		h.Priority = types.PriorityHigh
	}
	h.EnqueuedAt, _ = time.Parse(time.RFC3339Nano, vals["enqueued_at"])
	h.StartedAt, _ = time.Parse(time.RFC3339Nano, vals["started_at"])
	h.EndedAt, _ = time.Parse(time.RFC3339Nano, vals["ended_at"])
	return h
}

func (c *RedisCoordinator) Stats(ctx context.Context) (Stats, error) {
	high, err := c.client.LLen(ctx, c.listKey(types.PriorityHigh)).Result()
	if err != nil {
		return Stats{}, err
	}
	normal, err := c.client.LLen(ctx, c.listKey(types.PriorityNormal)).Result()
	if err != nil {
		return Stats{}, err
	}
	running, err := c.intCounter(ctx, c.client, c.runningKey())
	if err != nil {
		return Stats{}, err
	}
	return Stats{Queued: int(high + normal), Running: running, Limits: c.limits}, nil
}

func (c *RedisCoordinator) Dequeue(ctx context.Context) (*types.JobHandle, bool, error) {
	id, err := c.client.LPop(ctx, c.listKey(types.PriorityHigh)).Result()
	if errors.Is(err, redis.Nil) {
		id, err = c.client.LPop(ctx, c.listKey(types.PriorityNormal)).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	now := time.Now().Format(time.RFC3339Nano)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.handleKey(id), "status", string(types.HandleRunning), "started_at", now)
	pipe.Incr(ctx, c.runningKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, err
	}

	return c.loadHandle(ctx, id)
}

func (c *RedisCoordinator) loadHandle(ctx context.Context, id string) (*types.JobHandle, bool, error) {
	vals, err := c.client.HGetAll(ctx, c.handleKey(id)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(vals) == 0 {
		return nil, false, fmt.Errorf("queue: handle %s vanished after dequeue", id)
	}
	h := parseHandle(id, vals)
	return &h, true, nil
}

func (c *RedisCoordinator) Cancelled(ctx context.Context, handleID string) (bool, error) {
	n, err := c.client.Exists(ctx, c.cancelKey(handleID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCoordinator) Release(ctx context.Context, handleID string, status types.HandleStatus) error {
	principal, err := c.client.HGet(ctx, c.handleKey(handleID), "principal").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, c.handleKey(handleID), "status", string(status), "ended_at", time.Now().Format(time.RFC3339Nano))
	pipe.Del(ctx, c.cancelKey(handleID))
	pipe.Decr(ctx, c.runningKey())
	if principal != "" {
		pipe.Decr(ctx, c.principalKey(principal))
	}
	ttl := c.ttl.FailureTTL
	if status == types.HandleFinished {
		ttl = c.ttl.ResultTTL
	}
	if ttl > 0 {
		pipe.Expire(ctx, c.handleKey(handleID), ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Close is a no-op: the coordinator never owns background goroutines or the
// client connection. Terminal handles expire naturally via Release's
// per-status EXPIRE rather than a manual purge loop.
func (c *RedisCoordinator) Close() error { return nil }

// Ping verifies the Redis connection is reachable.
func (c *RedisCoordinator) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }
