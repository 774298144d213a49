package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aerrors "github.com/cuemby/asaengine/pkg/errors"
	"github.com/cuemby/asaengine/pkg/types"
)

func TestMemoryCanAdmitGlobalQueueGate(t *testing.T) {
	c := NewMemoryCoordinator(Limits{MaxQueueSize: 2}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "t1", "", types.PriorityNormal)
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, "t2", "", types.PriorityNormal)
	require.NoError(t, err)

	ok, _, err := c.CanAdmit(ctx, "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.Enqueue(ctx, "t3", "", types.PriorityNormal)
	var ae *aerrors.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, aerrors.KindQueueFull, ae.Kind)
}

func TestMemoryPerPrincipalGate(t *testing.T) {
	c := NewMemoryCoordinator(Limits{MaxPerUserConcurrent: 1}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "t1", "alice", types.PriorityNormal)
	require.NoError(t, err)

	_, err = c.Enqueue(ctx, "t2", "alice", types.PriorityNormal)
	require.Error(t, err)

	_, err = c.Enqueue(ctx, "t3", "bob", types.PriorityNormal)
	require.NoError(t, err)
}

func TestMemoryDequeueHighPriorityFirst(t *testing.T) {
	c := NewMemoryCoordinator(Limits{}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "normal-task", "", types.PriorityNormal)
	require.NoError(t, err)
	_, err = c.Enqueue(ctx, "high-task", "", types.PriorityHigh)
	require.NoError(t, err)

	h, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "high-task", h.TaskID)
	assert.Equal(t, types.HandleRunning, h.Status)

	h2, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "normal-task", h2.TaskID)

	_, ok, err = c.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCancelQueuedRemovesFromQueue(t *testing.T) {
	c := NewMemoryCoordinator(Limits{}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "t1", "", types.PriorityNormal)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(ctx, h.ID))

	_, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	status, err := c.StatusOf(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandleCancelled, status.Status)
}

func TestMemoryCancelRunningSetsFlag(t *testing.T) {
	c := NewMemoryCoordinator(Limits{}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "t1", "", types.PriorityNormal)
	require.NoError(t, err)
	_, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Cancel(ctx, h.ID))

	cancelled, err := c.Cancelled(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)
}

func TestMemoryReleaseFreesRunningAndPrincipalGates(t *testing.T) {
	c := NewMemoryCoordinator(Limits{MaxConcurrentJobs: 1, MaxPerUserConcurrent: 1}, TTLConfig{})
	defer c.Close()
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "t1", "alice", types.PriorityNormal)
	require.NoError(t, err)
	_, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = c.CanAdmit(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Release(ctx, h.ID, types.HandleFinished))

	ok, _, err = c.CanAdmit(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func newTestRedisCoordinator(t *testing.T) (*RedisCoordinator, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisCoordinator(client, Limits{MaxQueueSize: 2, MaxPerUserConcurrent: 1}, TTLConfig{ResultTTL: time.Minute, FailureTTL: time.Minute}, "test"), client
}

func TestRedisEnqueueDequeueRoundTrip(t *testing.T) {
	c, _ := newTestRedisCoordinator(t)
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "t1", "alice", types.PriorityNormal)
	require.NoError(t, err)
	require.NotEmpty(t, h.ID)

	got, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, types.HandleRunning, got.Status)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Queued)
	assert.Equal(t, 1, stats.Running)
}

func TestRedisPerPrincipalGateDenies(t *testing.T) {
	c, _ := newTestRedisCoordinator(t)
	ctx := context.Background()

	_, err := c.Enqueue(ctx, "t1", "alice", types.PriorityNormal)
	require.NoError(t, err)

	_, err = c.Enqueue(ctx, "t2", "alice", types.PriorityNormal)
	var ae *aerrors.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, aerrors.KindQueueFull, ae.Kind)
}

func TestRedisCancelRunningThenRelease(t *testing.T) {
	c, _ := newTestRedisCoordinator(t)
	ctx := context.Background()

	h, err := c.Enqueue(ctx, "t1", "alice", types.PriorityNormal)
	require.NoError(t, err)
	_, ok, err := c.Dequeue(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Cancel(ctx, h.ID))
	cancelled, err := c.Cancelled(ctx, h.ID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.NoError(t, c.Release(ctx, h.ID, types.HandleCancelled))
	cancelled, err = c.Cancelled(ctx, h.ID)
	require.NoError(t, err)
	assert.False(t, cancelled)

	ok, _, err = c.CanAdmit(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}
