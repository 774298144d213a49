package metrics

import (
	"context"
	"time"

	"github.com/cuemby/asaengine/pkg/types"
)

// StatsFunc reports current queue occupancy: the number of handles still
// queued and the number actively running. Collector takes this instead of
// a queue.Coordinator directly so pkg/metrics never imports pkg/queue,
// which in turn lets pkg/queue import pkg/metrics to emit
// AdmissionDenialsTotal at its own admission gate.
type StatsFunc func(ctx context.Context) (queued, running int, err error)

// Collector periodically samples queue occupancy into QueueDepth and
// JobsRunning so they reflect current state between admission/dequeue
// events rather than only moving on mutation.
type Collector struct {
	stats  StatsFunc
	stopCh chan struct{}
}

// NewCollector wraps a stats accessor for periodic gauge sampling.
func NewCollector(stats StatsFunc) *Collector {
	return &Collector{stats: stats, stopCh: make(chan struct{})}
}

// Start begins sampling on a 15-second interval in a background goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the sampling loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	queued, running, err := c.stats(context.Background())
	if err != nil {
		return
	}
	JobsRunning.Set(float64(running))
	// Stats does not split queued count by priority, so both occupy the
	// same "total" series. Admission denials are counted where they
	// happen, in pkg/queue's canAdmit gate, not sampled here.
	QueueDepth.WithLabelValues("total").Set(float64(queued))
}

// RecordStateTransition is a small helper call sites use instead of reaching
// into the raw CounterVec directly.
func RecordStateTransition(from, to types.State, outcome types.Signal) {
	StateTransitionsTotal.WithLabelValues(string(from), string(to), string(outcome)).Inc()
}
