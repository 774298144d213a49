package api

import (
	"context"
	"time"

	"github.com/cuemby/asaengine/pkg/metrics"
)

// Pinger is something whose reachability can be checked cheaply; the
// store and queue coordinator both implement one in terms of their own
// lightweight read (a handle status lookup, a stats call).
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthRegistrar periodically probes the store and queue and reports
// their reachability through pkg/metrics' component registry, which the
// /health and /ready handlers already serve. It replaces a bespoke
// health-check HTTP server with small periodic pings into the same
// registry the rest of the process reads from.
type HealthRegistrar struct {
	store    Pinger
	queue    Pinger
	interval time.Duration
	stopCh   chan struct{}
}

// NewHealthRegistrar builds a registrar pinging store and queue every
// interval.
func NewHealthRegistrar(store, queue Pinger, interval time.Duration) *HealthRegistrar {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthRegistrar{store: store, queue: queue, interval: interval, stopCh: make(chan struct{})}
}

// Start begins the background ping loop. It also registers "api" as
// healthy immediately, since reaching this code means the process is up.
func (h *HealthRegistrar) Start() {
	metrics.RegisterComponent("api", true, "")
	go func() {
		h.probe()
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				h.probe()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends the background ping loop.
func (h *HealthRegistrar) Stop() {
	close(h.stopCh)
}

func (h *HealthRegistrar) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		metrics.UpdateComponent("store", false, err.Error())
	} else {
		metrics.UpdateComponent("store", true, "")
	}

	if err := h.queue.Ping(ctx); err != nil {
		metrics.UpdateComponent("queue", false, err.Error())
	} else {
		metrics.UpdateComponent("queue", true, "")
	}
}
