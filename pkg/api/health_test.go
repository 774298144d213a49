package api

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/asaengine/pkg/metrics"
)

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func waitForComponent(t *testing.T, name string, want string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got, ok := metrics.GetHealth().Components[name]; ok && got == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("component %q never reported %q, last state: %v", name, want, metrics.GetHealth().Components[name])
}

func TestHealthRegistrarReportsHealthyComponents(t *testing.T) {
	store := &fakePinger{}
	queue := &fakePinger{}
	r := NewHealthRegistrar(store, queue, 20*time.Millisecond)
	r.Start()
	defer r.Stop()

	waitForComponent(t, "store", "healthy")
	waitForComponent(t, "queue", "healthy")
}

func TestHealthRegistrarReportsUnhealthyComponentOnPingError(t *testing.T) {
	store := &fakePinger{err: errors.New("connection refused")}
	queue := &fakePinger{}
	r := NewHealthRegistrar(store, queue, 20*time.Millisecond)
	r.Start()
	defer r.Stop()

	waitForComponent(t, "store", "unhealthy: connection refused")
	waitForComponent(t, "queue", "healthy")
}

func TestNewHealthRegistrarDefaultsIntervalWhenNonPositive(t *testing.T) {
	r := NewHealthRegistrar(&fakePinger{}, &fakePinger{}, 0)
	assert.Equal(t, 10*time.Second, r.interval)
}
