package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/asaengine/pkg/types"
)

func TestCollectorSamplesQueueStats(t *testing.T) {
	stats := func(ctx context.Context) (int, int, error) {
		return 3, 2, nil
	}
	c := NewCollector(stats)
	c.Start()
	defer c.Stop()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(JobsRunning) == 2
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 3.0, testutil.ToFloat64(QueueDepth.WithLabelValues("total")))
}

func TestRecordStateTransitionIncrementsCounter(t *testing.T) {
	before := testutil.ToFloat64(StateTransitionsTotal.WithLabelValues(
		string(types.StateGeneratingFix), string(types.StateRunningTestsAfterFix), string(types.SignalSuccess)))

	RecordStateTransition(types.StateGeneratingFix, types.StateRunningTestsAfterFix, types.SignalSuccess)

	after := testutil.ToFloat64(StateTransitionsTotal.WithLabelValues(
		string(types.StateGeneratingFix), string(types.StateRunningTestsAfterFix), string(types.SignalSuccess)))
	assert.Equal(t, before+1, after)
}
