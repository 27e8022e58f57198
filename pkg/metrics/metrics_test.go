package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThroughputTracker(t *testing.T) {
	before := testutil.ToFloat64(Records.WithLabelValues("read", "tracker_test"))

	tracker := NewThroughputTracker("read", "tracker_test")
	tracker.Increment(10)
	tracker.Increment(5)
	time.Sleep(5 * time.Millisecond)

	rate := tracker.GetAndReset()
	assert.Greater(t, rate, 0.0)
	assert.Equal(t, before+15, testutil.ToFloat64(Records.WithLabelValues("read", "tracker_test")))
	assert.Equal(t, rate, testutil.ToFloat64(Throughput.WithLabelValues("read", "tracker_test")))
}

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	first := timer.Stop()
	assert.GreaterOrEqual(t, first, time.Millisecond)
	assert.GreaterOrEqual(t, timer.Stop(), first)
}

func TestServeShutdown(t *testing.T) {
	s := Serve("127.0.0.1:0")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
}
