package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestTokenBucketAllow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	tb := NewTokenBucketRateLimiter(2, 3)
	tb.now, tb.lastTime = clock.now, clock.t

	for i := 0; i < 3; i++ {
		assert.True(t, tb.Allow(), "burst token %d", i)
	}
	assert.False(t, tb.Allow())

	clock.advance(500 * time.Millisecond)
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())

	clock.advance(time.Hour)
	stats := tb.Stats()
	assert.Equal(t, int64(4), stats.AllowedRequests)
	assert.Equal(t, int64(2), stats.BlockedRequests)
	assert.Equal(t, 3, stats.Burst)
}

func TestTokenBucketWait(t *testing.T) {
	tb := NewTokenBucketRateLimiter(100, 1)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, tb.Wait(ctx))
	require.NoError(t, tb.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokenBucketWaitCancelled(t *testing.T) {
	tb := NewTokenBucketRateLimiter(0.001, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
	assert.Equal(t, int64(1), tb.Stats().BlockedRequests)
}

func TestNewRateLimiterUnlimited(t *testing.T) {
	l := NewRateLimiter(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	assert.NoError(t, l.Wait(context.Background()))
}

func TestTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	limiter := NewTokenBucketRateLimiter(1000, 5)
	client := &http.Client{Transport: NewTransport("transport_test", limiter, nil)}

	before := testutil.ToFloat64(httpRequests.WithLabelValues("transport_test", "418"))
	for i := 0; i < 3; i++ {
		resp, err := client.Get(srv.URL)
		require.NoError(t, err)
		resp.Body.Close()
	}
	assert.Equal(t, before+3, testutil.ToFloat64(httpRequests.WithLabelValues("transport_test", "418")))
	assert.Equal(t, int64(3), limiter.Stats().AllowedRequests)
}

func TestTransportCancelledWait(t *testing.T) {
	limiter := NewTokenBucketRateLimiter(0.001, 1)
	require.True(t, limiter.Allow())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)

	_, err = NewTransport("transport_test", limiter, nil).RoundTrip(req)
	assert.ErrorIs(t, err, context.Canceled)
}
