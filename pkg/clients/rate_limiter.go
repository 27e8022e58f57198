// Package clients provides the shared HTTP plumbing of the connectors: a
// token bucket rate limiter and a RoundTripper that applies it.
package clients

import (
	"context"
	"sync"
	"time"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	// Allow reports whether a request may proceed now and consumes a token
	// if so
	Allow() bool

	// Wait blocks until a request is allowed or ctx is done
	Wait(ctx context.Context) error

	// Stats returns limiter statistics
	Stats() RateLimiterStats
}

// RateLimiterStats describes the limiter's current state.
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	TotalWait       time.Duration `json:"total_wait"`
}

// TokenBucketRateLimiter implements the token bucket algorithm. Tokens are
// added at rate per second up to burst and each request consumes one.
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time
	now      func() time.Time

	allowedRequests int64
	blockedRequests int64
	totalWait       time.Duration

	mu sync.Mutex
}

// NewRateLimiter creates a token bucket limiter. A non-positive rate
// returns a limiter that never blocks. Burst is at least 1.
func NewRateLimiter(rate float64, burst int) RateLimiter {
	if rate <= 0 {
		return unlimited{}
	}
	return NewTokenBucketRateLimiter(rate, burst)
}

// NewTokenBucketRateLimiter creates a full bucket.
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
		now:      time.Now,
	}
}

// Allow checks if a request is allowed immediately.
func (tb *TokenBucketRateLimiter) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens--
		tb.allowedRequests++
		return true
	}
	tb.blockedRequests++
	return false
}

// Wait blocks until a token is available.
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.allowedRequests++
			tb.totalWait += time.Since(start)
			tb.mu.Unlock()
			return nil
		}
		deficit := 1.0 - tb.tokens
		wait := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		if timer == nil {
			timer = time.NewTimer(wait)
		} else {
			timer.Reset(wait)
		}
		select {
		case <-timer.C:
		case <-ctx.Done():
			tb.mu.Lock()
			tb.blockedRequests++
			tb.mu.Unlock()
			return ctx.Err()
		}
	}
}

// refill adds tokens for the time elapsed since the last refill.
func (tb *TokenBucketRateLimiter) refill() {
	now := tb.now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastTime = now
}

// Stats returns rate limiter statistics.
func (tb *TokenBucketRateLimiter) Stats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: tb.allowedRequests,
		BlockedRequests: tb.blockedRequests,
		CurrentTokens:   tb.tokens,
		TotalWait:       tb.totalWait,
	}
}

type unlimited struct{}

func (unlimited) Allow() bool                    { return true }
func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (unlimited) Stats() RateLimiterStats        { return RateLimiterStats{} }
