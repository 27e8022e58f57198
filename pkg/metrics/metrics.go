// Package metrics exposes Porter's Prometheus metrics.
//
// All collectors are registered with the default registry through promauto
// and share the porter_ prefix. Serve exposes them over HTTP.
//
// # Basic Usage
//
//	metrics.WorkUnits.WithLabelValues("read", metrics.OutcomeSuccess).Inc()
//
//	timer := metrics.NewTimer()
//	runWave(items)
//	metrics.WaveDuration.WithLabelValues("read").Observe(timer.Stop().Seconds())
//
//	// Track throughput of a dataset
//	tracker := metrics.NewThroughputTracker("read", "orders")
//	for _, rec := range records {
//	    stage(rec)
//	    tracker.Increment(1)
//	}
//	rate := tracker.GetAndReset()
package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Work unit outcomes used as label values.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePanic   = "panic"
)

var (
	// Waves counts scheduler waves.
	// Labels: phase (read/write/...)
	Waves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_scheduler_waves_total",
			Help: "Total number of scheduler waves started",
		},
		[]string{"phase"},
	)

	// WorkUnits counts finished work unit attempts.
	// Labels: phase, outcome (success/failure/panic)
	WorkUnits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_work_units_total",
			Help: "Total number of work unit attempts by outcome",
		},
		[]string{"phase", "outcome"},
	)

	// RetryExhausted counts runs aborted because an item used its retry budget.
	RetryExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_retry_budget_exhausted_total",
			Help: "Total number of runs aborted on an exhausted retry budget",
		},
		[]string{"phase"},
	)

	// WaveDuration tracks how long a wave takes from fan-out to barrier.
	WaveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "porter_wave_duration_seconds",
			Help:    "Duration of scheduler waves in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		},
		[]string{"phase"},
	)

	// Records counts records moved per dataset.
	// Labels: phase (read/write), dataset
	Records = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_records_total",
			Help: "Total number of records read or written",
		},
		[]string{"phase", "dataset"},
	)

	// DatasetMissing counts terminal missing-policy states.
	// Labels: state (PRESENT/RESOLVED/MISSING_EXHAUSTED/FAILED)
	DatasetMissing = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "porter_dataset_presence_total",
			Help: "Terminal dataset presence states",
		},
		[]string{"state"},
	)

	// Throughput is the last measured records per second of a dataset.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "porter_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"phase", "dataset"},
	)
)

// Timer measures elapsed time.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed duration since creation. It can be called more
// than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker tracks records per second between resets.
// Thread-safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	phase     string
	dataset   string
}

// NewThroughputTracker creates a tracker reporting under phase and dataset.
func NewThroughputTracker(phase, dataset string) *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now(), phase: phase, dataset: dataset}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	t.count += n
	t.mu.Unlock()
}

// GetAndReset computes the throughput since the last reset, publishes it
// and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}
	rate := float64(t.count) / elapsed
	Throughput.WithLabelValues(t.phase, t.dataset).Set(rate)
	Records.WithLabelValues(t.phase, t.dataset).Add(float64(t.count))

	t.count = 0
	t.lastReset = time.Now()
	return rate
}

// Server serves /metrics.
type Server struct {
	srv  *http.Server
	done chan error
}

// Serve starts serving the default registry on addr.
func Serve(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{
		srv:  &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		done: make(chan error, 1),
	}
	go func() {
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	return s
}

// Shutdown stops the server and returns the error it stopped with, if any.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-s.done
}
