// Package scheduler runs independent work items in bounded-retry waves.
//
// Every pending item of a wave runs in its own goroutine and the scheduler
// waits for all of them before deciding anything. Successful items leave the
// pending set for good; failed items have their retry count incremented and
// go into the next wave. The first time any item's retry count reaches
// MaxRetries the whole run aborts with RetryBudgetExhausted, even when other
// items could still succeed.
//
// Retry counts live in the orchestrator only. An operation receives its
// item and current retry count by value and reports back through its error.
//
//	report, err := scheduler.Run(ctx, []string{"orders", "users"},
//	    func(ctx context.Context, dataset string, retry int) error {
//	        return load(ctx, dataset)
//	    },
//	    scheduler.Options{Phase: "read", MaxRetries: 3})
package scheduler

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/metrics"
	"github.com/ajitpratap0/porter/pkg/observability"
)

// DefaultMaxRetries is the retry budget used when Options.MaxRetries is unset.
const DefaultMaxRetries = 3

// Operation performs one attempt of item. retryCount is 0 on the first
// attempt. Any non-nil error is a failed attempt.
type Operation[K comparable] func(ctx context.Context, item K, retryCount int) error

// Options configures a run.
type Options struct {
	// Phase labels logs, metrics and spans (e.g. "read", "write")
	Phase string
	// MaxRetries is the number of failed attempts that exhausts an item
	MaxRetries int
	// MaxParallel bounds concurrent units within a wave (0 = unbounded)
	MaxParallel int

	// InitialDelay is the pause before the first retry wave (0 = none)
	InitialDelay time.Duration
	// MaxDelay caps the pause between waves
	MaxDelay time.Duration
	// Multiplier grows the pause each wave
	Multiplier float64
	// RandomizeFactor adds jitter to the pause (0.25 = +/-25%)
	RandomizeFactor float64

	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.Multiplier <= 0 {
		o.Multiplier = 2.0
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 5 * time.Minute
	}
	if o.Phase == "" {
		o.Phase = "default"
	}
	if o.Logger == nil {
		o.Logger = logger.Get()
	}
	return o
}

// delay returns the pause before retry wave n (n >= 1).
func (o Options) delay(n int) time.Duration {
	if o.InitialDelay <= 0 || n < 1 {
		return 0
	}
	d := float64(o.InitialDelay) * math.Pow(o.Multiplier, float64(n-1))
	if d > float64(o.MaxDelay) {
		d = float64(o.MaxDelay)
	}
	if o.RandomizeFactor > 0 {
		delta := d * o.RandomizeFactor
		d = d - delta + rand.Float64()*(2*delta)
	}
	return time.Duration(d)
}

// Report summarizes a run. It is returned on abort as well.
type Report[K comparable] struct {
	// Waves is the number of waves dispatched
	Waves int
	// Attempts counts dispatches per item
	Attempts map[K]int
	// Succeeded lists items in the order their success was recorded
	Succeeded []K
}

// RetryCount returns the failed attempts of item.
func (r *Report[K]) RetryCount(item K) int {
	n := r.Attempts[item]
	for _, s := range r.Succeeded {
		if s == item {
			return n - 1
		}
	}
	return n
}

// Run executes items in waves until all succeed or one exhausts its budget.
func Run[K comparable](ctx context.Context, items []K, op Operation[K], opts Options) (*Report[K], error) {
	opts = opts.withDefaults()
	report := &Report[K]{Attempts: make(map[K]int, len(items))}

	if err := checkUnique(items); err != nil {
		return report, err
	}

	log := opts.Logger.With(zap.String("phase", opts.Phase))
	retries := make(map[K]int, len(items))
	pending := append([]K(nil), items...)

	for len(pending) > 0 {
		wave := report.Waves + 1
		if wave > 1 {
			if err := sleep(ctx, opts.delay(wave-1)); err != nil {
				return report, errors.Wrap(err, errors.ErrorTypeTimeout, fmt.Sprintf("%s run cancelled before wave %d", opts.Phase, wave))
			}
		}
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, errors.ErrorTypeTimeout, fmt.Sprintf("%s run cancelled before wave %d", opts.Phase, wave))
		}

		results := runWave(ctx, wave, pending, retries, op, opts, log)
		report.Waves = wave

		var next []K
		var exhausted []*WorkUnitFailure
		for i, item := range pending {
			report.Attempts[item]++
			failure := results[i]
			if failure == nil {
				report.Succeeded = append(report.Succeeded, item)
				continue
			}
			retries[item]++
			if retries[item] >= opts.MaxRetries {
				exhausted = append(exhausted, failure)
				continue
			}
			next = append(next, item)
		}

		if len(exhausted) > 0 {
			err := &RetryBudgetExhausted{
				Phase:      opts.Phase,
				Item:       exhausted[0].Item,
				Attempt:    exhausted[0].Attempt,
				MaxRetries: opts.MaxRetries,
				Cause:      exhausted[0],
			}
			for _, f := range exhausted[1:] {
				err.Others = append(err.Others, f.Item)
			}
			metrics.RetryExhausted.WithLabelValues(opts.Phase).Inc()
			log.Error("retry budget exhausted, aborting run",
				zap.String("item", err.Item),
				zap.Int("attempt", err.Attempt),
				zap.Strings("also_exhausted", err.Others),
				zap.Int("waves", report.Waves),
				zap.Error(exhausted[0].Cause))
			return report, err
		}
		pending = next
	}

	log.Info("all items succeeded",
		zap.Int("items", len(items)),
		zap.Int("waves", report.Waves))
	return report, nil
}

// runWave dispatches every pending item and blocks until all of them are
// done. Slot i of the result belongs to pending[i] and is the only state a
// unit writes.
func runWave[K comparable](ctx context.Context, wave int, pending []K, retries map[K]int, op Operation[K], opts Options, log *zap.Logger) []*WorkUnitFailure {
	ctx, span := observability.StartSpan(ctx, "scheduler.wave",
		attribute.String("phase", opts.Phase),
		attribute.Int("wave", wave),
		attribute.Int("items", len(pending)))

	metrics.Waves.WithLabelValues(opts.Phase).Inc()
	timer := metrics.NewTimer()

	results := make([]*WorkUnitFailure, len(pending))
	var g errgroup.Group
	if opts.MaxParallel > 0 {
		g.SetLimit(opts.MaxParallel)
	}
	for i, item := range pending {
		retryCount := retries[item]
		g.Go(func() error {
			results[i] = invoke(ctx, op, item, retryCount)
			return nil
		})
	}
	_ = g.Wait()

	elapsed := timer.Stop()
	metrics.WaveDuration.WithLabelValues(opts.Phase).Observe(elapsed.Seconds())

	failed := 0
	for _, f := range results {
		if f == nil {
			metrics.WorkUnits.WithLabelValues(opts.Phase, metrics.OutcomeSuccess).Inc()
			continue
		}
		failed++
		outcome := metrics.OutcomeFailure
		if f.Panic != nil {
			outcome = metrics.OutcomePanic
		}
		metrics.WorkUnits.WithLabelValues(opts.Phase, outcome).Inc()
		log.Warn("work unit failed",
			zap.String("item", f.Item),
			zap.Int("attempt", f.Attempt),
			zap.String("outcome", outcome),
			zap.Error(f))
	}

	span.SetAttributes(attribute.Int("failed", failed))
	var spanErr error
	if failed > 0 {
		spanErr = fmt.Errorf("%d of %d units failed", failed, len(pending))
	}
	observability.EndSpan(span, spanErr)

	log.Info("wave completed",
		zap.Int("wave", wave),
		zap.Int("dispatched", len(pending)),
		zap.Int("succeeded", len(pending)-failed),
		zap.Int("failed", failed),
		zap.Duration("duration", elapsed))
	return results
}

func invoke[K comparable](ctx context.Context, op Operation[K], item K, retryCount int) (failure *WorkUnitFailure) {
	name := fmt.Sprint(item)
	defer func() {
		if r := recover(); r != nil {
			failure = &WorkUnitFailure{
				Item:    name,
				Attempt: retryCount + 1,
				Panic:   r,
				Cause:   errors.New(errors.ErrorTypeWorkUnit, "panic: "+string(debug.Stack())),
			}
		}
	}()
	if err := op(ctx, item, retryCount); err != nil {
		return &WorkUnitFailure{Item: name, Attempt: retryCount + 1, Cause: err}
	}
	return nil
}

func checkUnique[K comparable](items []K) error {
	seen := make(map[K]struct{}, len(items))
	var dups []string
	for _, item := range items {
		if _, ok := seen[item]; ok {
			dups = append(dups, fmt.Sprint(item))
			continue
		}
		seen[item] = struct{}{}
	}
	if len(dups) > 0 {
		return errors.Newf(errors.ErrorTypeValidation, "work items must be unique, duplicated: %v", dups)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
