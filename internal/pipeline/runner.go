// Package pipeline runs a validated pipeline.
//
// A run builds the source, lookup and target connectors from the registry
// and checks their capabilities, resolves every dataset's presence with the
// missing-dataset policy, reads each dataset into a local staging file and
// then writes every staged dataset into every target that loads it. Reads
// and writes are independent work items of the wave scheduler, so a failed
// dataset is retried without touching the others and a dataset that exhausts
// its retry budget aborts the run.
//
// # Basic Usage
//
//	p, err := models.LoadPipeline("pipeline.yaml", schema.Default())
//	if err != nil {
//	    return err
//	}
//	result, err := pipeline.NewRunner(p, config.DefaultRunOptions()).Run(ctx)
package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ajitpratap0/porter/internal/scheduler"
	"github.com/ajitpratap0/porter/pkg/compression"
	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/metrics"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/observability"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default is the global logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithRegistry sets the connector registry. The default is the global one.
func WithRegistry(reg *registry.Registry) Option {
	return func(r *Runner) { r.registry = reg }
}

// WithSleeper replaces the wait between presence checks.
func WithSleeper(s models.Sleeper) Option {
	return func(r *Runner) { r.sleep = s }
}

// WithConnector uses c for the source or target called name instead of
// creating it from the registry.
func WithConnector(kind schema.Kind, name string, c core.Connector) Option {
	return func(r *Runner) { r.injected[connectorKey{kind, name}] = c }
}

type connectorKey struct {
	kind schema.Kind
	name string
}

// Runner executes one pipeline.
type Runner struct {
	pipeline *models.PipelineConfig
	opts     *config.RunOptions
	registry *registry.Registry
	logger   *zap.Logger
	sleep    models.Sleeper
	injected map[connectorKey]core.Connector

	source  core.Source
	lookups map[string]core.Executor
	targets map[string]core.Target
	opened  []core.Connector

	staging *Staging
	stats   *Stats
}

// NewRunner creates a runner for a validated pipeline. A nil opts uses the
// defaults.
func NewRunner(p *models.PipelineConfig, opts *config.RunOptions, options ...Option) *Runner {
	if opts == nil {
		opts = config.DefaultRunOptions()
	}
	r := &Runner{
		pipeline: p,
		opts:     opts,
		registry: registry.GetRegistry(),
		logger:   logger.Get(),
		sleep:    models.SleepContext,
		injected: make(map[connectorKey]core.Connector),
		lookups:  make(map[string]core.Executor),
		targets:  make(map[string]core.Target),
	}
	for _, o := range options {
		o(r)
	}
	return r
}

// Result describes a finished run. It is returned with whatever was
// completed when the run fails.
type Result struct {
	RunID  string
	DryRun bool
	// Presence is the terminal missing-policy state per dataset
	Presence map[string]models.MissingState
	// Skipped lists datasets that were missing and tolerated
	Skipped []string
	// Plans are the writes the run performs or, on a dry run, would perform
	Plans      []models.WritePlan
	ReadWaves  int
	WriteWaves int
	Summary    Summary
}

// Run executes the pipeline.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	if err := r.opts.Validate(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid run options")
	}
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	ctx = context.WithValue(ctx, logger.PipelineKey, r.pipeline.Name)
	r.logger = r.logger.With(zap.String("run_id", runID), zap.String("pipeline", r.pipeline.Name))
	r.stats = NewStats()

	ctx, span := observability.StartSpan(ctx, "pipeline.run",
		attribute.String("pipeline", r.pipeline.Name),
		attribute.String("run_id", runID),
		attribute.Bool("dry_run", r.opts.DryRun))

	result := &Result{RunID: runID, DryRun: r.opts.DryRun}
	err := r.run(ctx, result)
	result.Summary = r.stats.Summary()
	observability.EndSpan(span, err)

	if err != nil {
		r.logger.Error("pipeline failed", zap.Error(err), zap.Duration("elapsed", result.Summary.Elapsed))
		return result, err
	}
	r.logger.Info("pipeline finished",
		zap.Bool("dry_run", result.DryRun),
		zap.Int64("records_read", result.Summary.RecordsRead),
		zap.Int64("records_written", result.Summary.RecordsWrote),
		zap.Duration("elapsed", result.Summary.Elapsed))
	return result, nil
}

func (r *Runner) run(ctx context.Context, result *Result) error {
	if err := r.buildConnectors(); err != nil {
		return err
	}
	if err := r.connect(ctx); err != nil {
		return err
	}
	defer r.disconnect(context.WithoutCancel(ctx))

	if n := len(r.pipeline.PreValidations) + len(r.pipeline.PostValidations) +
		len(r.pipeline.PreTransformations) + len(r.pipeline.PostTransformations); n > 0 {
		r.logger.Debug("validations and transformations are run by the SQL engine, not the loader", zap.Int("count", n))
	}

	presence, err := r.resolvePresence(ctx)
	result.Presence = presence
	if err != nil {
		return err
	}

	var datasets []string
	active := make(map[string]bool)
	for _, d := range r.pipeline.Datasets {
		if presence[d.Name].Kind == models.StateMissingExhausted {
			result.Skipped = append(result.Skipped, d.Name)
			continue
		}
		datasets = append(datasets, d.Name)
		active[d.Name] = true
	}
	for _, plan := range r.pipeline.WritePlans() {
		if active[plan.Dataset] {
			result.Plans = append(result.Plans, plan)
		}
	}

	if r.opts.DryRun {
		for _, plan := range result.Plans {
			r.logger.Info("dry run: would write",
				zap.String("target", plan.Target),
				zap.String("dataset", plan.Dataset),
				zap.String("target_name", plan.TargetName),
				zap.String("mode", string(plan.Mode)),
				zap.Bool("truncate", plan.Truncate))
		}
		return nil
	}

	if err := r.openStaging(); err != nil {
		return err
	}
	defer r.closeStaging()

	readReport, err := scheduler.Run(ctx, datasets, r.readDataset, r.schedulerOptions("read"))
	result.ReadWaves = readReport.Waves
	if err != nil {
		return err
	}

	writeReport, err := scheduler.Run(ctx, result.Plans, r.writePlan, r.schedulerOptions("write"))
	result.WriteWaves = writeReport.Waves
	return err
}

func (r *Runner) schedulerOptions(phase string) scheduler.Options {
	return scheduler.Options{
		Phase:        phase,
		MaxRetries:   r.opts.MaxRetries,
		MaxParallel:  r.opts.MaxParallel,
		InitialDelay: r.opts.RetryDelay,
		MaxDelay:     r.opts.MaxRetryDelay,
		Logger:       r.logger,
	}
}

// buildConnectors creates every connector the run needs and checks that
// each one supports what it is used for. All problems are reported together
// before anything is connected.
func (r *Runner) buildConnectors() error {
	var errs error
	baseDir := r.pipeline.BaseDir()

	src := r.pipeline.Source
	srcConn, err := r.create(schema.KindSource, src.Name, func() (core.Connector, error) {
		return r.registry.CreateSource(src, baseDir)
	})
	if err != nil {
		errs = multierr.Append(errs, err)
	} else if r.source, err = core.AsSource(srcConn); err != nil {
		errs = multierr.Append(errs, err)
	} else {
		r.opened = append(r.opened, srcConn)
	}

	for _, d := range r.pipeline.Datasets {
		q := d.DynamicInputQuery
		if q == nil {
			continue
		}
		if _, done := r.lookups[q.Source]; done {
			continue
		}
		cfg, ok := r.pipeline.LookupSource(q.Source)
		if !ok {
			errs = multierr.Append(errs, errors.Newf(errors.ErrorTypeCrossReference,
				"dataset %q: dynamic_input_query source %q is not declared", d.Name, q.Source))
			continue
		}
		var conn core.Connector
		if cfg.Name == src.Name {
			if srcConn == nil {
				continue
			}
			conn = srcConn
		} else {
			conn, err = r.create(schema.KindSource, cfg.Name, func() (core.Connector, error) {
				return r.registry.CreateSource(cfg, baseDir)
			})
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			r.opened = append(r.opened, conn)
		}
		exec, err := core.AsExecutor(conn)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.lookups[q.Source] = exec
	}

	for i := range r.pipeline.Targets {
		tgt := &r.pipeline.Targets[i]
		conn, err := r.create(schema.KindTarget, tgt.Name, func() (core.Connector, error) {
			return r.registry.CreateTarget(tgt, baseDir)
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		t, err := core.AsTarget(conn)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		r.targets[tgt.Name] = t
		r.opened = append(r.opened, conn)
	}
	return errs
}

func (r *Runner) create(kind schema.Kind, name string, build func() (core.Connector, error)) (core.Connector, error) {
	if c, ok := r.injected[connectorKey{kind, name}]; ok {
		return c, nil
	}
	return build()
}

func (r *Runner) connect(ctx context.Context) error {
	for i, c := range r.opened {
		if err := c.Connect(ctx); err != nil {
			r.opened = r.opened[:i]
			r.disconnect(ctx)
			return errors.Wrap(err, errors.ErrorTypeConnection, fmt.Sprintf("failed to connect %q", c.Name()))
		}
	}
	return nil
}

func (r *Runner) disconnect(ctx context.Context) {
	for i := len(r.opened) - 1; i >= 0; i-- {
		c := r.opened[i]
		if err := c.Disconnect(ctx); err != nil {
			r.logger.Warn("failed to disconnect", zap.String("connector", c.Name()), zap.Error(err))
		}
	}
	r.opened = nil
}

func (r *Runner) openStaging() error {
	alg, err := compression.Parse(r.opts.StagingCompression)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid staging compression")
	}
	dir, created, err := r.opts.StagingDir()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to prepare staging")
	}
	r.staging = NewStaging(dir, alg)
	if created && !r.opts.KeepStaging {
		r.staging.cleanup = func() error { return os.RemoveAll(dir) }
	}
	r.logger.Debug("staging ready", zap.String("dir", dir), zap.String("compression", string(alg)))
	return nil
}

func (r *Runner) closeStaging() {
	if r.staging == nil || r.staging.cleanup == nil {
		return
	}
	if err := r.staging.cleanup(); err != nil {
		r.logger.Warn("failed to remove staging dir", zap.String("dir", r.staging.dir), zap.Error(err))
	}
}

// readDataset is the read phase operation: one dataset into its staging
// file. Every attempt starts from an empty file.
func (r *Runner) readDataset(ctx context.Context, name string, attempt int) error {
	d, ok := r.pipeline.Dataset(name)
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "dataset %q is not declared", name)
	}
	ctx = context.WithValue(ctx, logger.DatasetKey, name)
	ctx, span := observability.StartSpan(ctx, "pipeline.read",
		attribute.String("dataset", name),
		attribute.Int("attempt", attempt))

	start := time.Now()
	n, err := r.read(ctx, d, attempt)
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}

	r.stats.RecordRead(name, n)
	r.logger.Info("dataset staged",
		zap.String("dataset", name),
		zap.Int("attempt", attempt),
		zap.Int64("records", n),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (r *Runner) read(ctx context.Context, d *models.Dataset, attempt int) (int64, error) {
	binds, err := r.binds(ctx, d)
	if err != nil {
		return 0, err
	}
	w, err := r.staging.Create(d)
	if err != nil {
		return 0, err
	}
	readErr := r.source.Read(ctx, core.ReadRequest{Dataset: d, Binds: binds, Attempt: attempt}, w)
	if err := multierr.Combine(readErr, w.Close()); err != nil {
		return 0, err
	}
	return w.Count(), nil
}

// binds merges the dataset's values_to_bind with the first row of its
// dynamic input query.
func (r *Runner) binds(ctx context.Context, d *models.Dataset) (map[string]any, error) {
	q := d.DynamicInputQuery
	if q == nil {
		return d.BindValues(nil), nil
	}
	exec, ok := r.lookups[q.Source]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeCrossReference, "no executor for source %q", q.Source)
	}
	rows, err := exec.Execute(ctx, q.Query, q.ValuesToBind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery,
			fmt.Sprintf("dynamic input query of dataset %q failed", d.Name))
	}
	if len(rows) == 0 {
		r.logger.Warn("dynamic input query returned no rows", zap.String("dataset", d.Name))
		return d.BindValues(nil), nil
	}
	return d.BindValues(rows[0]), nil
}

// writePlan is the write phase operation: one staged dataset into one
// target.
func (r *Runner) writePlan(ctx context.Context, plan models.WritePlan, attempt int) error {
	d, ok := r.pipeline.Dataset(plan.Dataset)
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "dataset %q is not declared", plan.Dataset)
	}
	target, ok := r.targets[plan.Target]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "target %q is not declared", plan.Target)
	}

	ctx = context.WithValue(ctx, logger.DatasetKey, plan.Dataset)
	ctx = context.WithValue(ctx, logger.ConnectorKey, plan.Target)
	ctx, span := observability.StartSpan(ctx, "pipeline.write",
		attribute.String("target", plan.Target),
		attribute.String("dataset", plan.Dataset),
		attribute.String("mode", string(plan.Mode)),
		attribute.Int("attempt", attempt))

	in, err := r.staging.Open(plan.Dataset)
	if err != nil {
		observability.EndSpan(span, err)
		return err
	}
	n, err := target.Write(ctx, core.WriteRequest{Dataset: d, Plan: plan, Attempt: attempt}, in)
	err = multierr.Append(err, in.Close())
	observability.EndSpan(span, err)
	if err != nil {
		return err
	}

	metrics.Records.WithLabelValues("write", plan.Dataset).Add(float64(n))
	r.stats.RecordWritten(plan.String(), n)
	r.logger.Info("dataset written",
		zap.String("target", plan.Target),
		zap.String("dataset", plan.Dataset),
		zap.String("target_name", plan.TargetName),
		zap.Int("attempt", attempt),
		zap.Int64("records", n))
	return nil
}
