package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/porter/internal/pipeline"
	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/metrics"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/observability"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// runOptionFlags maps run option keys to their flags.
var runOptionFlags = map[string]string{
	"dry_run":             "dry-run",
	"max_retries":         "max-retries",
	"max_parallel":        "max-parallel",
	"retry_delay":         "retry-delay",
	"max_retry_delay":     "max-retry-delay",
	"work_dir":            "work-dir",
	"keep_staging":        "keep-staging",
	"staging_compression": "staging-compression",
	"metrics_addr":        "metrics-addr",
	"trace":               "trace",
	"timeout":             "timeout",
	"log_level":           "log-level",
	"debug":               "debug",
}

// loadRunOptions layers flags over PORTER_* environment variables over an
// optional options document over the defaults.
func loadRunOptions(flags *pflag.FlagSet, optionsFile string) (*config.RunOptions, error) {
	v := viper.New()
	v.SetEnvPrefix("PORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := config.DefaultRunOptions()
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("max_retries", defaults.MaxRetries)
	v.SetDefault("max_retry_delay", defaults.MaxRetryDelay)
	v.SetDefault("staging_compression", defaults.StagingCompression)

	for key, name := range runOptionFlags {
		if f := flags.Lookup(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	if optionsFile != "" {
		v.SetConfigFile(optionsFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read options file: %w", err)
		}
	}

	opts := config.DefaultRunOptions()
	if err := v.Unmarshal(opts); err != nil {
		return nil, fmt.Errorf("failed to decode run options: %w", err)
	}
	return opts, opts.Validate()
}

// applyLogOptions rebuilds the logger from the resolved options, which also
// see PORTER_LOG_LEVEL, PORTER_DEBUG and the options document.
func applyLogOptions(flags *pflag.FlagSet, opts *config.RunOptions) error {
	format, _ := flags.GetString("log-format")
	return logger.Init(logger.Config{
		Level:       opts.EffectiveLogLevel(),
		Development: opts.Debug,
		Encoding:    format,
	})
}

func newRunCmd() *cobra.Command {
	var file, optionsFile string
	defaults := config.DefaultRunOptions()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Long: `Run validates the pipeline, resolves missing datasets, reads every dataset
into local staging and writes it to every target. Reads and writes are retried
in waves; a dataset that fails max-retries times aborts the run.

Every option can also be set through PORTER_<OPTION> environment variables,
e.g. PORTER_MAX_RETRIES=5, or an --options document.`,
		Example: `  porter run -f pipeline.yaml
  porter run -f pipeline.yaml --dry-run
  porter run -f pipeline.yaml --max-retries 5 --max-parallel 4 --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := loadRunOptions(cmd.Flags(), optionsFile)
			if err != nil {
				return err
			}
			if err := applyLogOptions(cmd.Flags(), opts); err != nil {
				return err
			}
			return runPipeline(cmd, file, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", "", "Pipeline document (.yaml, .yml or .json)")
	f.StringVar(&optionsFile, "options", "", "Run options document")
	f.Bool("dry-run", false, "Validate and check datasets exist without reading or writing")
	f.Int("max-retries", defaults.MaxRetries, "Failed attempts after which a dataset aborts the run")
	f.Int("max-parallel", defaults.MaxParallel, "Concurrent datasets per wave (0 = all)")
	f.Duration("retry-delay", defaults.RetryDelay, "Pause before the first retry wave, doubled each wave")
	f.Duration("max-retry-delay", defaults.MaxRetryDelay, "Longest pause between waves")
	f.String("work-dir", "", "Staging directory (default: a temporary directory)")
	f.Bool("keep-staging", false, "Keep staging files after the run")
	f.String("staging-compression", defaults.StagingCompression, "Staging codec (none, gzip, zstd, snappy, s2, lz4)")
	f.String("metrics-addr", "", "Serve prometheus metrics on this address, e.g. :9102")
	f.Bool("trace", false, "Export trace spans to stderr")
	f.Duration("timeout", 0, "Abort the run after this long (0 = no limit)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runPipeline(cmd *cobra.Command, file string, opts *config.RunOptions) error {
	log := logger.Get().With(zap.String("component", "porter-cli"))

	p, err := models.LoadPipeline(file, schema.Default())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.MetricsAddr != "" {
		srv := metrics.Serve(opts.MetricsAddr)
		log.Info("serving metrics", zap.String("addr", opts.MetricsAddr))
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil {
				log.Warn("metrics server stopped with error", zap.Error(err))
			}
		}()
	}

	tracing := observability.DefaultConfig()
	tracing.Enabled = opts.Trace
	tracing.ServiceVersion = version
	tracing.Writer = cmd.ErrOrStderr()
	shutdown, err := observability.Init(ctx, tracing)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	result, err := pipeline.NewRunner(p, opts).Run(ctx)
	if result != nil {
		printResult(cmd, result)
	}
	return err
}

func printResult(cmd *cobra.Command, r *pipeline.Result) {
	out := cmd.OutOrStdout()
	if r.DryRun {
		fmt.Fprintf(out, "dry run %s: %d writes planned\n", r.RunID, len(r.Plans))
		for _, plan := range r.Plans {
			fmt.Fprintf(out, "  %s -> %s.%s (%s)\n", plan.Dataset, plan.Target, plan.TargetName, plan.Mode)
		}
		return
	}
	fmt.Fprintf(out, "run %s: read waves %d, write waves %d, elapsed %s\n",
		r.RunID, r.ReadWaves, r.WriteWaves, r.Summary.Elapsed.Round(time.Millisecond))
	for _, name := range pipeline.Keys(r.Summary.Read) {
		fmt.Fprintf(out, "  read    %-30s %d\n", name, r.Summary.Read[name])
	}
	for _, name := range pipeline.Keys(r.Summary.Written) {
		fmt.Fprintf(out, "  written %-30s %d\n", name, r.Summary.Written[name])
	}
	for _, name := range r.Skipped {
		fmt.Fprintf(out, "  skipped %s (missing)\n", name)
	}
}
