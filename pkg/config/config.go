// Package config loads Porter configuration documents and holds the run
// options threaded through a pipeline run.
//
// Run options replace the process-wide CLI state: the CLI builds one
// RunOptions value from flags and PORTER_* environment variables and passes
// it down explicitly.
//
// Example usage:
//
//	opts := config.DefaultRunOptions()
//	opts.MaxRetries = 5
//
//	if err := opts.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunOptions controls a single pipeline run.
type RunOptions struct {
	// DryRun validates config and checks datasets exist but performs no reads or writes
	DryRun bool `yaml:"dry_run" json:"dry_run" mapstructure:"dry_run"`
	// Debug switches logging to development mode
	Debug bool `yaml:"debug" json:"debug" mapstructure:"debug"`
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level" mapstructure:"log_level"`

	// MaxRetries is the per-item retry budget of the wave scheduler
	MaxRetries int `yaml:"max_retries" json:"max_retries" mapstructure:"max_retries"`
	// MaxParallel bounds the goroutines of one wave (0 = unbounded)
	MaxParallel int `yaml:"max_parallel" json:"max_parallel" mapstructure:"max_parallel"`
	// RetryDelay is the pause before the first retry wave, doubled each wave
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" mapstructure:"retry_delay"`
	// MaxRetryDelay caps the pause between waves
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay" mapstructure:"max_retry_delay"`

	// WorkDir holds staging files; empty means a temporary directory
	WorkDir string `yaml:"work_dir" json:"work_dir" mapstructure:"work_dir"`
	// KeepStaging leaves staging files in place after the run
	KeepStaging bool `yaml:"keep_staging" json:"keep_staging" mapstructure:"keep_staging"`
	// StagingCompression selects the staging file codec (none, gzip, zstd, snappy, s2, lz4)
	StagingCompression string `yaml:"staging_compression" json:"staging_compression" mapstructure:"staging_compression"`

	// MetricsAddr serves prometheus metrics when set (e.g. ":9102")
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr" mapstructure:"metrics_addr"`
	// Trace exports spans as JSON to the CLI's stderr
	Trace bool `yaml:"trace" json:"trace" mapstructure:"trace"`
	// Timeout bounds the whole run (0 = none)
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

// DefaultRunOptions returns the options used when nothing is overridden.
func DefaultRunOptions() *RunOptions {
	return &RunOptions{
		LogLevel:           "info",
		MaxRetries:         3,
		MaxParallel:        0,
		RetryDelay:         0,
		MaxRetryDelay:      time.Minute,
		StagingCompression: "zstd",
	}
}

// Validate checks that values are within acceptable ranges.
func (o *RunOptions) Validate() error {
	if o.MaxRetries <= 0 {
		return fmt.Errorf("max_retries must be positive")
	}
	if o.MaxParallel < 0 {
		return fmt.Errorf("max_parallel cannot be negative")
	}
	if o.RetryDelay < 0 || o.MaxRetryDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if o.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	switch o.StagingCompression {
	case "", "none", "gzip", "zstd", "snappy", "s2", "lz4":
	default:
		return fmt.Errorf("staging_compression %q is not supported", o.StagingCompression)
	}
	return nil
}

// EffectiveLogLevel returns debug when Debug is set, LogLevel otherwise.
func (o *RunOptions) EffectiveLogLevel() string {
	if o.Debug {
		return "debug"
	}
	if o.LogLevel == "" {
		return "info"
	}
	return o.LogLevel
}

// StagingDir returns WorkDir, creating a temporary directory when it is
// empty. The bool reports whether the directory was created here.
func (o *RunOptions) StagingDir() (string, bool, error) {
	if o.WorkDir != "" {
		if err := os.MkdirAll(o.WorkDir, 0o755); err != nil {
			return "", false, fmt.Errorf("failed to create work dir: %w", err)
		}
		return filepath.Clean(o.WorkDir), false, nil
	}
	dir, err := os.MkdirTemp("", "porter-staging-")
	if err != nil {
		return "", false, fmt.Errorf("failed to create staging dir: %w", err)
	}
	return dir, true, nil
}
