// Package porter is a declarative Extract & Load tool. A pipeline document
// names sources, targets, secrets backends and datasets; porter validates
// the whole document against the args schema of every connector variant and
// then moves each dataset from its source into one or more targets.
//
// # Architecture
//
// A run goes through three phases:
//
// 1. Validation: the document is decoded from YAML or JSON, every
// connector's args are checked against the schema registered for its
// variant, and the pipeline is cross-validated (dataset and target
// references, load_only, duplicate names). All problems are reported in one
// error.
//
// 2. Read: datasets are resolved for presence, applying their
// on_dataset_missing policy, and the present ones are read into a staging
// area of compressed JSON lines.
//
// 3. Write: every (target, dataset) pair is written from staging.
//
// Reads and writes are scheduled in waves: each wave runs the pending work
// units in parallel up to max_parallel, failed units are retried in the
// next wave with backoff, and a unit that uses up its retry budget aborts
// the run.
//
// # Quick Start
//
//	porter validate pipeline.yaml
//	porter run pipeline.yaml --max-parallel 8 --max-retries 3
//	porter run pipeline.yaml --dry-run
//	porter list
//
// # Key Packages
//
//	pkg/schema        - Args schemas keyed by connector variant
//	pkg/models        - Pipeline documents and their validation
//	pkg/connector     - Connector capabilities, registry and built-ins
//	internal/scheduler - Wave-based parallel retry scheduler
//	internal/pipeline - The runner: presence, staging, read and write phases
//	pkg/config        - Document loading and run options
//	pkg/errors        - Structured error handling
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus metrics
//
// # Configuration
//
// Pipeline documents support ${VAR_NAME} environment substitution. Run
// options come from flags, PORTER_* environment variables and an optional
// options file, in that order of precedence.
package porter
