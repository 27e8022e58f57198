package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
	"github.com/ajitpratap0/porter/pkg/testutil"

	_ "github.com/ajitpratap0/porter/pkg/connector/all"
)

const basePipeline = `
name: nightly
source:
  name: lake
  source_type: file
  args:
    root: data
lookup_sources:
  - name: control
    source_type: database
    args:
      driver: postgres
      database: control
      hostname: localhost
datasets:
  - name: orders
    file_path: orders.json
    file_type: json
    columns:
      - name: id
      - name: amount
        target_name: order_amount
  - name: users
    file_path: users.json
    file_type: json
targets:
  - name: mart
    target_type: file
    args:
      root: out
    rename_targets:
      users: dim_users
`

func loadPipeline(t *testing.T, doc string) *models.PipelineConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	p, err := models.LoadPipeline(path, schema.Default())
	require.NoError(t, err)
	return p
}

func testOptions(t *testing.T) *config.RunOptions {
	opts := config.DefaultRunOptions()
	opts.WorkDir = t.TempDir()
	return opts
}

func sampleRecords() map[string][]core.Record {
	return map[string][]core.Record{
		"orders": {
			{"id": 1, "amount": 9.5, "note": "dropped"},
			{"id": 2, "amount": 20, "note": "dropped"},
			{"id": 3, "amount": 1.25, "note": "dropped"},
		},
		"users": {
			{"id": 10, "name": "ada"},
			{"id": 11, "name": "linus"},
		},
	}
}

func newRunner(t *testing.T, p *models.PipelineConfig, opts *config.RunOptions, src core.Connector, tgt core.Connector, extra ...Option) *Runner {
	options := []Option{
		WithLogger(testutil.TestLogger(t)),
		WithConnector(schema.KindSource, "lake", src),
		WithConnector(schema.KindTarget, "mart", tgt),
		WithSleeper(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	}
	return NewRunner(p, opts, append(options, extra...)...)
}

func TestRunnerLoadsEveryDataset(t *testing.T) {
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	src := testutil.NewFakeSource("lake", sampleRecords())
	tgt := testutil.NewFakeTarget("mart")

	result, err := newRunner(t, loadPipeline(t, basePipeline), testOptions(t), src, tgt).Run(ctx)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 1, result.ReadWaves)
	assert.Equal(t, 1, result.WriteWaves)
	assert.Equal(t, models.StatePresent, result.Presence["orders"].Kind)
	assert.Equal(t, map[string]int64{"orders": 3, "users": 2}, result.Summary.Read)
	assert.Equal(t, map[string]int64{"mart/orders": 3, "mart/users": 2}, result.Summary.Written)
	assert.Equal(t, int64(5), result.Summary.RecordsWrote)

	orders := tgt.Written("orders")
	require.Len(t, orders, 3)
	assert.Equal(t, core.Record{"id": json.Number("1"), "order_amount": json.Number("9.5")}, orders[0])

	users := tgt.Written("dim_users")
	require.Len(t, users, 2)
	assert.Equal(t, "ada", users[0]["name"])

	connects, disconnects := src.Calls()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
	connects, disconnects = tgt.Calls()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
}

func TestRunnerRetriesFailedRead(t *testing.T) {
	src := testutil.NewFakeSource("lake", sampleRecords())
	src.FailReads = map[string]int{"orders": 2}
	tgt := testutil.NewFakeTarget("mart")

	result, err := newRunner(t, loadPipeline(t, basePipeline), testOptions(t), src, tgt).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, result.ReadWaves)
	reads := src.Reads("orders")
	require.Len(t, reads, 3)
	for i, req := range reads {
		assert.Equal(t, i, req.Attempt)
	}
	assert.Len(t, src.Reads("users"), 1)
	// the failed attempts leave nothing behind
	assert.Len(t, tgt.Written("orders"), 3)
}

func TestRunnerAbortsWhenReadBudgetIsExhausted(t *testing.T) {
	src := testutil.NewFakeSource("lake", sampleRecords())
	src.FailReads = map[string]int{"orders": 10}
	tgt := testutil.NewFakeTarget("mart")

	opts := testOptions(t)
	opts.MaxRetries = 2
	result, err := newRunner(t, loadPipeline(t, basePipeline), opts, src, tgt).Run(context.Background())
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeRetryExhausted))
	assert.Contains(t, err.Error(), `item "orders" exhausted its retry budget at attempt 2/2`)
	assert.Equal(t, 2, result.ReadWaves)
	assert.Zero(t, result.WriteWaves)
	assert.Empty(t, tgt.Plans(), "nothing is written once the read phase aborts")

	_, disconnects := src.Calls()
	assert.Equal(t, 1, disconnects)
}

func TestRunnerRetriesFailedWrite(t *testing.T) {
	src := testutil.NewFakeSource("lake", sampleRecords())
	tgt := testutil.NewFakeTarget("mart")
	tgt.FailWrites = map[string]int{"users": 1}

	result, err := newRunner(t, loadPipeline(t, basePipeline), testOptions(t), src, tgt).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.ReadWaves)
	assert.Equal(t, 2, result.WriteWaves)
	assert.Len(t, tgt.Written("dim_users"), 2)
}

const missingPipeline = `
name: missing
source:
  name: lake
  source_type: file
  args:
    root: data
datasets:
  - name: late
    file_path: late.json
    file_type: json
    on_dataset_missing:
      action: poll
      poll_interval: 30
      poll_count: 5
  - name: gone
    file_path: gone.json
    file_type: json
    on_dataset_missing:
      action: warning
  - name: here
    file_path: here.json
    file_type: json
targets:
  - name: mart
    target_type: file
    args:
      root: out
`

func TestRunnerResolvesMissingDatasets(t *testing.T) {
	src := testutil.NewFakeSource("lake", map[string][]core.Record{
		"late": {{"id": 1}},
		"here": {{"id": 2}},
	})
	src.AppearAfter = map[string]int{"late": 3}
	tgt := testutil.NewFakeTarget("mart")
	sleeper := &testutil.RecordingSleeper{}

	result, err := newRunner(t, loadPipeline(t, missingPipeline), testOptions(t), src, tgt,
		WithSleeper(sleeper.Sleep)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.StateResolved, result.Presence["late"].Kind)
	assert.Equal(t, models.StateMissingExhausted, result.Presence["gone"].Kind)
	assert.Equal(t, models.StatePresent, result.Presence["here"].Kind)
	assert.Equal(t, []string{"gone"}, result.Skipped)

	assert.Equal(t, 3, src.Checks("late"))
	assert.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, sleeper.Waits())

	assert.Empty(t, src.Reads("gone"))
	assert.Empty(t, tgt.Written("gone"))
	assert.Len(t, tgt.Written("late"), 1)
	assert.Len(t, result.Plans, 2)
}

func TestRunnerFailsOnMissingDataset(t *testing.T) {
	src := testutil.NewFakeSource("lake", map[string][]core.Record{"late": {{"id": 1}}})
	tgt := testutil.NewFakeTarget("mart")

	doc := missingPipeline + `
on_dataset_missing:
  action: error
`
	p := loadPipeline(t, doc)
	result, err := newRunner(t, p, testOptions(t), src, tgt).Run(context.Background())
	require.Error(t, err)

	assert.True(t, errors.IsType(err, errors.ErrorTypeDatasetMissing))
	assert.Contains(t, err.Error(), `dataset "here" is missing`)
	assert.Equal(t, models.StateFailed, result.Presence["here"].Kind)
	assert.Empty(t, src.Reads("late"), "no dataset is read when one is fatally missing")
}

func TestRunnerDynamicInputQuery(t *testing.T) {
	doc := `
name: incremental
source:
  name: lake
  source_type: file
  args:
    root: data
lookup_sources:
  - name: control
    source_type: database
    args:
      driver: postgres
      database: control
      hostname: localhost
datasets:
  - name: orders
    query: SELECT * FROM orders WHERE day = :day AND region = :region
    values_to_bind:
      region: eu
    dynamic_input_query:
      source: control
      query: SELECT max(day) AS day FROM loads
targets:
  - name: mart
    target_type: file
    args:
      root: out
`
	src := testutil.NewFakeSource("lake", map[string][]core.Record{"orders": {{"id": 1}}})
	tgt := testutil.NewFakeTarget("mart")
	exec := &testutil.FakeExecutor{
		FakeConnector: testutil.FakeConnector{ConnectorName: "control"},
		Rows:          []core.Record{{"day": "2024-03-01"}},
	}

	_, err := newRunner(t, loadPipeline(t, doc), testOptions(t), src, tgt,
		WithConnector(schema.KindSource, "control", exec)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"SELECT max(day) AS day FROM loads"}, exec.Queries())
	reads := src.Reads("orders")
	require.Len(t, reads, 1)
	assert.Equal(t, map[string]any{"day": "2024-03-01", "region": "eu"}, reads[0].Binds)

	connects, disconnects := exec.Calls()
	assert.Equal(t, 1, connects)
	assert.Equal(t, 1, disconnects)
}

func TestRunnerChecksCapabilitiesBeforeConnecting(t *testing.T) {
	src := testutil.NewFakeSource("lake", sampleRecords())
	notATarget := testutil.NewFakeSource("mart", nil)

	_, err := newRunner(t, loadPipeline(t, basePipeline), testOptions(t), src, notATarget).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	assert.Contains(t, err.Error(), `connector "mart" does not support target`)

	connects, _ := src.Calls()
	assert.Zero(t, connects)
}

func TestRunnerDryRun(t *testing.T) {
	src := testutil.NewFakeSource("lake", sampleRecords())
	tgt := testutil.NewFakeTarget("mart")

	opts := testOptions(t)
	opts.DryRun = true
	result, err := newRunner(t, loadPipeline(t, basePipeline), opts, src, tgt).Run(context.Background())
	require.NoError(t, err)

	assert.True(t, result.DryRun)
	assert.Equal(t, 1, src.Checks("orders"))
	assert.Empty(t, src.Reads("orders"))
	assert.Empty(t, tgt.Plans())
	require.Len(t, result.Plans, 2)
	assert.Equal(t, "dim_users", result.Plans[1].TargetName)
}

func TestRunnerRejectsInvalidOptions(t *testing.T) {
	opts := testOptions(t)
	opts.StagingCompression = "rar"
	_, err := newRunner(t, loadPipeline(t, basePipeline), opts,
		testutil.NewFakeSource("lake", nil), testutil.NewFakeTarget("mart")).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}
