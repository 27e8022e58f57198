package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

func newTestConnector(t *testing.T, raw map[string]any) *Connector {
	t.Helper()
	args, err := schema.Validate(schema.VariantOf(schema.KindSource, "file"), raw)
	require.NoError(t, err)

	conn, err := New(registry.Config{Name: "files", Args: args, BaseDir: t.TempDir()})
	require.NoError(t, err)
	c := conn.(*Connector)
	require.NoError(t, c.Connect(context.Background()))
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestArgsValidation(t *testing.T) {
	variant := schema.VariantOf(schema.KindTarget, "file")

	args, err := schema.Validate(variant, nil)
	require.NoError(t, err)
	typed := args.(*Args)
	assert.Equal(t, ",", typed.Delimiter)
	assert.True(t, typed.Header)
	assert.Equal(t, models.FileTypeJSON, typed.Format)

	_, err = schema.Validate(variant, map[string]any{"delimiter": ";;", "compression": "rar", "bucket": "x"})
	require.Error(t, err)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"bucket"}, verr.Unknown)
}

func TestParseLocation(t *testing.T) {
	assert.Equal(t, Location{Scheme: "s3", Bucket: "data", Prefix: "raw/orders"}, ParseLocation("s3://data/raw/orders/"))
	assert.Equal(t, Location{Scheme: "gs", Bucket: "lake"}, ParseLocation("gs://lake"))
	assert.Equal(t, Location{Prefix: "./local"}, ParseLocation("./local"))
}

func TestReadCSV(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "orders.csv"), "id,amount\n1,9.5\n2,3\n")

	c := newTestConnector(t, map[string]any{"root": root})
	ds := &models.Dataset{Name: "orders", FilePath: "orders.csv", FileType: models.FileTypeCSV}

	ok, err := c.Exists(context.Background(), ds)
	require.NoError(t, err)
	assert.True(t, ok)

	var out core.SliceWriter
	require.NoError(t, c.Read(context.Background(), core.ReadRequest{Dataset: ds}, &out))
	assert.Equal(t, []core.Record{
		{"id": "1", "amount": "9.5"},
		{"id": "2", "amount": "3"},
	}, out.Records())
}

func TestReadPartitionedJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "events", "day=1", "events_a.json"), `{"id": 1}`+"\n"+`{"id": 2}`+"\n")
	writeFile(t, filepath.Join(root, "events", "day=2", "events_b.json"), `[{"id": 3}]`)
	writeFile(t, filepath.Join(root, "events", "day=2", "skip.txt"), "not json")

	c := newTestConnector(t, map[string]any{"root": root})
	ds := &models.Dataset{
		Name:          "events",
		FilePath:      "events",
		FileType:      models.FileTypeJSON,
		FilePrefix:    "events_",
		FilePattern:   "*",
		FileSuffix:    ".json",
		IsPartitioned: true,
	}

	var out core.SliceWriter
	require.NoError(t, c.Read(context.Background(), core.ReadRequest{Dataset: ds}, &out))
	require.Len(t, out.Records(), 3)
	assert.Equal(t, json.Number("3"), out.Records()[2]["id"])
}

func TestMissingDataset(t *testing.T) {
	c := newTestConnector(t, map[string]any{"root": t.TempDir()})
	ds := &models.Dataset{Name: "ghost", FilePath: "ghost", FileType: models.FileTypeCSV}

	ok, err := c.Exists(context.Background(), ds)
	require.NoError(t, err)
	assert.False(t, ok)

	err = c.Read(context.Background(), core.ReadRequest{Dataset: ds}, &core.SliceWriter{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDatasetMissing))
}

func TestUnsupportedFileType(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "x.xlsx"), "PK")
	c := newTestConnector(t, map[string]any{"root": root})

	err := c.Read(context.Background(), core.ReadRequest{
		Dataset: &models.Dataset{Name: "x", FilePath: "x.xlsx", FileType: models.FileTypeExcel},
	}, &core.SliceWriter{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

func TestWriteThenRead(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		ft   models.FileType
	}{
		{"json gzip", map[string]any{"compression": "gzip"}, models.FileTypeJSON},
		{"csv zstd", map[string]any{"format": "csv", "compression": "zstd"}, models.FileTypeCSV},
		{"csv plain", map[string]any{"format": "csv", "delimiter": "|"}, models.FileTypeCSV},
		{"parquet", map[string]any{"format": "parquet"}, models.FileTypeParquet},
		{"avro gzip", map[string]any{"format": "avro", "compression": "gzip"}, models.FileTypeAvro},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			raw := map[string]any{"root": t.TempDir()}
			for k, v := range tt.args {
				raw[k] = v
			}
			c := newTestConnector(t, raw)
			records := []core.Record{{"id": "1", "name": "a"}, {"id": "2", "name": "b"}}
			plan := models.WritePlan{Target: "files", Dataset: "users", TargetName: "users_out", Mode: models.LoadModeOverwrite}

			for i := 0; i < 2; i++ {
				n, err := c.Write(ctx, core.WriteRequest{Plan: plan}, core.NewSliceReader(records))
				require.NoError(t, err)
				assert.Equal(t, int64(2), n)
			}

			var out core.SliceWriter
			ds := &models.Dataset{Name: "users_out", FilePath: "users_out", FileType: tt.ft}
			require.NoError(t, c.Read(ctx, core.ReadRequest{Dataset: ds}, &out))
			require.Len(t, out.Records(), 2, "overwrite keeps only the last part")
			assert.Equal(t, "a", out.Records()[0]["name"])
		})
	}
}

func TestAppendAndUpsert(t *testing.T) {
	ctx := context.Background()
	c := newTestConnector(t, map[string]any{"root": t.TempDir()})
	plan := models.WritePlan{Dataset: "logs", TargetName: "logs", Mode: models.LoadModeAppend}

	for i := 0; i < 2; i++ {
		_, err := c.Write(ctx, core.WriteRequest{Plan: plan}, core.NewSliceReader([]core.Record{{"n": i}}))
		require.NoError(t, err)
	}
	var out core.SliceWriter
	require.NoError(t, c.Read(ctx, core.ReadRequest{
		Dataset: &models.Dataset{Name: "logs", FilePath: "logs", FileType: models.FileTypeJSON},
	}, &out))
	assert.Len(t, out.Records(), 2)

	plan.Mode = models.LoadModeUpsert
	_, err := c.Write(ctx, core.WriteRequest{Plan: plan}, core.NewSliceReader(nil))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}

// failAfter yields records until limit, then fails.
type failAfter struct {
	limit int
	n     int
	err   error
}

func (f *failAfter) Next(ctx context.Context) (core.Record, error) {
	if f.n == f.limit {
		return nil, f.err
	}
	f.n++
	return core.Record{"id": f.n, "note": "a record long enough to spill past the encoder buffers"}, nil
}

func TestFailedWriteLeavesNoPart(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c := newTestConnector(t, map[string]any{"root": root})
	plan := models.WritePlan{Dataset: "orders", TargetName: "orders", Mode: models.LoadModeAppend}
	boom := errors.New(errors.ErrorTypeConnection, "source went away")

	n, err := c.Write(ctx, core.WriteRequest{Plan: plan}, &failAfter{limit: 15000, err: boom})
	require.Error(t, err)
	assert.Equal(t, int64(15000), n)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	parts, err := filepath.Glob(filepath.Join(root, "orders", "part-*"))
	require.NoError(t, err)
	assert.Empty(t, parts)

	n, err = c.Write(ctx, core.WriteRequest{Plan: plan, Attempt: 1}, &failAfter{limit: 20000})
	require.NoError(t, err)
	assert.Equal(t, int64(20000), n)

	var out core.SliceWriter
	ds := &models.Dataset{Name: "orders", FilePath: "orders", FileType: models.FileTypeJSON, IsPartitioned: true}
	require.NoError(t, c.Read(ctx, core.ReadRequest{Dataset: ds}, &out))
	assert.Len(t, out.Records(), 20000)
}

func TestUploadWriterAbort(t *testing.T) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	seen := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(pr)
		seen <- err
		done <- err
	}()

	w := &uploadWriter{pw: pw, done: done, path: "s3://bucket/orders/part-1.json"}
	_, err := w.Write([]byte(`{"id": 1}`))
	require.NoError(t, err)

	boom := errors.New(errors.ErrorTypeData, "encode failed")
	require.NoError(t, w.Abort(boom))
	assert.ErrorIs(t, <-seen, boom)
}
