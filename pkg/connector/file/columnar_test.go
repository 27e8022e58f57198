package file

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/connector/core"
)

func TestInferColumns(t *testing.T) {
	cols := inferColumns([]core.Record{
		{"id": json.Number("1"), "price": json.Number("2"), "ok": true, "note": nil, "tags": []any{"a"}},
		{"id": int64(2), "price": json.Number("2.5"), "ok": "yes", "note": nil},
	})
	assert.Equal(t, []column{
		{name: "id", kind: kindLong},
		{name: "note", kind: kindString},
		{name: "ok", kind: kindString},
		{name: "price", kind: kindDouble},
		{name: "tags", kind: kindString},
	}, cols)
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		kind    columnKind
		in      any
		want    any
		wantErr bool
	}{
		{kindLong, json.Number("42"), int64(42), false},
		{kindLong, 7, int64(7), false},
		{kindLong, json.Number("4.2"), nil, true},
		{kindDouble, json.Number("4.2"), 4.2, false},
		{kindDouble, 3, 3.0, false},
		{kindBoolean, true, true, false},
		{kindBoolean, "true", nil, true},
		{kindString, map[string]any{"a": json.Number("1")}, `{"a":1}`, false},
		{kindString, 12, "12", false},
		{kindLong, nil, nil, false},
	}
	for _, tt := range tests {
		got, err := coerce(tt.kind, tt.in)
		if tt.wantErr {
			assert.Error(t, err, "%v as %s", tt.in, tt.kind)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v as %s", tt.in, tt.kind)
	}
}

func roundTrip(t *testing.T, format Format, records []core.Record) []core.Record {
	t.Helper()
	var buf bytes.Buffer
	enc := format.NewEncoder(&buf)
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	require.NoError(t, enc.Flush())

	var out core.SliceWriter
	require.NoError(t, format.Decode(context.Background(), &buf, &out))
	return out.Records()
}

func TestColumnarRoundTrip(t *testing.T) {
	records := []core.Record{
		{"id": json.Number("1"), "amount": json.Number("10.5"), "active": true, "name": "a"},
		{"id": json.Number("2"), "amount": json.Number("3"), "active": nil, "name": "b"},
	}

	for _, format := range []Format{parquetFormat{}, avroFormat{}} {
		t.Run(format.Extension(), func(t *testing.T) {
			got := roundTrip(t, format, records)
			require.Len(t, got, 2)
			assert.Equal(t, int64(1), got[0]["id"])
			assert.Equal(t, 10.5, got[0]["amount"])
			assert.Equal(t, 3.0, got[1]["amount"])
			assert.Equal(t, true, got[0]["active"])
			assert.Nil(t, got[1]["active"])
			assert.Equal(t, "b", got[1]["name"])
		})
	}
}

func TestColumnarManyRows(t *testing.T) {
	records := make([]core.Record, inferenceRows+10)
	for i := range records {
		records[i] = core.Record{"n": i}
	}
	records[len(records)-1]["late"] = "dropped"

	got := roundTrip(t, parquetFormat{}, records)
	require.Len(t, got, len(records))
	assert.Equal(t, int64(inferenceRows+9), got[len(got)-1]["n"])
	assert.NotContains(t, got[len(got)-1], "late")
}

func TestColumnarEmpty(t *testing.T) {
	for _, format := range []Format{parquetFormat{}, avroFormat{}} {
		assert.Empty(t, roundTrip(t, format, nil), format.Extension())
	}
}

func TestColumnarTypeConflict(t *testing.T) {
	records := make([]core.Record, inferenceRows)
	for i := range records {
		records[i] = core.Record{"flag": true}
	}
	enc := parquetFormat{}.NewEncoder(&bytes.Buffer{})
	for _, rec := range records {
		require.NoError(t, enc.Encode(rec))
	}
	err := enc.Encode(core.Record{"flag": "maybe"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "flag"`)
}

func TestAvroInvalidName(t *testing.T) {
	enc := avroFormat{}.NewEncoder(&bytes.Buffer{})
	require.NoError(t, enc.Encode(core.Record{"order-id": 1}))
	err := enc.Flush()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid avro name")
}
