package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
)

type baseConn struct{ name string }

func (b baseConn) Name() string                         { return b.name }
func (b baseConn) Connect(ctx context.Context) error    { return nil }
func (b baseConn) Disconnect(ctx context.Context) error { return nil }

type readOnly struct{ baseConn }

func (readOnly) Read(ctx context.Context, req ReadRequest, out RecordWriter) error {
	return out.Write(ctx, Record{"id": 1})
}

type pollingTarget struct{ baseConn }

func (pollingTarget) Write(ctx context.Context, req WriteRequest, in RecordReader) (int64, error) {
	recs, err := Drain(ctx, in)
	return int64(len(recs)), err
}

func (pollingTarget) Exists(ctx context.Context, d *models.Dataset) (bool, error) { return true, nil }

func TestCapabilities(t *testing.T) {
	tests := []struct {
		name string
		conn Connector
		want CapabilitySet
		str  string
	}{
		{"bare", baseConn{"bare"}, CapabilitySet{}, ""},
		{"source", readOnly{baseConn{"src"}}, CapabilitySet{Source: true}, "source"},
		{"target", pollingTarget{baseConn{"tgt"}}, CapabilitySet{Target: true, Pollable: true}, "target,pollable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Capabilities(tt.conn)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.str, got.String())
		})
	}
}

func TestRequire(t *testing.T) {
	src := readOnly{baseConn{"src"}}

	_, err := AsSource(src)
	require.NoError(t, err)

	_, err = AsTarget(src)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
	assert.Contains(t, err.Error(), `connector "src" does not support target`)

	_, err = AsExecutor(src)
	assert.Error(t, err)
}

func TestRecordProject(t *testing.T) {
	rec := Record{"id": 1, "amount": 9.5, "extra": "x"}

	assert.Equal(t, rec, rec.Project(nil))
	assert.Equal(t, Record{"id": 1, "order_amount": 9.5}, rec.Project([]models.Column{
		{Name: "id"},
		{Name: "amount", TargetName: "order_amount"},
	}))
}

func TestSliceReaderWriter(t *testing.T) {
	ctx := context.Background()
	var w SliceWriter

	require.NoError(t, readOnly{}.Read(ctx, ReadRequest{}, &w))
	require.NoError(t, w.Write(ctx, Record{"id": 2}))

	n, err := pollingTarget{}.Write(ctx, WriteRequest{}, NewSliceReader(w.Records()))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, w.Write(cancelled, Record{}))
}
