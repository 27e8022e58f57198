package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/porter/pkg/compression"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
)

func TestStagingRoundTrip(t *testing.T) {
	for _, alg := range []compression.Algorithm{compression.None, compression.Gzip, compression.Zstd, compression.LZ4, compression.S2} {
		t.Run(string(alg), func(t *testing.T) {
			ctx := context.Background()
			s := NewStaging(t.TempDir(), alg)
			d := &models.Dataset{Name: "orders", Columns: []models.Column{
				{Name: "id"},
				{Name: "amount", TargetName: "order_amount"},
			}}

			w, err := s.Create(d)
			require.NoError(t, err)
			require.NoError(t, w.Write(ctx, core.Record{"id": 1, "amount": 2.5, "ignored": true}))
			require.NoError(t, w.Write(ctx, core.Record{"id": 2}))
			require.NoError(t, w.Close())
			assert.Equal(t, int64(2), w.Count())
			assert.True(t, strings.HasSuffix(s.Path("orders"), ".jsonl"+alg.Extension()))

			r, err := s.Open("orders")
			require.NoError(t, err)
			defer r.Close()

			recs, err := core.Drain(ctx, r)
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.Equal(t, core.Record{"id": json.Number("1"), "order_amount": json.Number("2.5")}, recs[0])
			assert.Equal(t, core.Record{"id": json.Number("2"), "order_amount": nil}, recs[1])

			_, err = r.Next(ctx)
			assert.Equal(t, io.EOF, err)
		})
	}
}

func TestStagingCreateTruncates(t *testing.T) {
	ctx := context.Background()
	s := NewStaging(t.TempDir(), compression.None)
	d := &models.Dataset{Name: "users"}

	for i := 0; i < 2; i++ {
		w, err := s.Create(d)
		require.NoError(t, err)
		require.NoError(t, w.Write(ctx, core.Record{"attempt": i}))
		require.NoError(t, w.Close())
	}

	r, err := s.Open("users")
	require.NoError(t, err)
	defer r.Close()
	recs, err := core.Drain(ctx, r)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{{"attempt": json.Number("1")}}, recs)
}

func TestStagingPathIsFlat(t *testing.T) {
	s := NewStaging("/tmp/stage", compression.Gzip)
	assert.Equal(t, "/tmp/stage/a_b.jsonl.gz", s.Path("a_b"))

	flattened := s.Path("sales/orders 2024")
	assert.Equal(t, "/tmp/stage", filepath.Dir(flattened))
	assert.True(t, strings.HasPrefix(filepath.Base(flattened), "sales_orders_2024-"))
	assert.True(t, strings.HasSuffix(flattened, ".jsonl.gz"))
	assert.Equal(t, flattened, s.Path("sales/orders 2024"))

	assert.NotEqual(t, s.Path("a_b"), s.Path("a/b"))
	assert.NotEqual(t, s.Path("a/b"), s.Path("a:b"))
}

func TestStagingSimilarNamesDoNotCollide(t *testing.T) {
	ctx := context.Background()
	s := NewStaging(t.TempDir(), compression.None)
	for i, name := range []string{"a/b", "a_b"} {
		w, err := s.Create(&models.Dataset{Name: name})
		require.NoError(t, err)
		require.NoError(t, w.Write(ctx, core.Record{"n": i}))
		require.NoError(t, w.Close())
	}

	for i, name := range []string{"a/b", "a_b"} {
		r, err := s.Open(name)
		require.NoError(t, err)
		recs, err := core.Drain(ctx, r)
		require.NoError(t, r.Close())
		require.NoError(t, err)
		assert.Equal(t, []core.Record{{"n": json.Number(strconv.Itoa(i))}}, recs, name)
	}
}

func TestStagingOpenMissing(t *testing.T) {
	s := NewStaging(t.TempDir(), compression.None)
	_, err := s.Open("never")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFile))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
