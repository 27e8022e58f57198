package compression

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	original := []byte(strings.Repeat(`{"id":1,"name":"porter","amount":12.5}`+"\n", 500))

	for _, alg := range []Algorithm{None, Gzip, Snappy, LZ4, Zstd, S2} {
		for _, level := range []Level{Fastest, Default, Best} {
			t.Run(string(alg), func(t *testing.T) {
				var buf bytes.Buffer
				w, err := NewWriter(&buf, alg, level)
				require.NoError(t, err)
				_, err = w.Write(original)
				require.NoError(t, err)
				require.NoError(t, w.Close())

				if alg != None {
					assert.Less(t, buf.Len(), len(original))
				}

				r, err := NewReader(&buf, alg)
				require.NoError(t, err)
				got, err := io.ReadAll(r)
				require.NoError(t, err)
				require.NoError(t, r.Close())
				assert.Equal(t, original, got)
			})
		}
	}
}

func TestFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Algorithm
		trim string
	}{
		{"orders.csv", None, "orders.csv"},
		{"orders.csv.gz", Gzip, "orders.csv"},
		{"orders.jsonl.zst", Zstd, "orders.jsonl"},
		{"s3://bucket/a/b.json.LZ4", LZ4, "s3://bucket/a/b.json"},
		{"events.s2", S2, "events"},
		{"events.snappy", Snappy, "events"},
		{"noext", None, "noext"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FromPath(tt.path))
			assert.Equal(t, tt.trim, TrimExtension(tt.path))
		})
	}
}

func TestParse(t *testing.T) {
	alg, err := Parse("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, Zstd, alg)
	assert.Equal(t, ".zst", alg.Extension())

	alg, err = Parse("")
	require.NoError(t, err)
	assert.Equal(t, None, alg)

	_, err = Parse("brotli")
	assert.Error(t, err)

	_, err = NewWriter(io.Discard, "brotli", Default)
	assert.Error(t, err)
	_, err = NewReader(strings.NewReader(""), "brotli")
	assert.Error(t, err)
}
