// Package compression provides streaming compression for Porter staging and
// file connectors.
//
// # Overview
//
// Writers and readers wrap an io.Writer or io.Reader with one of the
// supported codecs:
//   - Gzip: wide compatibility, good compression
//   - Zstd: best compression ratio, good speed (staging default)
//   - LZ4: extremely fast, decent compression
//   - S2/Snappy: fast with moderate compression
//
// # Basic Usage
//
//	w, err := compression.NewWriter(f, compression.Zstd, compression.Default)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
// The codec of a file is chosen from its suffix with FromPath, so
// "orders.csv.gz" is read through gzip and "orders.csv" is read as is.
package compression

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm represents a compression algorithm.
type Algorithm string

const (
	// None represents no compression
	None Algorithm = "none"
	// Gzip represents gzip compression
	Gzip Algorithm = "gzip"
	// Snappy represents framed snappy compression
	Snappy Algorithm = "snappy"
	// LZ4 represents lz4 frame compression
	LZ4 Algorithm = "lz4"
	// Zstd represents zstandard compression
	Zstd Algorithm = "zstd"
	// S2 represents s2 compression (Snappy compatible)
	S2 Algorithm = "s2"
)

// Level represents compression level, trading speed for ratio.
type Level int

const (
	// Fastest prioritizes speed over compression ratio.
	Fastest Level = 1
	// Default balances speed and compression.
	Default Level = 5
	// Better improves compression at cost of speed.
	Better Level = 7
	// Best maximizes compression ratio.
	Best Level = 9
)

var extensions = map[Algorithm]string{
	None:   "",
	Gzip:   ".gz",
	Snappy: ".snappy",
	LZ4:    ".lz4",
	Zstd:   ".zst",
	S2:     ".s2",
}

// Parse maps a name to an Algorithm. The empty string is None.
func Parse(name string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(name))
	if alg == "" {
		return None, nil
	}
	if _, ok := extensions[alg]; !ok {
		return "", fmt.Errorf("unsupported compression algorithm: %s", name)
	}
	return alg, nil
}

// Extension returns the file suffix of the algorithm, e.g. ".gz".
func (a Algorithm) Extension() string {
	return extensions[a]
}

// FromPath picks the algorithm from a file suffix. Unknown suffixes are None.
func FromPath(path string) Algorithm {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return None
	}
	for alg, e := range extensions {
		if e == ext {
			return alg
		}
	}
	if ext == ".gzip" {
		return Gzip
	}
	if ext == ".zstd" {
		return Zstd
	}
	return None
}

// TrimExtension removes the compression suffix from path, if any.
func TrimExtension(path string) string {
	if alg := FromPath(path); alg != None {
		return strings.TrimSuffix(path, filepath.Ext(path))
	}
	return path
}

// NewWriter wraps w with the compressor for alg. Closing the returned writer
// flushes the codec but does not close w.
func NewWriter(w io.Writer, alg Algorithm, level Level) (io.WriteCloser, error) {
	switch alg {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriterLevel(w, mapGzipLevel(level))
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	case LZ4:
		zw := lz4.NewWriter(w)
		if err := zw.Apply(lz4.CompressionLevelOption(mapLZ4Level(level))); err != nil {
			return nil, err
		}
		return zw, nil
	case Zstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(mapZstdLevel(level)))
	case S2:
		opts := []s2.WriterOption{}
		if level >= Better {
			opts = append(opts, s2.WriterBetterCompression())
		}
		return s2.NewWriter(w, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

// NewReader wraps r with the decompressor for alg. Closing the returned
// reader releases the codec but does not close r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		return gzip.NewReader(r)
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case S2:
		return io.NopCloser(s2.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", alg)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func mapGzipLevel(level Level) int {
	switch level {
	case Fastest:
		return gzip.BestSpeed
	case Best:
		return gzip.BestCompression
	default:
		return gzip.DefaultCompression
	}
}

func mapLZ4Level(level Level) lz4.CompressionLevel {
	switch level {
	case Fastest:
		return lz4.Fast
	case Best:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func mapZstdLevel(level Level) zstd.EncoderLevel {
	switch level {
	case Fastest:
		return zstd.SpeedFastest
	case Better:
		return zstd.SpeedBetterCompression
	case Best:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}
