package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/compression"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/metrics"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/pool"
)

// Staging holds one JSON Lines file per dataset between the read and the
// write phase.
type Staging struct {
	dir     string
	alg     compression.Algorithm
	cleanup func() error
}

// NewStaging stages files in dir with the given codec.
func NewStaging(dir string, alg compression.Algorithm) *Staging {
	return &Staging{dir: dir, alg: alg}
}

// Path returns the staging file of a dataset. Names that had to be
// flattened get a hash of the original name so they cannot collide with a
// name that was already flat.
func (s *Staging) Path(dataset string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', ' ':
			return '_'
		}
		return r
	}, dataset)
	if name != dataset {
		h := fnv.New32a()
		_, _ = h.Write([]byte(dataset))
		name = fmt.Sprintf("%s-%08x", name, h.Sum32())
	}
	return filepath.Join(s.dir, name+".jsonl"+s.alg.Extension())
}

// Create truncates the staging file of d and returns a writer projecting
// records onto d's columns.
func (s *Staging) Create(d *models.Dataset) (*StagingWriter, error) {
	path := s.Path(d.Name)
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create staging file")
	}
	zw, err := compression.NewWriter(f, s.alg, compression.Fastest)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open staging compressor")
	}
	buf := bufio.NewWriterSize(zw, 64*1024)
	return &StagingWriter{
		file:    f,
		zw:      zw,
		buf:     buf,
		enc:     json.NewEncoder(buf),
		columns: d.Columns,
		tracker: metrics.NewThroughputTracker("read", d.Name),
	}, nil
}

// Open returns a reader over the staged records of a dataset.
func (s *Staging) Open(dataset string) (*StagingReader, error) {
	f, err := os.Open(s.Path(dataset))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, fmt.Sprintf("dataset %q has not been staged", dataset))
	}
	zr, err := compression.NewReader(bufio.NewReader(f), s.alg)
	if err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open staging decompressor")
	}
	dec := json.NewDecoder(zr)
	dec.UseNumber()
	return &StagingReader{file: f, zr: zr, dec: dec}, nil
}

// StagingWriter implements core.RecordWriter over a staging file.
type StagingWriter struct {
	file    *os.File
	zw      io.WriteCloser
	buf     *bufio.Writer
	enc     *json.Encoder
	columns []models.Column
	count   int64
	tracker *metrics.ThroughputTracker
}

// Write projects record onto the dataset columns and appends it. The
// projection map comes from pool.Maps and does not outlive Encode.
func (w *StagingWriter) Write(ctx context.Context, record core.Record) error {
	var err error
	if len(w.columns) > 0 {
		projected := core.Record(pool.Maps.Get())
		record.ProjectTo(projected, w.columns)
		err = w.enc.Encode(projected)
		pool.Maps.Put(projected)
	} else {
		err = w.enc.Encode(record)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to stage record")
	}
	w.count++
	w.tracker.Increment(1)
	return nil
}

// Count returns the records written so far.
func (w *StagingWriter) Count() int64 { return w.count }

// Close flushes and closes the file and publishes the read throughput.
func (w *StagingWriter) Close() error {
	err := multierr.Combine(w.buf.Flush(), w.zw.Close(), w.file.Close())
	w.tracker.GetAndReset()
	return err
}

// StagingReader implements core.RecordReader over a staging file.
type StagingReader struct {
	file *os.File
	zr   io.ReadCloser
	dec  *json.Decoder
}

func (r *StagingReader) Next(ctx context.Context) (core.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !r.dec.More() {
		return nil, io.EOF
	}
	var rec core.Record
	if err := r.dec.Decode(&rec); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "corrupt staging file")
	}
	return rec, nil
}

func (r *StagingReader) Close() error {
	return multierr.Combine(r.zr.Close(), r.file.Close())
}
