package core

import (
	"context"
	"io"
	"sync"

	"github.com/ajitpratap0/porter/pkg/models"
)

// Record is one row of a dataset.
type Record map[string]any

// Project keeps the listed columns under their target names. With no columns
// the record is returned unchanged.
func (r Record) Project(columns []models.Column) Record {
	if len(columns) == 0 {
		return r
	}
	out := make(Record, len(columns))
	r.ProjectTo(out, columns)
	return out
}

// ProjectTo writes the listed columns of r into dst under their target
// names.
func (r Record) ProjectTo(dst Record, columns []models.Column) {
	for _, c := range columns {
		target := c.TargetName
		if target == "" {
			target = c.Name
		}
		dst[target] = r[c.Name]
	}
}

// RecordWriter receives records from a source.
type RecordWriter interface {
	Write(ctx context.Context, record Record) error
}

// RecordReader hands records to a target. Next returns io.EOF when done.
type RecordReader interface {
	Next(ctx context.Context) (Record, error)
}

// WriterFunc adapts a function to RecordWriter.
type WriterFunc func(ctx context.Context, record Record) error

// Write calls f.
func (f WriterFunc) Write(ctx context.Context, record Record) error { return f(ctx, record) }

// SliceWriter collects records in memory. It is safe for concurrent use.
type SliceWriter struct {
	mu      sync.Mutex
	records []Record
}

// Write appends record.
func (w *SliceWriter) Write(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	w.records = append(w.records, record)
	w.mu.Unlock()
	return nil
}

// Records returns the collected records.
func (w *SliceWriter) Records() []Record {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Record(nil), w.records...)
}

// SliceReader serves records from memory.
type SliceReader struct {
	records []Record
	pos     int
}

// NewSliceReader returns a reader over records.
func NewSliceReader(records []Record) *SliceReader {
	return &SliceReader{records: records}
}

// Next returns the next record or io.EOF.
func (r *SliceReader) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.pos >= len(r.records) {
		return nil, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

// Drain reads every remaining record from in.
func Drain(ctx context.Context, in RecordReader) ([]Record, error) {
	var out []Record
	for {
		rec, err := in.Next(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
