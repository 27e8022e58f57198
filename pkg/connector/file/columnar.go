package file

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	pqfile "github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/goccy/go-json"
	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/porter/pkg/connector/core"
)

// inferenceRows is how many records a columnar encoder buffers before it
// fixes the column set and types. Fields first seen after that are dropped.
const inferenceRows = 1024

const (
	parquetBatchRows = 8192
	avroBlockRows    = 1000
)

type columnKind int

const (
	kindString columnKind = iota
	kindLong
	kindDouble
	kindBoolean
)

// String returns the avro primitive name of the kind.
func (k columnKind) String() string {
	switch k {
	case kindLong:
		return "long"
	case kindDouble:
		return "double"
	case kindBoolean:
		return "boolean"
	default:
		return "string"
	}
}

type column struct {
	name string
	kind columnKind
}

func valueKind(v any) (columnKind, bool) {
	switch x := v.(type) {
	case nil:
		return kindString, false
	case bool:
		return kindBoolean, true
	case int, int8, int16, int32, int64, uint8, uint16, uint32:
		return kindLong, true
	case float32, float64:
		return kindDouble, true
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return kindLong, true
		}
		return kindDouble, true
	default:
		return kindString, true
	}
}

func mergeKinds(a, b columnKind) columnKind {
	switch {
	case a == b:
		return a
	case (a == kindLong && b == kindDouble) || (a == kindDouble && b == kindLong):
		return kindDouble
	default:
		return kindString
	}
}

// inferColumns derives the columns of records, sorted by name. Mixed
// integer and float columns are doubles, other mixes and all-null columns
// are strings.
func inferColumns(records []core.Record) []column {
	kinds := make(map[string]columnKind)
	typed := make(map[string]bool)
	for _, rec := range records {
		for name, v := range rec {
			kind, ok := valueKind(v)
			switch {
			case !ok:
				if _, seen := kinds[name]; !seen {
					kinds[name] = kindString
				}
			case typed[name]:
				kinds[name] = mergeKinds(kinds[name], kind)
			default:
				kinds[name] = kind
				typed[name] = true
			}
		}
	}

	cols := make([]column, 0, len(kinds))
	for name, kind := range kinds {
		cols = append(cols, column{name: name, kind: kind})
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i].name < cols[j].name })
	return cols
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	}
	if n, ok := toInt64(v); ok {
		return float64(n), true
	}
	return 0, false
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err == nil {
			return string(b)
		}
	}
	return fmt.Sprint(v)
}

// coerce converts v to the Go type of kind: int64, float64, bool or string.
func coerce(kind columnKind, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch kind {
	case kindLong:
		if n, ok := toInt64(v); ok {
			return n, nil
		}
	case kindDouble:
		if f, ok := toFloat64(v); ok {
			return f, nil
		}
	case kindBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	default:
		return stringValue(v), nil
	}
	return nil, fmt.Errorf("value %v (%T) does not fit a %s column", v, v, kind)
}

// columnSink receives coerced rows in column order.
type columnSink interface {
	Append(values []any) error
	Close() error
}

// columnarEncoder buffers the first records to infer the columns, then
// streams rows to the sink opened for them.
type columnarEncoder struct {
	open    func([]column) (columnSink, error)
	pending []core.Record
	columns []column
	sink    columnSink
}

func (e *columnarEncoder) Encode(rec core.Record) error {
	if e.sink != nil {
		return e.append(rec)
	}
	e.pending = append(e.pending, rec)
	if len(e.pending) < inferenceRows {
		return nil
	}
	return e.start()
}

func (e *columnarEncoder) start() error {
	e.columns = inferColumns(e.pending)
	sink, err := e.open(e.columns)
	if err != nil {
		return err
	}
	e.sink = sink

	pending := e.pending
	e.pending = nil
	for _, rec := range pending {
		if err := e.append(rec); err != nil {
			return err
		}
	}
	return nil
}

func (e *columnarEncoder) append(rec core.Record) error {
	values := make([]any, len(e.columns))
	for i, col := range e.columns {
		v, err := coerce(col.kind, rec[col.name])
		if err != nil {
			return fmt.Errorf("column %q: %w", col.name, err)
		}
		values[i] = v
	}
	return e.sink.Append(values)
}

// Flush finishes the file. Nothing is written when no record was encoded.
func (e *columnarEncoder) Flush() error {
	if e.sink == nil {
		if len(e.pending) == 0 {
			return nil
		}
		if err := e.start(); err != nil {
			return err
		}
	}
	return e.sink.Close()
}

// parquetFormat writes snappy compressed parquet through arrow.
type parquetFormat struct{}

func (parquetFormat) Extension() string { return ".parquet" }

func (parquetFormat) NewEncoder(w io.Writer) Encoder {
	return &columnarEncoder{open: func(cols []column) (columnSink, error) {
		return newParquetSink(w, cols)
	}}
}

func arrowType(kind columnKind) arrow.DataType {
	switch kind {
	case kindLong:
		return arrow.PrimitiveTypes.Int64
	case kindDouble:
		return arrow.PrimitiveTypes.Float64
	case kindBoolean:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

type parquetSink struct {
	fw      *pqarrow.FileWriter
	builder *array.RecordBuilder
	rows    int
}

func newParquetSink(w io.Writer, cols []column) (*parquetSink, error) {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.name, Type: arrowType(c.kind), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	// the file writer closes writers it is given; w belongs to the caller
	fw, err := pqarrow.NewFileWriter(schema, struct{ io.Writer }{w}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	return &parquetSink{fw: fw, builder: array.NewRecordBuilder(memory.DefaultAllocator, schema)}, nil
}

func (s *parquetSink) Append(values []any) error {
	for i, v := range values {
		fb := s.builder.Field(i)
		if v == nil {
			fb.AppendNull()
			continue
		}
		switch b := fb.(type) {
		case *array.Int64Builder:
			b.Append(v.(int64))
		case *array.Float64Builder:
			b.Append(v.(float64))
		case *array.BooleanBuilder:
			b.Append(v.(bool))
		case *array.StringBuilder:
			b.Append(v.(string))
		default:
			return fmt.Errorf("unsupported builder type: %T", fb)
		}
	}
	s.rows++
	if s.rows >= parquetBatchRows {
		return s.flush()
	}
	return nil
}

func (s *parquetSink) flush() error {
	if s.rows == 0 {
		return nil
	}
	rec := s.builder.NewRecord()
	defer rec.Release()
	s.rows = 0
	return s.fw.WriteBuffered(rec)
}

func (s *parquetSink) Close() error {
	defer s.builder.Release()
	if err := s.flush(); err != nil {
		_ = s.fw.Close()
		return err
	}
	return s.fw.Close()
}

// Decode reads the whole file into memory since parquet needs random
// access. An empty file holds no records.
func (parquetFormat) Decode(ctx context.Context, r io.Reader, out core.RecordWriter) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	pf, err := pqfile.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to open parquet file: %w", err)
	}
	defer pf.Close()

	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: parquetBatchRows}, memory.DefaultAllocator)
	if err != nil {
		return fmt.Errorf("failed to create arrow reader: %w", err)
	}
	rr, err := fr.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return err
	}
	defer rr.Release()

	for rr.Next() {
		batch := rr.Record()
		schema := batch.Schema()
		for row := 0; row < int(batch.NumRows()); row++ {
			rec := make(core.Record, batch.NumCols())
			for i := 0; i < int(batch.NumCols()); i++ {
				rec[schema.Field(i).Name] = arrowValue(batch.Column(i), row)
			}
			if err := out.Write(ctx, rec); err != nil {
				return err
			}
		}
	}
	if err := rr.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func arrowValue(col arrow.Array, row int) any {
	if col.IsNull(row) {
		return nil
	}
	switch c := col.(type) {
	case *array.Int64:
		return c.Value(row)
	case *array.Int32:
		return int64(c.Value(row))
	case *array.Float64:
		return c.Value(row)
	case *array.Float32:
		return float64(c.Value(row))
	case *array.Boolean:
		return c.Value(row)
	case *array.String:
		return c.Value(row)
	case *array.Binary:
		return string(c.Value(row))
	default:
		return col.ValueStr(row)
	}
}

// avroFormat writes avro object container files. Every field is a union of
// null and its inferred type.
type avroFormat struct{}

func (avroFormat) Extension() string { return ".avro" }

func (avroFormat) NewEncoder(w io.Writer) Encoder {
	return &columnarEncoder{open: func(cols []column) (columnSink, error) {
		return newAvroSink(w, cols)
	}}
}

var avroName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func avroSchema(cols []column) (string, error) {
	fields := make([]map[string]any, len(cols))
	for i, c := range cols {
		if !avroName.MatchString(c.name) {
			return "", fmt.Errorf("column %q is not a valid avro name", c.name)
		}
		fields[i] = map[string]any{
			"name":    c.name,
			"type":    []string{"null", c.kind.String()},
			"default": nil,
		}
	}
	b, err := json.Marshal(map[string]any{
		"type":      "record",
		"name":      "Record",
		"namespace": "porter",
		"fields":    fields,
	})
	return string(b), err
}

type avroSink struct {
	columns []column
	ocf     *goavro.OCFWriter
	block   []any
}

func newAvroSink(w io.Writer, cols []column) (*avroSink, error) {
	schema, err := avroSchema(cols)
	if err != nil {
		return nil, err
	}
	codec, err := goavro.NewCodec(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to create avro codec: %w", err)
	}
	ocf, err := goavro.NewOCFWriter(goavro.OCFConfig{
		W:               w,
		Codec:           codec,
		CompressionName: goavro.CompressionSnappyLabel,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create avro writer: %w", err)
	}
	return &avroSink{columns: cols, ocf: ocf}, nil
}

func (s *avroSink) Append(values []any) error {
	datum := make(map[string]any, len(values))
	for i, v := range values {
		if v == nil {
			datum[s.columns[i].name] = nil
			continue
		}
		datum[s.columns[i].name] = goavro.Union(s.columns[i].kind.String(), v)
	}
	s.block = append(s.block, datum)
	if len(s.block) >= avroBlockRows {
		return s.flush()
	}
	return nil
}

func (s *avroSink) flush() error {
	if len(s.block) == 0 {
		return nil
	}
	err := s.ocf.Append(s.block)
	s.block = s.block[:0]
	return err
}

func (s *avroSink) Close() error { return s.flush() }

func (avroFormat) Decode(ctx context.Context, r io.Reader, out core.RecordWriter) error {
	br := bufio.NewReader(r)
	if _, err := br.Peek(1); err == io.EOF {
		return nil
	}
	ocf, err := goavro.NewOCFReader(br)
	if err != nil {
		return fmt.Errorf("failed to open avro file: %w", err)
	}
	for ocf.Scan() {
		datum, err := ocf.Read()
		if err != nil {
			return err
		}
		fields, ok := datum.(map[string]any)
		if !ok {
			return fmt.Errorf("avro datum is %T, not a record", datum)
		}
		rec := make(core.Record, len(fields))
		for k, v := range fields {
			rec[k] = unwrapUnion(v)
		}
		if err := out.Write(ctx, rec); err != nil {
			return err
		}
	}
	return ocf.Err()
}

// unwrapUnion returns the value of a decoded union, {"long": 1} -> 1.
func unwrapUnion(v any) any {
	if m, ok := v.(map[string]any); ok && len(m) == 1 {
		for _, inner := range m {
			return inner
		}
	}
	return v
}
