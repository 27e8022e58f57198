package file

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/models"
)

// Format reads and writes one file type.
type Format interface {
	Extension() string
	Decode(ctx context.Context, r io.Reader, out core.RecordWriter) error
	NewEncoder(w io.Writer) Encoder
}

// Encoder writes records to a file. Flush must be called once at the end.
type Encoder interface {
	Encode(record core.Record) error
	Flush() error
}

// FormatFor returns the Format of a file type.
func FormatFor(ft models.FileType, args *Args) (Format, error) {
	switch ft {
	case models.FileTypeCSV:
		return csvFormat{delimiter: args.delimiter(), header: args.Header}, nil
	case models.FileTypeJSON:
		return jsonFormat{}, nil
	case models.FileTypeParquet:
		return parquetFormat{}, nil
	case models.FileTypeAvro:
		return avroFormat{}, nil
	}
	return nil, errors.New(errors.ErrorTypeCapability,
		fmt.Sprintf("file type %s is not supported by the file connector", ft))
}

type csvFormat struct {
	delimiter rune
	header    bool
}

func (csvFormat) Extension() string { return ".csv" }

func (f csvFormat) Decode(ctx context.Context, r io.Reader, out core.RecordWriter) error {
	cr := csv.NewReader(r)
	cr.Comma = f.delimiter
	cr.ReuseRecord = false
	cr.FieldsPerRecord = -1

	var header []string
	for line := 1; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to parse csv")
		}
		if header == nil {
			if f.header {
				header = row
				continue
			}
			header = make([]string, len(row))
			for i := range row {
				header[i] = "column_" + strconv.Itoa(i+1)
			}
		}
		if len(row) != len(header) {
			return errors.New(errors.ErrorTypeData,
				fmt.Sprintf("csv line %d has %d fields, header has %d", line, len(row), len(header)))
		}
		rec := make(core.Record, len(header))
		for i, name := range header {
			rec[name] = row[i]
		}
		if err := out.Write(ctx, rec); err != nil {
			return err
		}
	}
}

func (f csvFormat) NewEncoder(w io.Writer) Encoder {
	cw := csv.NewWriter(w)
	cw.Comma = f.delimiter
	return &csvEncoder{w: cw, header: f.header}
}

type csvEncoder struct {
	w       *csv.Writer
	header  bool
	columns []string
}

// Encode writes rec. The first record fixes the column set, in sorted order.
func (e *csvEncoder) Encode(rec core.Record) error {
	if e.columns == nil {
		e.columns = make([]string, 0, len(rec))
		for k := range rec {
			e.columns = append(e.columns, k)
		}
		sort.Strings(e.columns)
		if e.header {
			if err := e.w.Write(e.columns); err != nil {
				return err
			}
		}
	}
	row := make([]string, len(e.columns))
	for i, c := range e.columns {
		if v, ok := rec[c]; ok && v != nil {
			row[i] = fmt.Sprint(v)
		}
	}
	return e.w.Write(row)
}

func (e *csvEncoder) Flush() error {
	e.w.Flush()
	return e.w.Error()
}

// jsonFormat reads JSON Lines or a single top-level array and writes JSON
// Lines.
type jsonFormat struct{}

func (jsonFormat) Extension() string { return ".json" }

func (jsonFormat) Decode(ctx context.Context, r io.Reader, out core.RecordWriter) error {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to read json")
	}

	dec := json.NewDecoder(br)
	dec.UseNumber()
	if first == '[' {
		if _, err := dec.Token(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to parse json array")
		}
		for dec.More() {
			if err := decodeOne(ctx, dec, out); err != nil {
				return err
			}
		}
		return nil
	}

	for dec.More() {
		if err := decodeOne(ctx, dec, out); err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
	return nil
}

func decodeOne(ctx context.Context, dec *json.Decoder, out core.RecordWriter) error {
	var rec core.Record
	if err := dec.Decode(&rec); err != nil {
		if err == io.EOF {
			return err
		}
		return errors.Wrap(err, errors.ErrorTypeData, "failed to parse json record")
	}
	return out.Write(ctx, rec)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.Peek(1)
		if err != nil {
			return 0, err
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = br.ReadByte()
		default:
			return b[0], nil
		}
	}
}

func (jsonFormat) NewEncoder(w io.Writer) Encoder {
	bw := bufio.NewWriter(w)
	return &jsonEncoder{w: bw, enc: json.NewEncoder(bw)}
}

type jsonEncoder struct {
	w   *bufio.Writer
	enc *json.Encoder
}

func (e *jsonEncoder) Encode(rec core.Record) error { return e.enc.Encode(rec) }

func (e *jsonEncoder) Flush() error { return e.w.Flush() }
