// Package file implements the file source and target over local paths,
// s3:// and gs:// roots. Compressed files are detected by suffix.
package file

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/porter/pkg/compression"
	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/connector/registry"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// Args are the args of source.file and target.file.
type Args struct {
	// Root is a local directory, s3://bucket/prefix or gs://bucket/prefix.
	// Relative local roots resolve against the pipeline file.
	Root string `yaml:"root"`
	// Format is the file type targets write.
	Format      models.FileType `yaml:"format" default:"json"`
	Delimiter   string          `yaml:"delimiter" default:","`
	Header      bool            `yaml:"header" default:"true"`
	Compression string          `yaml:"compression"`

	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	CredentialsFile string `yaml:"credentials_file"`
}

// Validate checks the fields that have a closed set of values.
func (a *Args) Validate() error {
	if len([]rune(a.Delimiter)) != 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", a.Delimiter)
	}
	if _, err := compression.Parse(a.Compression); err != nil {
		return err
	}
	switch a.Format {
	case models.FileTypeCSV, models.FileTypeJSON, models.FileTypeParquet, models.FileTypeAvro:
	default:
		return fmt.Errorf("format must be csv, json, parquet or avro, got %q", a.Format)
	}
	return nil
}

func (a *Args) delimiter() rune {
	return []rune(a.Delimiter)[0]
}

func init() {
	registry.MustRegister(schema.VariantOf(schema.KindSource, string(models.SourceTypeFile)), Args{}, New,
		"Reads csv, json, parquet and avro files from local disk, S3 or GCS")
	registry.MustRegister(schema.VariantOf(schema.KindTarget, string(models.TargetTypeFile)), Args{}, New,
		"Writes csv, json, parquet or avro files to local disk, S3 or GCS")
}

// Connector reads and writes files under one root.
type Connector struct {
	name   string
	args   *Args
	root   string
	store  Store
	logger *zap.Logger
}

// New creates a file connector from validated args.
func New(cfg registry.Config) (core.Connector, error) {
	args, err := schema.As[Args](cfg.Args)
	if err != nil {
		return nil, err
	}
	root := args.Root
	if ParseLocation(root).Scheme == "" && !filepath.IsAbs(root) {
		root = filepath.Join(cfg.BaseDir, root)
	}
	return &Connector{
		name:   cfg.Name,
		args:   args,
		root:   root,
		logger: logger.With(zap.String("connector", cfg.Name), zap.String("root", root)),
	}, nil
}

// NewWithStore creates a connector over an existing store.
func NewWithStore(name string, args *Args, store Store) *Connector {
	return &Connector{name: name, args: args, store: store, logger: logger.With(zap.String("connector", name))}
}

func (c *Connector) Name() string { return c.name }

// Connect opens the store for the root's scheme.
func (c *Connector) Connect(ctx context.Context) error {
	if c.store != nil {
		return nil
	}
	loc := ParseLocation(c.root)
	switch loc.Scheme {
	case "s3":
		s, err := newS3Store(ctx, loc, c.args)
		if err != nil {
			return err
		}
		c.store = s
	case "gs":
		s, err := newGCSStore(ctx, loc, c.args)
		if err != nil {
			return err
		}
		c.store = s
	default:
		c.store = newLocalStore(c.root)
	}
	return nil
}

func (c *Connector) Disconnect(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	err := c.store.Close()
	c.store = nil
	return err
}

func (c *Connector) connected() error {
	if c.store == nil {
		return errors.New(errors.ErrorTypeConnection, fmt.Sprintf("file connector %q is not connected", c.name))
	}
	return nil
}

// resolve lists the files of a dataset. A file_path naming a single file is
// used as is unless the dataset is partitioned; otherwise every file below
// it that matches prefix, pattern and suffix is returned.
func (c *Connector) resolve(ctx context.Context, d *models.Dataset) ([]string, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	loc := c.store.Join(d.FilePath)
	if !d.IsPartitioned {
		ok, err := c.store.Exists(ctx, loc)
		if err != nil {
			return nil, err
		}
		if ok {
			return []string{loc}, nil
		}
	}

	all, err := c.store.List(ctx, loc)
	if err != nil {
		return nil, err
	}
	pattern := d.FilePattern
	if pattern == "" {
		pattern = "*"
	}
	pattern = d.FilePrefix + pattern + d.FileSuffix

	var out []string
	for _, p := range all {
		base := path.Base(filepath.ToSlash(p))
		if ok, _ := path.Match(pattern, base); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Exists reports whether the dataset has at least one file.
func (c *Connector) Exists(ctx context.Context, d *models.Dataset) (bool, error) {
	files, err := c.resolve(ctx, d)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// Read decodes every file of the dataset into out. Datasets without a
// file_type are read in the connector's format.
func (c *Connector) Read(ctx context.Context, req core.ReadRequest, out core.RecordWriter) error {
	d := req.Dataset
	ft := d.FileType
	if ft == "" {
		ft = c.args.Format
	}
	format, err := FormatFor(ft, c.args)
	if err != nil {
		return err
	}
	files, err := c.resolve(ctx, d)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.New(errors.ErrorTypeDatasetMissing,
			fmt.Sprintf("no files found for dataset %q under %s", d.Name, c.store.Join(d.FilePath)))
	}

	for _, f := range files {
		if err := c.readFile(ctx, f, format, out); err != nil {
			return err
		}
	}
	c.logger.Debug("dataset read", zap.String("dataset", d.Name), zap.Int("files", len(files)))
	return nil
}

func (c *Connector) readFile(ctx context.Context, p string, format Format, out core.RecordWriter) error {
	alg := compression.FromPath(p)
	if c.args.Compression != "" {
		alg, _ = compression.Parse(c.args.Compression)
	}

	rc, err := c.store.Open(ctx, p)
	if err != nil {
		return err
	}
	defer rc.Close()

	dr, err := compression.NewReader(rc, alg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decompress "+p)
	}
	defer dr.Close()

	if err := format.Decode(ctx, dr, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to read "+p)
	}
	return nil
}

// Write stores the records as a new part file under the plan's target name.
// Overwrite mode and truncation remove existing parts first.
func (c *Connector) Write(ctx context.Context, req core.WriteRequest, in core.RecordReader) (int64, error) {
	if err := c.connected(); err != nil {
		return 0, err
	}
	plan := req.Plan
	if plan.Mode == models.LoadModeUpsert {
		return 0, errors.New(errors.ErrorTypeCapability, "file targets do not support upsert")
	}
	format, err := FormatFor(c.args.Format, c.args)
	if err != nil {
		return 0, err
	}
	alg, _ := compression.Parse(c.args.Compression)

	dir := c.store.Join(plan.TargetName)
	if plan.Mode == models.LoadModeOverwrite || plan.Truncate {
		if err := c.clear(ctx, dir); err != nil {
			return 0, err
		}
	}

	name := fmt.Sprintf("part-%s%s%s",
		time.Now().UTC().Format("20060102T150405.000000000"), format.Extension(), alg.Extension())
	p := c.store.Join(plan.TargetName, name)

	n, err := c.writeFile(ctx, p, format, alg, in)
	if err != nil {
		return n, err
	}
	c.logger.Info("dataset written",
		zap.String("dataset", plan.Dataset),
		zap.String("path", p),
		zap.Int64("records", n))
	return n, nil
}

func (c *Connector) clear(ctx context.Context, dir string) error {
	existing, err := c.store.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, p := range existing {
		if err := c.store.Remove(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// writeFile encodes every record into one new object at p. On any failure
// the object is aborted so a retry never finds a partial part next to its
// own.
func (c *Connector) writeFile(ctx context.Context, p string, format Format, alg compression.Algorithm, in core.RecordReader) (int64, error) {
	w, err := c.store.Create(ctx, p)
	if err != nil {
		return 0, err
	}
	var n int64
	fail := func(err error, msg string) (int64, error) {
		if aerr := w.Abort(err); aerr != nil {
			c.logger.Warn("failed to discard partial file", zap.String("path", p), zap.Error(aerr))
		}
		return n, errors.Wrap(err, errors.ErrorTypeData, msg+" "+p)
	}

	cw, err := compression.NewWriter(w, alg, compression.Default)
	if err != nil {
		return fail(err, "failed to compress")
	}
	enc := format.NewEncoder(cw)
	for {
		rec, err := in.Next(ctx)
		if err == io.EOF {
			break
		}
		if err == nil {
			err = enc.Encode(rec)
		}
		if err != nil {
			_ = cw.Close()
			return fail(err, "failed to write")
		}
		n++
	}

	if err := enc.Flush(); err != nil {
		_ = cw.Close()
		return fail(err, "failed to flush")
	}
	if err := cw.Close(); err != nil {
		return fail(err, "failed to flush")
	}
	if err := w.Close(); err != nil {
		return n, errors.Wrap(err, errors.ErrorTypeFile, "failed to close "+p)
	}
	return n, nil
}
