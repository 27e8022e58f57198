package models

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Column describes one column of a dataset.
type Column struct {
	Name string `yaml:"name" json:"name"`
	// TargetName defaults to Name
	TargetName string `yaml:"target_name,omitempty" json:"target_name,omitempty"`
	Datatype   string `yaml:"datatype,omitempty" json:"datatype,omitempty"`
	Precision  *int   `yaml:"precision,omitempty" json:"precision,omitempty"`
	Scale      *int   `yaml:"scale,omitempty" json:"scale,omitempty"`
}

// DynamicInputQuery runs a query against a named source before a table read.
// The first row it returns is merged into the dataset's bind values.
type DynamicInputQuery struct {
	Source       string         `yaml:"source" json:"source"`
	Query        string         `yaml:"query" json:"query"`
	ValuesToBind map[string]any `yaml:"values_to_bind,omitempty" json:"values_to_bind,omitempty"`
}

// DatasetKind is inferred from the fields a dataset sets.
type DatasetKind string

const (
	DatasetKindPlain  DatasetKind = "plain"
	DatasetKindTable  DatasetKind = "table"
	DatasetKindFile   DatasetKind = "file"
	DatasetKindAPI    DatasetKind = "api"
	DatasetKindStream DatasetKind = "stream"
)

// Dataset is one unit of data extracted from the source.
type Dataset struct {
	Name             string            `yaml:"name" json:"name"`
	Columns          []Column          `yaml:"columns,omitempty" json:"columns,omitempty"`
	OnDatasetMissing *OnDatasetMissing `yaml:"on_dataset_missing,omitempty" json:"on_dataset_missing,omitempty"`
	// Metadata defaults to {"name": Name}
	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	// table
	Query             string             `yaml:"query,omitempty" json:"query,omitempty"`
	Table             string             `yaml:"table,omitempty" json:"table,omitempty"`
	ValuesToBind      map[string]any     `yaml:"values_to_bind,omitempty" json:"values_to_bind,omitempty"`
	DynamicInputQuery *DynamicInputQuery `yaml:"dynamic_input_query,omitempty" json:"dynamic_input_query,omitempty"`

	// file
	FilePath    string   `yaml:"file_path,omitempty" json:"file_path,omitempty"`
	FileType    FileType `yaml:"file_type,omitempty" json:"file_type,omitempty"`
	Engine      Engine   `yaml:"engine,omitempty" json:"engine,omitempty"`
	FilePattern string   `yaml:"file_pattern,omitempty" json:"file_pattern,omitempty"`

	// file and stream
	FilePrefix    string `yaml:"file_prefix,omitempty" json:"file_prefix,omitempty"`
	FileSuffix    string `yaml:"file_suffix,omitempty" json:"file_suffix,omitempty"`
	IsPartitioned bool   `yaml:"is_partitioned,omitempty" json:"is_partitioned,omitempty"`

	// api
	URL     string `yaml:"url,omitempty" json:"url,omitempty"`
	AuthURL string `yaml:"auth_url,omitempty" json:"auth_url,omitempty"`

	// stream
	StreamName string `yaml:"stream_name,omitempty" json:"stream_name,omitempty"`

	// Args are source specific read arguments for table, api and stream datasets
	Args map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
}

func (d *Dataset) kinds() []DatasetKind {
	var kinds []DatasetKind
	if d.Query != "" || d.Table != "" || d.DynamicInputQuery != nil || len(d.ValuesToBind) > 0 {
		kinds = append(kinds, DatasetKindTable)
	}
	if d.FilePath != "" || d.FileType != "" || d.Engine != "" || d.FilePattern != "" {
		kinds = append(kinds, DatasetKindFile)
	}
	if d.URL != "" || d.AuthURL != "" {
		kinds = append(kinds, DatasetKindAPI)
	}
	if d.StreamName != "" {
		kinds = append(kinds, DatasetKindStream)
	}
	return kinds
}

// Kind returns the dataset kind. Datasets that mix kinds report the first.
func (d *Dataset) Kind() DatasetKind {
	kinds := d.kinds()
	if len(kinds) == 0 {
		return DatasetKindPlain
	}
	return kinds[0]
}

// Validate fills defaults and checks the dataset. Datasets without their
// own on_dataset_missing take fallback when it is non-nil.
func (d *Dataset) Validate(fallback *OnDatasetMissing) error {
	var errs error
	fail := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("dataset %q: ", d.Name)+fmt.Sprintf(format, args...)))
	}

	if d.Name == "" {
		fail("name is required")
	}

	for i := range d.Columns {
		col := &d.Columns[i]
		if col.Name == "" {
			fail("columns[%d]: name is required", i)
			continue
		}
		if col.TargetName == "" {
			col.TargetName = col.Name
		}
	}

	if d.Metadata.Len() == 0 {
		d.Metadata = NewMetadata("name", d.Name)
	}

	if kinds := d.kinds(); len(kinds) > 1 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		fail("mixes fields of %s datasets", strings.Join(names, " and "))
	}

	switch d.Kind() {
	case DatasetKindTable:
		if d.DynamicInputQuery != nil {
			if d.DynamicInputQuery.Source == "" {
				fail("dynamic_input_query: source is required")
			}
			if d.DynamicInputQuery.Query == "" {
				fail("dynamic_input_query: query is required")
			}
		}
	case DatasetKindFile:
		if d.FilePath == "" {
			fail("file_path is required")
		}
		if d.FileType == "" {
			fail("file_type is required")
		} else if !d.FileType.Valid() {
			fail("unknown file_type %q", d.FileType)
		}
		if d.Engine == "" {
			d.Engine = EnginePandas
		} else if !d.Engine.Valid() {
			fail("unknown engine %q", d.Engine)
		}
		if d.FilePattern == "" {
			d.FilePattern = "*"
		}
	}

	if d.OnDatasetMissing == nil && fallback != nil {
		policy := *fallback
		d.OnDatasetMissing = &policy
	}
	if d.OnDatasetMissing != nil {
		if err := d.OnDatasetMissing.Validate(); err != nil {
			for _, e := range multierr.Errors(err) {
				fail("%v", e)
			}
		}
	}

	return errs
}

// MissingPolicy returns the dataset's policy, or error-on-missing when none
// is set.
func (d *Dataset) MissingPolicy() OnDatasetMissing {
	if d.OnDatasetMissing != nil {
		return *d.OnDatasetMissing
	}
	return NewOnDatasetMissing(MissingActionError)
}

// BindValues returns ValuesToBind merged with extra. Keys in extra win.
func (d *Dataset) BindValues(extra map[string]any) map[string]any {
	out := make(map[string]any, len(d.ValuesToBind)+len(extra))
	for k, v := range d.ValuesToBind {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
