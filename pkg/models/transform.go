package models

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// DuckInternal is the in-job source every transform runs against by default.
const DuckInternal = "duck_internal"

// Validation is a SQL check run before or after the load.
type Validation struct {
	Name          string         `yaml:"name" json:"name"`
	SQLQuery      string         `yaml:"sql_query" json:"sql_query"`
	ValuesToBind  map[string]any `yaml:"values_to_bind,omitempty" json:"values_to_bind,omitempty"`
	Exception     string         `yaml:"exception" json:"exception"`
	ExceptionType ExceptionType  `yaml:"exception_type,omitempty" json:"exception_type,omitempty"`
	Args          map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Metadata      Metadata       `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Validate fills defaults and checks required fields.
func (v *Validation) Validate() error {
	var errs error
	if v.Name == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation, "validation: name is required"))
	}
	if v.SQLQuery == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("validation %q: sql_query is required", v.Name)))
	}
	if v.Exception == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("validation %q: exception is required", v.Name)))
	}
	if v.ExceptionType == "" {
		v.ExceptionType = ExceptionTypeError
	}
	if !v.ExceptionType.Valid() {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("validation %q: unknown exception_type %q", v.Name, v.ExceptionType)))
	}
	return errs
}

// Transform is a SQL statement run against a source during the job.
type Transform struct {
	Name         string         `yaml:"name" json:"name"`
	SourceName   string         `yaml:"source_name,omitempty" json:"source_name,omitempty"`
	SQLQuery     string         `yaml:"sql_query,omitempty" json:"sql_query,omitempty"`
	SQLPath      string         `yaml:"sql_path,omitempty" json:"sql_path,omitempty"`
	ValuesToBind map[string]any `yaml:"values_to_bind,omitempty" json:"values_to_bind,omitempty"`
}

// Validate fills defaults and checks that exactly one of sql_query and
// sql_path is set.
func (t *Transform) Validate() error {
	var errs error
	if t.Name == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation, "transform: name is required"))
	}
	if t.SourceName == "" {
		t.SourceName = DuckInternal
	}
	if (t.SQLQuery == "") == (t.SQLPath == "") {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("transform %q: exactly one of sql_query and sql_path is required", t.Name)))
	}
	return errs
}
