package models

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// TargetConfig is a connector datasets are loaded into.
type TargetConfig struct {
	ConnectorConfig `yaml:",inline"`
	TargetType      TargetType `yaml:"target_type" json:"target_type"`

	// Mode defaults to append
	Mode LoadMode `yaml:"mode,omitempty" json:"mode,omitempty"`
	// LoadAll defaults to true; LoadOnly takes precedence when set
	LoadAll            *bool             `yaml:"load_all,omitempty" json:"load_all,omitempty"`
	LoadOnly           []string          `yaml:"load_only,omitempty" json:"load_only,omitempty"`
	RenameTargets      map[string]string `yaml:"rename_targets,omitempty" json:"rename_targets,omitempty"`
	TruncateBeforeLoad bool              `yaml:"truncate_before_load,omitempty" json:"truncate_before_load,omitempty"`
}

// Variant returns the schema variant of the target.
func (t *TargetConfig) Variant() schema.Variant {
	return schema.VariantOf(schema.KindTarget, string(t.TargetType))
}

// Validate checks the target, fills defaults and replaces Args with the typed
// schema value.
func (t *TargetConfig) Validate(reg *schema.Registry) error {
	errs := checkType("target_type", string(t.TargetType), t.TargetType.Valid())

	if t.Mode == "" {
		t.Mode = LoadModeAppend
	}
	if !t.Mode.Valid() {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("unknown mode %q", t.Mode)))
	}
	if t.LoadAll == nil {
		loadAll := true
		t.LoadAll = &loadAll
	}
	if !*t.LoadAll && len(t.LoadOnly) == 0 {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			"load_all is false but load_only lists no datasets"))
	}

	errs = multierr.Append(errs, t.ConnectorConfig.validate(reg, t.Variant(), t.TargetType.Valid()))
	return wrapConnector(errs, "target", t.Name)
}

// Loads reports whether the target receives the dataset.
func (t *TargetConfig) Loads(dataset string) bool {
	if len(t.LoadOnly) > 0 {
		for _, name := range t.LoadOnly {
			if name == dataset {
				return true
			}
		}
		return false
	}
	return t.LoadAll == nil || *t.LoadAll
}

// TargetName returns the name the dataset is written under.
func (t *TargetConfig) TargetName(dataset string) string {
	if renamed, ok := t.RenameTargets[dataset]; ok && renamed != "" {
		return renamed
	}
	return dataset
}

// NewTargetConfig validates cfg and returns it, or nil and the error.
func NewTargetConfig(reg *schema.Registry, cfg TargetConfig) (*TargetConfig, error) {
	if err := cfg.Validate(reg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadTargetConfig reads and validates a standalone target document.
func LoadTargetConfig(path string, reg *schema.Registry) (*TargetConfig, error) {
	var cfg TargetConfig
	if err := config.LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	return NewTargetConfig(reg, cfg)
}

// CustomWriteOptions overrides how one dataset is written to one target.
type CustomWriteOptions struct {
	Target         string   `yaml:"target" json:"target"`
	DatasetName    string   `yaml:"dataset_name" json:"dataset_name"`
	TargetName     string   `yaml:"target_name,omitempty" json:"target_name,omitempty"`
	TruncateTarget bool     `yaml:"truncate_target,omitempty" json:"truncate_target,omitempty"`
	Mode           LoadMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Validate fills defaults and checks required fields.
func (o *CustomWriteOptions) Validate() error {
	var errs error
	if o.Target == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation, "custom_write_options: target is required"))
	}
	if o.DatasetName == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation, "custom_write_options: dataset_name is required"))
	}
	if o.TargetName == "" {
		o.TargetName = o.DatasetName
	}
	if o.Mode == "" {
		o.Mode = LoadModeAppend
	}
	if !o.Mode.Valid() {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("custom_write_options: unknown mode %q", o.Mode)))
	}
	return errs
}

// WritePlan is the resolved way one dataset is written to one target.
type WritePlan struct {
	Target     string
	Dataset    string
	TargetName string
	Mode       LoadMode
	Truncate   bool
}

func (w WritePlan) String() string {
	return w.Target + "/" + w.Dataset
}
