package models

import (
	"fmt"
	"path/filepath"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// PipelineConfig is one Porter job: a source, the datasets read from it and
// the targets they are loaded into.
type PipelineConfig struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Source *SourceConfig `yaml:"source" json:"source"`
	// LookupSources are only used by dynamic input queries
	LookupSources []SourceConfig `yaml:"lookup_sources,omitempty" json:"lookup_sources,omitempty"`

	SecretsBackend *SecretsBackend `yaml:"secrets_backend,omitempty" json:"secrets_backend,omitempty"`
	// SecretsBackendConfig is a secrets backend document, relative to the
	// pipeline file. It is ignored when SecretsBackend is set.
	SecretsBackendConfig string `yaml:"secrets_backend_config,omitempty" json:"secrets_backend_config,omitempty"`

	Datasets []Dataset `yaml:"datasets" json:"datasets"`
	// OnDatasetMissing applies to datasets that declare none
	OnDatasetMissing *OnDatasetMissing `yaml:"on_dataset_missing,omitempty" json:"on_dataset_missing,omitempty"`

	PreValidations      []Validation `yaml:"pre_validations,omitempty" json:"pre_validations,omitempty"`
	PreTransformations  []Transform  `yaml:"pre_transformations,omitempty" json:"pre_transformations,omitempty"`
	PostValidations     []Validation `yaml:"post_validations,omitempty" json:"post_validations,omitempty"`
	PostTransformations []Transform  `yaml:"post_transformations,omitempty" json:"post_transformations,omitempty"`

	Targets            []TargetConfig       `yaml:"targets" json:"targets"`
	CustomWriteOptions []CustomWriteOptions `yaml:"custom_write_options,omitempty" json:"custom_write_options,omitempty"`

	Metadata Metadata `yaml:"metadata,omitempty" json:"metadata,omitempty"`

	baseDir string
}

// LoadPipeline reads a pipeline document and validates it. Nothing is
// returned unless the whole pipeline is valid.
func LoadPipeline(path string, reg *schema.Registry) (*PipelineConfig, error) {
	var p PipelineConfig
	if err := config.LoadFile(path, &p); err != nil {
		return nil, err
	}
	p.baseDir = filepath.Dir(path)

	if err := p.Validate(reg); err != nil {
		return nil, err
	}
	return &p, nil
}

// NewPipeline validates p and returns it, or nil and the error. baseDir
// resolves a relative secrets_backend_config.
func NewPipeline(reg *schema.Registry, p PipelineConfig, baseDir string) (*PipelineConfig, error) {
	p.baseDir = baseDir
	if err := p.Validate(reg); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every connector, dataset, validation and transform and then
// the references between them. All problems are returned together.
func (p *PipelineConfig) Validate(reg *schema.Registry) error {
	var errs error
	add := func(err error) { errs = multierr.Append(errs, err) }

	if p.Name == "" {
		add(errors.New(errors.ErrorTypeValidation, "pipeline name is required"))
	}

	add(p.resolveSecretsBackend(reg))

	if p.Source == nil {
		add(errors.New(errors.ErrorTypeValidation, "source is required"))
	} else {
		add(p.Source.Validate(reg))
	}
	for i := range p.LookupSources {
		add(p.LookupSources[i].Validate(reg))
	}

	if p.OnDatasetMissing != nil {
		add(p.OnDatasetMissing.Validate())
	}
	if len(p.Datasets) == 0 {
		add(errors.New(errors.ErrorTypeValidation, "at least one dataset is required"))
	}
	for i := range p.Datasets {
		add(p.Datasets[i].Validate(p.OnDatasetMissing))
	}

	if len(p.Targets) == 0 {
		add(errors.New(errors.ErrorTypeValidation, "at least one target is required"))
	}
	for i := range p.Targets {
		add(p.Targets[i].Validate(reg))
	}
	for i := range p.CustomWriteOptions {
		add(p.CustomWriteOptions[i].Validate())
	}

	for _, list := range [][]Validation{p.PreValidations, p.PostValidations} {
		for i := range list {
			add(list[i].Validate())
		}
	}
	for _, list := range [][]Transform{p.PreTransformations, p.PostTransformations} {
		for i := range list {
			add(list[i].Validate())
		}
	}

	add(p.checkReferences())

	if errs != nil {
		return errors.Wrap(errs, errors.ErrorTypeValidation,
			fmt.Sprintf("pipeline %q is invalid", p.Name))
	}
	return nil
}

// resolveSecretsBackend validates the inline backend, or loads the referenced
// document when there is none. The document is read at most once.
func (p *PipelineConfig) resolveSecretsBackend(reg *schema.Registry) error {
	if p.SecretsBackend != nil {
		return p.SecretsBackend.Validate(reg)
	}
	if p.SecretsBackendConfig == "" {
		return nil
	}

	path := p.SecretsBackendConfig
	if !filepath.IsAbs(path) && p.baseDir != "" {
		path = filepath.Join(p.baseDir, path)
	}
	backend, err := LoadSecretsBackend(path, reg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "failed to load secrets_backend_config").
			WithDetail("path", path)
	}
	p.SecretsBackend = backend
	return nil
}

// BaseDir is the directory relative paths in the pipeline resolve against.
func (p *PipelineConfig) BaseDir() string { return p.baseDir }

// SourceNames returns the source followed by the lookup sources.
func (p *PipelineConfig) SourceNames() []string {
	var names []string
	if p.Source != nil {
		names = append(names, p.Source.Name)
	}
	for _, s := range p.LookupSources {
		names = append(names, s.Name)
	}
	return names
}

// LookupSource returns the source or lookup source called name.
func (p *PipelineConfig) LookupSource(name string) (*SourceConfig, bool) {
	if p.Source != nil && p.Source.Name == name {
		return p.Source, true
	}
	for i := range p.LookupSources {
		if p.LookupSources[i].Name == name {
			return &p.LookupSources[i], true
		}
	}
	return nil, false
}

// Dataset returns the dataset called name.
func (p *PipelineConfig) Dataset(name string) (*Dataset, bool) {
	for i := range p.Datasets {
		if p.Datasets[i].Name == name {
			return &p.Datasets[i], true
		}
	}
	return nil, false
}

// WritePlans resolves, per target, the datasets it loads and how. Custom
// write options override the target's defaults.
func (p *PipelineConfig) WritePlans() []WritePlan {
	custom := make(map[[2]string]CustomWriteOptions, len(p.CustomWriteOptions))
	for _, o := range p.CustomWriteOptions {
		custom[[2]string{o.Target, o.DatasetName}] = o
	}

	var plans []WritePlan
	for i := range p.Targets {
		t := &p.Targets[i]
		for _, d := range p.Datasets {
			if !t.Loads(d.Name) {
				continue
			}
			plan := WritePlan{
				Target:     t.Name,
				Dataset:    d.Name,
				TargetName: t.TargetName(d.Name),
				Mode:       t.Mode,
				Truncate:   t.TruncateBeforeLoad,
			}
			if o, ok := custom[[2]string{t.Name, d.Name}]; ok {
				plan.TargetName = o.TargetName
				plan.Mode = o.Mode
				plan.Truncate = plan.Truncate || o.TruncateTarget
			}
			plans = append(plans, plan)
		}
	}
	return plans
}

func crossRef(format string, args ...interface{}) error {
	return errors.New(errors.ErrorTypeCrossReference, fmt.Sprintf(format, args...))
}

// checkReferences verifies every name one part of the pipeline uses to point
// at another.
func (p *PipelineConfig) checkReferences() error {
	var errs error
	add := func(err error) { errs = multierr.Append(errs, err) }

	sources := uniqueNames("source", p.SourceNames(), add)

	datasetNames := make([]string, len(p.Datasets))
	for i, d := range p.Datasets {
		datasetNames[i] = d.Name
	}
	datasets := uniqueNames("dataset", datasetNames, add)

	targetNames := make([]string, len(p.Targets))
	for i, t := range p.Targets {
		targetNames[i] = t.Name
	}
	targets := uniqueNames("target", targetNames, add)

	for _, d := range p.Datasets {
		if q := d.DynamicInputQuery; q != nil && q.Source != "" && !sources[q.Source] {
			add(crossRef("dataset %q: dynamic_input_query source %q is not a declared source", d.Name, q.Source))
		}
	}

	for _, o := range p.CustomWriteOptions {
		if o.Target != "" && !targets[o.Target] {
			add(crossRef("custom_write_options: target %q is not declared", o.Target))
		}
		if o.DatasetName != "" && !datasets[o.DatasetName] {
			add(crossRef("custom_write_options: dataset %q is not declared", o.DatasetName))
		}
	}

	for _, t := range p.Targets {
		for _, name := range t.LoadOnly {
			if !datasets[name] {
				add(crossRef("target %q: load_only dataset %q is not declared", t.Name, name))
			}
		}
		for name := range t.RenameTargets {
			if !datasets[name] {
				add(crossRef("target %q: rename_targets dataset %q is not declared", t.Name, name))
			}
		}
	}

	for _, list := range [][]Transform{p.PreTransformations, p.PostTransformations} {
		for _, tr := range list {
			if tr.SourceName != "" && tr.SourceName != DuckInternal && !sources[tr.SourceName] {
				add(crossRef("transform %q: source_name %q is not a declared source", tr.Name, tr.SourceName))
			}
		}
	}

	if b := p.SecretsBackend; b != nil {
		check := func(kind string, c *ConnectorConfig) {
			if len(c.Secrets) == 0 {
				return
			}
			if c.SecretsSource != "" && c.SecretsSource != b.SecretsSource {
				add(crossRef("%s %q: secrets_source %q does not match secrets backend %q",
					kind, c.Name, c.SecretsSource, b.SecretsSource))
			}
			for _, s := range c.Secrets {
				if !b.Allows(s) {
					add(crossRef("%s %q: secret %q is not allowed by secrets backend %q", kind, c.Name, s, b.Name))
				}
			}
		}
		if p.Source != nil {
			check("source", &p.Source.ConnectorConfig)
		}
		for i := range p.LookupSources {
			check("source", &p.LookupSources[i].ConnectorConfig)
		}
		for i := range p.Targets {
			check("target", &p.Targets[i].ConnectorConfig)
		}
	}

	return errs
}

// uniqueNames indexes names and reports duplicates through add.
func uniqueNames(kind string, names []string, add func(error)) map[string]bool {
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		if seen[name] {
			add(crossRef("%s name %q is declared more than once", kind, name))
		}
		seen[name] = true
	}
	return seen
}
