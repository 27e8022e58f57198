package models

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/ajitpratap0/porter/pkg/config"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/schema"
)

// ConnectorConfig holds the fields shared by sources, targets and secrets
// backends. RawArgs is the args mapping as written in the document; Args is
// the typed schema value it validates into.
type ConnectorConfig struct {
	Name          string         `yaml:"name" json:"name"`
	Metadata      Metadata       `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	RawArgs       map[string]any `yaml:"args,omitempty" json:"args,omitempty"`
	Secrets       []string       `yaml:"secrets,omitempty" json:"secrets,omitempty"`
	SecretsSource SecretSource   `yaml:"secrets_source,omitempty" json:"secrets_source,omitempty"`

	Args any `yaml:"-" json:"-"`
}

// validate runs every check and reports all failures together. Args is only
// replaced when everything passes.
func (c *ConnectorConfig) validate(reg *schema.Registry, variant schema.Variant, checkArgs bool) error {
	var errs error

	if c.Name == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("%s: name is required", variant.Kind())))
	}

	if c.RawArgs == nil {
		c.RawArgs = map[string]any{}
	}

	var args any
	if checkArgs {
		var err error
		args, err = reg.Validate(variant, c.RawArgs)
		errs = multierr.Append(errs, err)
	}

	if len(c.Secrets) > 0 && c.SecretsSource == "" {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeMissingSecretsSource,
			"secrets_source must be provided when secrets are specified").
			WithDetail("connector", c.Name))
	}
	if c.SecretsSource != "" && !c.SecretsSource.Valid() {
		errs = multierr.Append(errs, errors.New(errors.ErrorTypeValidation,
			fmt.Sprintf("unknown secrets_source %q", c.SecretsSource)))
	}

	if errs != nil {
		return errs
	}
	c.Args = args
	return nil
}

// SourceConfig is a connector data is read from.
type SourceConfig struct {
	ConnectorConfig `yaml:",inline"`
	SourceType      SourceType `yaml:"source_type" json:"source_type"`
}

// Variant returns the schema variant of the source.
func (s *SourceConfig) Variant() schema.Variant {
	return schema.VariantOf(schema.KindSource, string(s.SourceType))
}

// Validate checks the source and replaces Args with the typed schema value.
func (s *SourceConfig) Validate(reg *schema.Registry) error {
	typeErr := checkType("source_type", string(s.SourceType), s.SourceType.Valid())
	err := s.ConnectorConfig.validate(reg, s.Variant(), typeErr == nil)
	return wrapConnector(multierr.Append(typeErr, err), "source", s.Name)
}

// NewSourceConfig validates cfg and returns it, or nil and the error.
func NewSourceConfig(reg *schema.Registry, cfg SourceConfig) (*SourceConfig, error) {
	if err := cfg.Validate(reg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SecretsBackend names the service secrets are fetched from. Its Secrets list
// is an allowlist; empty allows every secret.
type SecretsBackend struct {
	ConnectorConfig `yaml:",inline"`
}

// Variant returns the schema variant of the backend.
func (b *SecretsBackend) Variant() schema.Variant {
	return schema.VariantOf(schema.KindSecretsBackend, string(b.SecretsSource))
}

// Validate checks the backend and replaces Args with the typed schema value.
func (b *SecretsBackend) Validate(reg *schema.Registry) error {
	var typeErr error
	if b.SecretsSource == "" {
		typeErr = errors.New(errors.ErrorTypeValidation, "secrets_source is required")
	}
	err := b.ConnectorConfig.validate(reg, b.Variant(), b.SecretsSource.Valid())
	return wrapConnector(multierr.Append(typeErr, err), "secrets backend", b.Name)
}

// Allows reports whether the allowlist permits secret.
func (b *SecretsBackend) Allows(secret string) bool {
	if len(b.Secrets) == 0 {
		return true
	}
	for _, s := range b.Secrets {
		if s == secret {
			return true
		}
	}
	return false
}

// NewSecretsBackend validates cfg and returns it, or nil and the error.
func NewSecretsBackend(reg *schema.Registry, cfg SecretsBackend) (*SecretsBackend, error) {
	if err := cfg.Validate(reg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadSecretsBackend reads and validates a secrets backend document.
func LoadSecretsBackend(path string, reg *schema.Registry) (*SecretsBackend, error) {
	var cfg SecretsBackend
	if err := config.LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	return NewSecretsBackend(reg, cfg)
}

// LoadSourceConfig reads and validates a standalone source document.
func LoadSourceConfig(path string, reg *schema.Registry) (*SourceConfig, error) {
	var cfg SourceConfig
	if err := config.LoadFile(path, &cfg); err != nil {
		return nil, err
	}
	return NewSourceConfig(reg, cfg)
}

func checkType(field, value string, valid bool) error {
	if value == "" {
		return errors.New(errors.ErrorTypeValidation, field+" is required")
	}
	if !valid {
		return errors.New(errors.ErrorTypeValidation, fmt.Sprintf("unknown %s %q", field, value))
	}
	return nil
}

// wrapConnector prefixes every error in err with the connector it belongs to,
// keeping the individual errors reachable through multierr.Errors.
func wrapConnector(err error, kind, name string) error {
	if err == nil {
		return nil
	}
	var out error
	for _, e := range multierr.Errors(err) {
		out = multierr.Append(out, &ConnectorError{Kind: kind, Name: name, Err: e})
	}
	return out
}

// ConnectorError ties a validation failure to the connector it came from.
type ConnectorError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConnectorError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Name, e.Err)
}

func (e *ConnectorError) Unwrap() error { return e.Err }
