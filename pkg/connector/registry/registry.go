package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/porter/pkg/connector/core"
	"github.com/ajitpratap0/porter/pkg/errors"
	"github.com/ajitpratap0/porter/pkg/logger"
	"github.com/ajitpratap0/porter/pkg/models"
	"github.com/ajitpratap0/porter/pkg/schema"
	"go.uber.org/zap"
)

// Config is what a factory receives to build a connector.
type Config struct {
	Name     string
	Variant  schema.Variant
	Args     any
	Metadata models.Metadata
	Secrets  []string
	// BaseDir is the directory of the pipeline file; relative paths resolve
	// against it
	BaseDir string
}

// Factory creates a connector instance from validated configuration.
type Factory func(cfg Config) (core.Connector, error)

type entry struct {
	factory     Factory
	description string
}

// Registry manages connector registration and instantiation
type Registry struct {
	factories map[schema.Variant]entry
	schemas   *schema.Registry
	mu        sync.RWMutex
	logger    *zap.Logger
}

// Global registry instance
var globalRegistry = NewRegistry(schema.Default())

// NewRegistry creates a new connector registry that records argument
// schemas in schemas.
func NewRegistry(schemas *schema.Registry) *Registry {
	return &Registry{
		factories: make(map[schema.Variant]entry),
		schemas:   schemas,
		logger:    logger.Get().With(zap.String("component", "connector_registry")),
	}
}

// Schemas returns the schema registry connectors register into.
func (r *Registry) Schemas() *schema.Registry {
	return r.schemas
}

// Register records a factory and its argument schema for variant.
func (r *Registry) Register(variant schema.Variant, args any, factory Factory, description string) error {
	if factory == nil {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s has no factory", variant))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[variant]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("connector %s already registered", variant))
	}
	if args != nil {
		if err := r.schemas.Register(variant, args); err != nil {
			return err
		}
	}

	r.factories[variant] = entry{factory: factory, description: description}
	r.logger.Debug("connector registered", zap.String("variant", variant.String()))
	return nil
}

// MustRegister is Register that panics, for use in init functions.
func (r *Registry) MustRegister(variant schema.Variant, args any, factory Factory, description string) {
	if err := r.Register(variant, args, factory, description); err != nil {
		panic(err)
	}
}

// Create builds the connector for variant.
func (r *Registry) Create(variant schema.Variant, cfg Config) (core.Connector, error) {
	r.mu.RLock()
	e, exists := r.factories[variant]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.New(errors.ErrorTypeNotFound, fmt.Sprintf("connector %s not found", variant))
	}

	cfg.Variant = variant
	conn, err := e.factory(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to create connector %s for %q", variant, cfg.Name))
	}
	return conn, nil
}

// CreateSource builds the connector for a validated source config.
func (r *Registry) CreateSource(src *models.SourceConfig, baseDir string) (core.Connector, error) {
	return r.Create(src.Variant(), configOf(&src.ConnectorConfig, baseDir))
}

// CreateTarget builds the connector for a validated target config.
func (r *Registry) CreateTarget(tgt *models.TargetConfig, baseDir string) (core.Connector, error) {
	return r.Create(tgt.Variant(), configOf(&tgt.ConnectorConfig, baseDir))
}

func configOf(c *models.ConnectorConfig, baseDir string) Config {
	return Config{
		Name:     c.Name,
		Args:     c.Args,
		Metadata: c.Metadata,
		Secrets:  c.Secrets,
		BaseDir:  baseDir,
	}
}

// Has checks if a connector is registered for variant
func (r *Registry) Has(variant schema.Variant) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[variant]
	return exists
}

// List returns the registered connectors sorted by variant.
func (r *Registry) List() []ConnectorInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ConnectorInfo, 0, len(r.factories))
	for variant, e := range r.factories {
		var fields []string
		for _, f := range r.schemas.Fields(variant) {
			name := f.Name
			if f.Required {
				name += "*"
			}
			fields = append(fields, name)
		}
		infos = append(infos, ConnectorInfo{
			Variant:     variant,
			Kind:        string(variant.Kind()),
			Type:        variant.Type(),
			Description: e.description,
			Args:        fields,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Variant < infos[j].Variant })
	return infos
}

// Global registry functions

// Register registers a connector in the global registry
func Register(variant schema.Variant, args any, factory Factory, description string) error {
	return globalRegistry.Register(variant, args, factory, description)
}

// MustRegister registers a connector in the global registry or panics
func MustRegister(variant schema.Variant, args any, factory Factory, description string) {
	globalRegistry.MustRegister(variant, args, factory, description)
}

// Create creates a connector from the global registry
func Create(variant schema.Variant, cfg Config) (core.Connector, error) {
	return globalRegistry.Create(variant, cfg)
}

// List returns connectors registered in the global registry
func List() []ConnectorInfo {
	return globalRegistry.List()
}

// GetRegistry returns the global registry instance.
func GetRegistry() *Registry {
	return globalRegistry
}

// ConnectorInfo provides information about a connector
type ConnectorInfo struct {
	Variant     schema.Variant `json:"variant"`
	Kind        string         `json:"kind"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	// Args lists argument names, required ones suffixed with "*"
	Args []string `json:"args"`
}
