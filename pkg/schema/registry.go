package schema

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Registry maps connector variants to their args schema types.
type Registry struct {
	schemas map[Variant]reflect.Type
	frozen  bool
	mu      sync.RWMutex
}

// Global registry instance
var defaultRegistry = NewRegistry()

// NewRegistry creates an empty schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas: make(map[Variant]reflect.Type),
	}
}

// Default returns the process-wide registry populated by connector packages.
func Default() *Registry {
	return defaultRegistry
}

// Register binds a schema to a variant. The schema is a zero value (or a
// pointer to one) of a struct type, Empty or Passthrough.
func (r *Registry) Register(variant Variant, schema any) error {
	if variant.Kind() == "" || variant.Type() == "" {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("invalid variant tag %q", variant))
	}

	typ := reflect.TypeOf(schema)
	if typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil || (typ.Kind() != reflect.Struct && typ != passthroughType) {
		return errors.New(errors.ErrorTypeConfig,
			fmt.Sprintf("schema for %s must be a struct or schema.Passthrough, got %T", variant, schema))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("schema registry is frozen, cannot register %s", variant))
	}
	if _, exists := r.schemas[variant]; exists {
		return errors.New(errors.ErrorTypeConfig, fmt.Sprintf("schema for %s already registered", variant))
	}

	r.schemas[variant] = typ
	return nil
}

// MustRegister is Register for init functions.
func (r *Registry) MustRegister(variant Variant, schema any) {
	if err := r.Register(variant, schema); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the schema type of a variant and whether one was registered.
// Unregistered variants resolve to Empty.
func (r *Registry) Lookup(variant Variant) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if typ, ok := r.schemas[variant]; ok {
		return typ, true
	}
	return emptyType, false
}

// Variants returns every registered variant, sorted.
func (r *Registry) Variants() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	variants := make([]Variant, 0, len(r.schemas))
	for v := range r.schemas {
		variants = append(variants, v)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i] < variants[j] })
	return variants
}

// Fields describes the keys a variant accepts. Passthrough schemas have none.
func (r *Registry) Fields(variant Variant) []Field {
	typ, _ := r.Lookup(variant)
	if typ == passthroughType {
		return nil
	}

	specs := fieldsOf(typ)
	fields := make([]Field, 0, len(specs))
	for _, s := range specs {
		fields = append(fields, Field{
			Name:     s.key,
			Type:     s.typ.String(),
			Required: s.required,
			Default:  s.def,
		})
	}
	return fields
}

// Validate checks raw args against the variant's schema and returns a pointer
// to a populated schema value. Every problem is reported in a single
// *ValidationError. The first call freezes the registry.
func (r *Registry) Validate(variant Variant, raw map[string]any) (any, error) {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()

	typ, _ := r.Lookup(variant)
	if raw == nil {
		raw = map[string]any{}
	}

	if typ == passthroughType {
		out := make(Passthrough, len(raw))
		for k, v := range raw {
			out[k] = v
		}
		return &out, nil
	}

	verr := &ValidationError{Variant: variant}
	specs := fieldsOf(typ)
	known := make(map[string]fieldSpec, len(specs))
	for _, s := range specs {
		known[s.key] = s
	}

	input := make(map[string]any, len(raw))
	for key, value := range raw {
		if _, ok := known[key]; !ok {
			verr.Unknown = append(verr.Unknown, key)
			continue
		}
		if value != nil {
			input[key] = value
		}
	}
	sort.Strings(verr.Unknown)

	for _, s := range specs {
		if _, present := input[s.key]; present {
			continue
		}
		if s.required {
			verr.Missing = append(verr.Missing, s.key)
			continue
		}
		if s.hasDef {
			input[s.key] = s.def
		}
	}

	out := reflect.New(typ)
	if err := decode(input, out.Interface()); err != nil {
		var merr *mapstructure.Error
		if errors.As(err, &merr) {
			verr.Invalid = append(verr.Invalid, merr.Errors...)
		} else {
			verr.Invalid = append(verr.Invalid, err.Error())
		}
	}

	if len(verr.Missing) == 0 && len(verr.Invalid) == 0 {
		if v, ok := out.Interface().(Validator); ok {
			if err := v.Validate(); err != nil {
				verr.Invalid = append(verr.Invalid, err.Error())
			}
		}
	}

	if verr.HasProblems() {
		return nil, verr
	}
	return out.Interface(), nil
}

func decode(input map[string]any, result any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Squash:           true,
		TagName:          "yaml",
		Result:           result,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}

// ToRaw converts validated args back to a raw mapping. Empty collections are
// dropped so that validating the result again yields an equivalent value.
func ToRaw(args any) (map[string]any, error) {
	switch typed := args.(type) {
	case nil:
		return map[string]any{}, nil
	case *Passthrough:
		out := make(map[string]any, len(*typed))
		for k, v := range *typed {
			out[k] = v
		}
		return out, nil
	}

	data, err := yaml.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to marshal connector args")
	}
	out := map[string]any{}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to unmarshal connector args")
	}
	for k, v := range out {
		switch c := v.(type) {
		case nil:
			delete(out, k)
		case map[string]any:
			if len(c) == 0 {
				delete(out, k)
			}
		case []any:
			if len(c) == 0 {
				delete(out, k)
			}
		}
	}
	return out, nil
}

// Register binds a schema in the default registry.
func Register(variant Variant, schema any) error {
	return defaultRegistry.Register(variant, schema)
}

// MustRegister binds a schema in the default registry and panics on error.
func MustRegister(variant Variant, schema any) {
	defaultRegistry.MustRegister(variant, schema)
}

// Validate validates raw args against the default registry.
func Validate(variant Variant, raw map[string]any) (any, error) {
	return defaultRegistry.Validate(variant, raw)
}

// Variants lists the variants of the default registry.
func Variants() []Variant {
	return defaultRegistry.Variants()
}

// Fields describes a variant of the default registry.
func Fields(variant Variant) []Field {
	return defaultRegistry.Fields(variant)
}
