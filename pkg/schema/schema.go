// Package schema provides the argument schema registry for Porter connectors.
//
// Every connector variant (a source type, a target type or a secrets backend)
// declares the closed set of args it accepts as a Go struct. Field keys come
// from `yaml` tags; `required:"true"` marks mandatory keys and `default:"..."`
// supplies a value when the key is absent:
//
//	type DatabaseArgs struct {
//	    Driver   string `yaml:"driver" required:"true"`
//	    Hostname string `yaml:"hostname"`
//	    Port     int    `yaml:"port"`
//	}
//
//	func init() {
//	    schema.MustRegister(schema.VariantOf(schema.KindSource, "database"), DatabaseArgs{})
//	}
//
// Validation is generic: one pass reports every missing, unknown and
// malformed key. Variants that register nothing get Empty, which accepts no
// keys at all. Variants that accept free-form args register Passthrough.
package schema

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Kind is the category of a connector variant.
type Kind string

const (
	KindSource         Kind = "source"
	KindTarget         Kind = "target"
	KindSecretsBackend Kind = "secrets_backend"
)

// Variant tags one connector variant, e.g. "source.database".
type Variant string

// VariantOf builds the tag for a kind and a type name.
func VariantOf(kind Kind, typeName string) Variant {
	return Variant(string(kind) + "." + typeName)
}

// Kind returns the kind part of the tag.
func (v Variant) Kind() Kind {
	kind, _, _ := strings.Cut(string(v), ".")
	return Kind(kind)
}

// Type returns the type part of the tag.
func (v Variant) Type() string {
	_, typeName, _ := strings.Cut(string(v), ".")
	return typeName
}

func (v Variant) String() string { return string(v) }

// Empty is the schema of variants that declare no args.
type Empty struct{}

// Passthrough accepts any keys unchanged.
type Passthrough map[string]any

// Validator is implemented by schemas with rules beyond required/unknown keys.
type Validator interface {
	Validate() error
}

// Field describes one key of a schema.
type Field struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required" yaml:"required"`
	Default  string `json:"default,omitempty" yaml:"default,omitempty"`
}

// As returns args as *T, the typed value a connector factory expects.
func As[T any](args any) (*T, error) {
	if typed, ok := args.(*T); ok && typed != nil {
		return typed, nil
	}
	var zero T
	return nil, errors.New(errors.ErrorTypeConfig,
		fmt.Sprintf("connector args are %T, want *%T", args, zero))
}

var (
	emptyType       = reflect.TypeOf(Empty{})
	passthroughType = reflect.TypeOf(Passthrough{})
)

// fieldSpec is a flattened struct field with its key.
type fieldSpec struct {
	key      string
	required bool
	def      string
	hasDef   bool
	typ      reflect.Type
}

// fieldsOf flattens a schema struct. Anonymous embedded structs (tagged
// `yaml:",inline"`) are squashed the same way the decoder squashes them.
func fieldsOf(t reflect.Type) []fieldSpec {
	var out []fieldSpec
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name := tagName(f.Tag.Get("yaml"))
		if name == "-" {
			continue
		}
		if f.Anonymous && f.Type.Kind() == reflect.Struct && name == "" {
			out = append(out, fieldsOf(f.Type)...)
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		def, hasDef := f.Tag.Lookup("default")
		out = append(out, fieldSpec{
			key:      name,
			required: f.Tag.Get("required") == "true",
			def:      def,
			hasDef:   hasDef,
			typ:      f.Type,
		})
	}
	return out
}

func tagName(tag string) string {
	name, _, _ := strings.Cut(tag, ",")
	return name
}
