package models

import (
	"bytes"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// Metadata is a string mapping that keeps document order.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata builds Metadata from alternating key, value pairs.
func NewMetadata(pairs ...string) Metadata {
	var m Metadata
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set adds or replaces a key. New keys go last.
func (m *Metadata) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value of key.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in order.
func (m Metadata) Keys() []string {
	return append([]string(nil), m.keys...)
}

// Len returns the number of keys.
func (m Metadata) Len() int { return len(m.keys) }

// IsZero lets yaml omitempty skip empty metadata.
func (m Metadata) IsZero() bool { return len(m.keys) == 0 }

// Map returns an unordered copy.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.keys))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// UnmarshalYAML decodes a mapping of scalars.
func (m *Metadata) UnmarshalYAML(node *yaml.Node) error {
	*m = Metadata{}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("metadata must be a mapping, line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("metadata value for %q must be a scalar, line %d", key.Value, value.Line)
		}
		if value.Tag == "!!null" {
			m.Set(key.Value, "")
			continue
		}
		m.Set(key.Value, value.Value)
	}
	return nil
}

// MarshalYAML encodes the mapping in key order.
func (m Metadata) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range m.keys {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.values[k]},
		)
	}
	return node, nil
}

// UnmarshalJSON decodes an object of scalars, keeping key order.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	*m = Metadata{}
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("metadata must be an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("metadata key must be a string")
		}
		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		switch v := valTok.(type) {
		case json.Delim:
			return fmt.Errorf("metadata value for %q must be a scalar", key)
		case nil:
			m.Set(key, "")
		case string:
			m.Set(key, v)
		default:
			m.Set(key, fmt.Sprint(v))
		}
	}

	if _, err := dec.Token(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// MarshalJSON encodes the object in key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
