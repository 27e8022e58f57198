package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// Format is a supported config document encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

// DetectFormat maps a file extension to a Format. Unknown extensions fail
// with ErrorTypeUnsupportedFormat.
func DetectFormat(filePath string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.New(errors.ErrorTypeUnsupportedFormat,
			fmt.Sprintf("file type: %q is not supported", ext)).
			WithDetail("path", filePath)
	}
}

// LoadFile loads a YAML or JSON document into out. The format is picked from
// the file extension before the file is read.
func LoadFile(filePath string, out interface{}) error {
	format, err := DetectFormat(filePath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // G304: File path is controlled by caller
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to read config file").
			WithDetail("path", filePath)
	}

	if err := Decode(data, format, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig,
			fmt.Sprintf("could not parse the %s file: %s", strings.ToUpper(string(format)), filePath))
	}
	return nil
}

// Decode substitutes ${VAR} references and decodes data in the given format.
func Decode(data []byte, format Format, out interface{}) error {
	content := []byte(substituteEnvVars(string(data)))

	switch format {
	case FormatYAML:
		return yaml.Unmarshal(content, out)
	case FormatJSON:
		return json.Unmarshal(content, out)
	default:
		return errors.New(errors.ErrorTypeUnsupportedFormat, fmt.Sprintf("format %q is not supported", format))
	}
}

// Save saves a value to a YAML or JSON file chosen by extension
func Save(filePath string, v interface{}) error {
	format, err := DetectFormat(filePath)
	if err != nil {
		return err
	}

	var data []byte
	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(v, "", "  ")
	default:
		data, err = yaml.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", format, err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not scanned again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	b.Grow(len(content))
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			b.WriteString(content)
			return b.String()
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			b.WriteString(content)
			return b.String()
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
}
