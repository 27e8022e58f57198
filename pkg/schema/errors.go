package schema

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// ValidationError lists every problem found in one set of connector args.
type ValidationError struct {
	Variant Variant
	Missing []string
	Unknown []string
	Invalid []string
}

// HasProblems reports whether any key failed validation.
func (e *ValidationError) HasProblems() bool {
	return len(e.Missing) > 0 || len(e.Unknown) > 0 || len(e.Invalid) > 0
}

// ErrorType classifies the error for errors.IsType.
func (e *ValidationError) ErrorType() errors.ErrorType {
	return errors.ErrorTypeSchemaValidation
}

func (e *ValidationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required args: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unknown) > 0 {
		parts = append(parts, "unknown args: "+strings.Join(e.Unknown, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid args: "+strings.Join(e.Invalid, "; "))
	}
	return fmt.Sprintf("%s: args for %s failed validation: %s",
		errors.ErrorTypeSchemaValidation, e.Variant, strings.Join(parts, "; "))
}
