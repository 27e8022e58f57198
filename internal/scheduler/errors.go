package scheduler

import (
	"fmt"
	"strings"

	"github.com/ajitpratap0/porter/pkg/errors"
)

// WorkUnitFailure is the failure of one attempt of one work item. Panics
// inside the operation are reported the same way with Panic set.
type WorkUnitFailure struct {
	Item    string
	Attempt int
	Cause   error
	Panic   any
}

func (e *WorkUnitFailure) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("%s: item %q panicked at attempt %d: %v", errors.ErrorTypeWorkUnit, e.Item, e.Attempt, e.Panic)
	}
	return fmt.Sprintf("%s: item %q failed at attempt %d: %v", errors.ErrorTypeWorkUnit, e.Item, e.Attempt, e.Cause)
}

func (e *WorkUnitFailure) Unwrap() error { return e.Cause }

// ErrorType classifies the failure for errors.IsType.
func (e *WorkUnitFailure) ErrorType() errors.ErrorType { return errors.ErrorTypeWorkUnit }

// RetryBudgetExhausted aborts a run. Item is the first item, in input order,
// whose failures reached the budget after the last wave; Others lists the
// remaining items that exhausted theirs in the same wave.
type RetryBudgetExhausted struct {
	Phase      string
	Item       string
	Attempt    int
	MaxRetries int
	Others     []string
	Cause      error
}

func (e *RetryBudgetExhausted) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: item %q exhausted its retry budget at attempt %d/%d", errors.ErrorTypeRetryExhausted, e.Item, e.Attempt, e.MaxRetries)
	if e.Phase != "" {
		fmt.Fprintf(&b, " in phase %s", e.Phase)
	}
	if len(e.Others) > 0 {
		fmt.Fprintf(&b, " (also exhausted: %s)", strings.Join(e.Others, ", "))
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *RetryBudgetExhausted) Unwrap() error { return e.Cause }

// ErrorType classifies the abort for errors.IsType.
func (e *RetryBudgetExhausted) ErrorType() errors.ErrorType { return errors.ErrorTypeRetryExhausted }
