package filter

import (
	"fmt"
)

// Error types for filter operations
type (
	// CompilationError indicates a custom operator expression could not be compiled
	CompilationError struct {
		Operator   string
		Expression string
		Reason     string
		Err        error
	}

	// EvaluationError indicates a rule could not be evaluated against an item
	EvaluationError struct {
		Rule   string
		ItemID string
		Reason string
		Err    error
	}
)

func (e *CompilationError) Error() string {
	if e.Operator != "" {
		return fmt.Sprintf("compilation error for operator '%s' in '%s': %s", e.Operator, e.Expression, e.Reason)
	}
	return fmt.Sprintf("compilation error in '%s': %s", e.Expression, e.Reason)
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation error for rule '%s' on item '%s': %s", e.Rule, e.ItemID, e.Reason)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
