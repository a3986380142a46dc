package tools

import "fmt"

// ErrToolUnavailable is returned when an action request targets a tool
// that is not present in the effective registry. This indicates a
// capability mismatch (filtered out for the active behavior, or
// nonexistent), not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("action %q is not available in this context", e.ToolName)
}
