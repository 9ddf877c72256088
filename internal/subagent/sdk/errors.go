package sdk

import "errors"

// SDK error types for subagent development. The bridge itself never returns
// errors; these are used by subagents and the registry that loads them.
var (
	// Metadata validation errors
	ErrMissingID      = errors.New("subagent metadata: missing ID")
	ErrMissingName    = errors.New("subagent metadata: missing name")
	ErrMissingVersion = errors.New("subagent metadata: missing version")

	// Capability errors
	ErrInvalidCapability = errors.New("invalid capability")

	// Lifecycle errors
	ErrSubagentAlreadyRegistered = errors.New("subagent already registered")
	ErrSubagentNotFound          = errors.New("subagent not found")
	ErrNilBridge                 = errors.New("subagent initialized without a bridge")
)

// SubagentError wraps an error with subagent context.
type SubagentError struct {
	ID  string
	Op  string
	Err error
}

func (e *SubagentError) Error() string {
	if e.ID != "" {
		return "subagent " + e.ID + ": " + e.Op + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *SubagentError) Unwrap() error {
	return e.Err
}

// NewSubagentError creates a new SubagentError.
func NewSubagentError(id, op string, err error) *SubagentError {
	return &SubagentError{
		ID:  id,
		Op:  op,
		Err: err,
	}
}
