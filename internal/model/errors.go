package model

import "errors"

var (
	// ErrValidation marks missing or malformed required input; never retried.
	ErrValidation = errors.New("validation error")
	// ErrStorage marks checkpoint store or database unavailability; fatal to
	// the turn, surfaced as-is.
	ErrStorage = errors.New("storage unavailable")
	// ErrUpstream marks a model or external lookup failure after bounded
	// retries were exhausted.
	ErrUpstream = errors.New("upstream failure")
	// ErrToolExecution marks a tool-chain failure such as exceeding the
	// tool-call hop cap.
	ErrToolExecution = errors.New("tool execution failed")

	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)
