package dumping

import (
	"errors"
	"fmt"
)

// DumpError represents an error raised by the dump engine.
//
// The taxonomy is closed:
//   - Configuration/logic errors: unrecognized node kind, conflicting mode
//     flags. Fatal, never retried.
//   - Validation errors: the target entity cannot be dumped (e.g. unsealed).
//   - Safeguard violations: a delete or overwrite was attempted on a
//     directory lacking the safeguard marker. Fatal for that path's subtree;
//     completed sibling work is kept.
//   - Store failures: a graph-store query failed. Fatal for the whole
//     invocation; the tracker is not flushed.
type DumpError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the affected filesystem path, if any.
	Path string

	// NodeUUID identifies the affected entity, if any.
	NodeUUID string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes dump errors.
type ErrorCode string

const (
	// ErrCodeConfig indicates an unrecognized node kind or conflicting options.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"

	// ErrCodeValidation indicates the dump target failed a precondition.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"

	// ErrCodeSafeguard indicates a directory lacked the safeguard marker.
	ErrCodeSafeguard ErrorCode = "SAFEGUARD_VIOLATION"

	// ErrCodeStore indicates a graph-store query failed.
	ErrCodeStore ErrorCode = "STORE_FAILURE"
)

// Error implements the error interface.
func (e *DumpError) Error() string {
	switch {
	case e.Path != "" && e.NodeUUID != "":
		return fmt.Sprintf("%s: %s (path=%s, node=%s)", e.Code, e.Message, e.Path, e.NodeUUID)
	case e.Path != "":
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	case e.NodeUUID != "":
		return fmt.Sprintf("%s: %s (node=%s)", e.Code, e.Message, e.NodeUUID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause.
func (e *DumpError) Unwrap() error {
	return e.Err
}

// IsSafeguardError returns true if the error is a safeguard violation.
// Uses errors.As to handle wrapped errors.
func IsSafeguardError(err error) bool {
	var de *DumpError
	if errors.As(err, &de) {
		return de.Code == ErrCodeSafeguard
	}
	return false
}

// IsConfigError returns true if the error is a configuration/logic error.
func IsConfigError(err error) bool {
	var de *DumpError
	if errors.As(err, &de) {
		return de.Code == ErrCodeConfig
	}
	return false
}

// IsValidationError returns true if the error is a validation error.
func IsValidationError(err error) bool {
	var de *DumpError
	if errors.As(err, &de) {
		return de.Code == ErrCodeValidation
	}
	return false
}

// NewSafeguardError creates a DumpError for a missing safeguard marker.
func NewSafeguardError(path, message string) *DumpError {
	return &DumpError{Code: ErrCodeSafeguard, Message: message, Path: path}
}

// NewConfigError creates a DumpError for configuration and logic errors.
func NewConfigError(message string) *DumpError {
	return &DumpError{Code: ErrCodeConfig, Message: message}
}

// NewValidationError creates a DumpError for a failed dump precondition.
func NewValidationError(nodeUUID, message string) *DumpError {
	return &DumpError{Code: ErrCodeValidation, Message: message, NodeUUID: nodeUUID}
}

// NewStoreError wraps a graph-store failure.
func NewStoreError(message string, err error) *DumpError {
	return &DumpError{Code: ErrCodeStore, Message: message, Err: err}
}
