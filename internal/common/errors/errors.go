// Package errors provides standardized error handling for the offer pipeline.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// No provider key could be resolved. Never retried.
	ErrCodeMissingCredential ErrorCode = "MISSING_CREDENTIAL"

	// The model returned empty text.
	ErrCodeNoResponse ErrorCode = "NO_RESPONSE"

	// No parseable JSON value could be recovered from the model output.
	ErrCodeInvalidJSON ErrorCode = "INVALID_JSON"

	// The value parsed but violates the expected shape. Never retried.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// All retry attempts were used up; wraps the last retryable failure.
	ErrCodeRetryExhausted ErrorCode = "RETRY_EXHAUSTED"

	// Cooperative cancellation observed at a stage boundary.
	ErrCodeWorkflowCancelled ErrorCode = "WORKFLOW_CANCELLED"

	// The model invocation itself failed (network, API, timeout).
	ErrCodeModelCallFailed ErrorCode = "MODEL_CALL_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// IsCode reports whether err is a StandardError carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// IsRetryable classifies an error for the retry executor. Only validation
// and credential failures are terminal; anything else (including errors from
// outside this package, e.g. raw network failures) is treated as retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// Normalize ensures we always have a StandardError to report upstream.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMissingCredentialError creates a terminal missing-credential error.
func NewMissingCredentialError(provider string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMissingCredential,
		Message:   fmt.Sprintf("No API key available for provider '%s'", provider),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoResponseError creates a retryable empty-response error.
func NewNoResponseError(context string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNoResponse,
		Message:   "Model returned empty response",
		Details:   fmt.Sprintf("context: %s", context),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidJSONError creates a retryable extraction error. The underlying
// parser message is preserved in Details.
func NewInvalidJSONError(context string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeInvalidJSON,
		Message:   fmt.Sprintf("Could not extract valid JSON from model response (%s)", context),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		stdErr.Details = err.Error()
	}
	return stdErr
}

// NewValidationFailedError creates a terminal schema-violation error listing
// the dotted paths of every failed field.
func NewValidationFailedError(context string, fields []string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   fmt.Sprintf("Response shape validation failed (%s)", context),
		Details:   strings.Join(fields, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"fields": fields},
		Timestamp: time.Now().UTC(),
	}
}

// NewRetryExhaustedError wraps the last underlying error after all attempts.
func NewRetryExhaustedError(operation string, attempts int, last error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeRetryExhausted,
		Message:   fmt.Sprintf("Operation '%s' failed after %d attempts", operation, attempts),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     last,
	}
	if last != nil {
		stdErr.Details = last.Error()
	}
	return stdErr
}

// NewWorkflowCancelledError creates a terminal cancellation error.
func NewWorkflowCancelledError(workflowID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowCancelled,
		Message:   "Workflow was cancelled",
		Details:   fmt.Sprintf("workflowId: %s", workflowID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewModelCallFailedError creates a retryable model invocation error.
func NewModelCallFailedError(context string, err error) *StandardError {
	stdErr := &StandardError{
		Code:      ErrCodeModelCallFailed,
		Message:   fmt.Sprintf("Model invocation failed (%s)", context),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
	if err != nil {
		stdErr.Details = err.Error()
	}
	return stdErr
}
