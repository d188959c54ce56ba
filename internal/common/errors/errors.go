// Package errors provides standardized error handling for the prediction pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Remote scoring service
	ErrCodeScoringUnavailable       ErrorCode = "SCORING_UNAVAILABLE"
	ErrCodeScoringTimeout           ErrorCode = "SCORING_TIMEOUT"
	ErrCodeScoringValidationReject  ErrorCode = "SCORING_VALIDATION_REJECTED"
	ErrCodeScoringMalformedResponse ErrorCode = "SCORING_MALFORMED_RESPONSE"

	// Inbound events
	ErrCodeEventSchemaInvalid ErrorCode = "EVENT_SCHEMA_INVALID"

	// Orchestration
	ErrCodeAggregateNotFound ErrorCode = "AGGREGATE_NOT_FOUND"
	ErrCodeStageExhausted    ErrorCode = "STAGE_EXHAUSTED"
	ErrCodeProfileLoadFailed ErrorCode = "PROFILE_LOAD_FAILED"

	// Persistence
	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeVersionConflict   ErrorCode = "VERSION_CONFLICT"

	// Side effects
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeIndexingFailed         ErrorCode = "INDEXING_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewScoringUnavailableError creates a retryable remote-service error
// (connection failure or 5xx response).
func NewScoringUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoringUnavailable,
		Message:   "Scoring service unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewScoringTimeoutError creates a retryable timeout error for a chunk call.
func NewScoringTimeoutError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoringTimeout,
		Message:   "Scoring service call timed out",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewScoringValidationRejectError creates a non-retryable error for the
// service's structured validation-error response: the request shape itself
// is wrong, so retrying the same chunk cannot succeed.
func NewScoringValidationRejectError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoringValidationReject,
		Message:   "Scoring service rejected request schema",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewScoringMalformedResponseError creates a retryable error for a response
// body that is neither a result array nor a validation-error object.
func NewScoringMalformedResponseError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeScoringMalformedResponse,
		Message:   "Scoring service returned malformed response",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventSchemaInvalidError creates a non-retryable error for a malformed
// inbound event payload. Such events are dropped, never redelivered.
func NewEventSchemaInvalidError(topic, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventSchemaInvalid,
		Message:   "Inbound event failed schema validation",
		Details:   fmt.Sprintf("topic: %s, errors: %s", topic, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAggregateNotFoundError creates a non-retryable missing-prerequisite error.
func NewAggregateNotFoundError(studentID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAggregateNotFound,
		Message:   "No prediction aggregate exists for student",
		Details:   fmt.Sprintf("studentId: %s", studentID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewStageExhaustedError marks a stage whose every chunk failed after all
// retry sweeps. The stage field stays empty; siblings are unaffected.
func NewStageExhaustedError(stage string) *StandardError {
	return &StandardError{
		Code:      ErrCodeStageExhausted,
		Message:   "All scoring chunks failed after retries",
		Details:   fmt.Sprintf("stage: %s", stage),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewProfileLoadFailedError creates a retryable database read error.
func NewProfileLoadFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeProfileLoadFailed,
		Message:   "Failed to load student profile",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailedError creates a retryable database write error.
func NewPersistenceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Failed to persist prediction aggregate",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewVersionConflictError marks a compare-and-swap miss on the aggregate row.
// The caller re-reads and re-applies its merge.
func NewVersionConflictError(studentID string, expected int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeVersionConflict,
		Message:   "Aggregate row was modified concurrently",
		Details:   fmt.Sprintf("studentId: %s, expectedVersion: %d", studentID, expected),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewIndexingFailedError creates a retryable analytics-indexing error.
func NewIndexingFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexingFailed,
		Message:   "Failed to index prediction result",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// IsRetryable reports whether err should be retried. Unknown error types
// (raw network errors, driver errors) are treated as transient.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return true
}

// CodeOf returns the code of err when it is a StandardError, empty otherwise.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// HasCode reports whether err is a StandardError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr.Code == code
	}
	return false
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SCORING"):
		return "SCORING"
	case strings.Contains(codeStr, "EVENT"):
		return "EVENTS"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "VERSION") || strings.Contains(codeStr, "PROFILE"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "INDEXING"):
		return "SIDE_EFFECTS"
	default:
		return "OTHER"
	}
}
