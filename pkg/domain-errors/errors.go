// Package domainerrors provides classified errors for the proof pipeline.
//
// Every component raises its own classified error; the orchestrator never
// reinterprets a classification, it only decides whether the pipeline halts
// or resumes. Codes therefore carry the retry semantics alongside the cause.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure with a fixed retry policy.
type Code string

const (
	// Generic codes shared across the service.
	CodeInvalidInput       Code = "invalid_input"
	CodeBadRequest         Code = "bad_request"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeUnauthorized       Code = "unauthorized"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal"
	CodeInvariantViolation Code = "invariant_violation"

	// Transient infrastructure failures. Retried internally with backoff,
	// surfaced as "retry" when the budget is exhausted.
	CodeStorageUnavailable Code = "storage_unavailable"
	CodeUnavailable        Code = "unavailable"

	// User-actionable failures. Never retried by the system.
	CodeRejected          Code = "rejected"
	CodeInsufficientFunds Code = "insufficient_funds"
	CodeWrongNetwork      Code = "wrong_network"

	// Deterministic failures for this attempt. Resubmitting the same call
	// would fail again, so these are never retried as-is.
	CodeSimulationReverted Code = "simulation_reverted"
	CodeGasEstimation      Code = "gas_estimation_failed"
	CodeTxFailed           Code = "tx_failed"
)

// DomainError carries a classification code alongside the message and an
// optional wrapped cause.
type DomainError struct {
	Code    Code
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// New creates a classified error without a cause.
func New(code Code, message string) error {
	return &DomainError{Code: code, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a classification to an underlying error. A nil err returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Code: code, Message: message, Err: err}
}

// GetCode extracts the classification from err, walking the wrap chain.
// Unclassified errors report CodeInternal.
func GetCode(err error) Code {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// Is is an alias for HasCode kept for call-site readability:
// dErrors.Is(err, dErrors.CodeNotFound).
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// Retryable reports whether the failure class is safe to retry without any
// change to inputs or user action. Completed pipeline steps are skipped on
// re-entry, so retrying a retryable failure converges.
func Retryable(err error) bool {
	switch GetCode(err) {
	case CodeStorageUnavailable, CodeUnavailable, CodeTimeout:
		return true
	}
	return false
}

// UserActionable reports whether the failure requires user action (signing,
// topping up funds, switching networks) before re-entry makes sense.
func UserActionable(err error) bool {
	switch GetCode(err) {
	case CodeRejected, CodeInsufficientFunds, CodeWrongNetwork:
		return true
	}
	return false
}

// ToHTTPStatus maps a code to a transport status. Centralized so handlers
// produce consistent envelopes.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeUnauthorized, CodeRejected:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict:
		return http.StatusConflict
	case CodeInsufficientFunds, CodeWrongNetwork, CodeSimulationReverted, CodeGasEstimation, CodeTxFailed:
		return http.StatusUnprocessableEntity
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeStorageUnavailable, CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
