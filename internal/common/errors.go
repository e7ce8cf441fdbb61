// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common application errors.
var (
	// Storage errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")
	ErrStaleState     = errors.New("state changed concurrently")

	// Dependency errors.
	ErrUnavailable = errors.New("dependency unavailable")
	ErrTimeout     = errors.New("operation timed out")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Kind is the broad class of an application error. It decides how callers react.
type Kind string

// Error kinds.
const (
	KindValidation  Kind = "validation"
	KindCompliance  Kind = "compliance"
	KindSystem      Kind = "system"
	KindSecurity    Kind = "security"
	KindTransaction Kind = "transaction"
)

// Severity ranks how much attention an error needs.
type Severity string

// Error severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Error is the structured error carried through the command pipeline.
// Code is stable and machine readable; Message is safe to show to the operator.
type Error struct {
	Err         error
	Kind        Kind
	Code        string
	Message     string
	Severity    Severity
	Suggestions []string
	RetryAfter  time.Duration
	Retryable   bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithSuggestions returns a copy of e carrying the given next actions.
func (e *Error) WithSuggestions(suggestions ...string) *Error {
	clone := *e
	clone.Suggestions = append(append([]string(nil), e.Suggestions...), suggestions...)
	return &clone
}

// NewValidationError reports bad or missing input. Not retryable without new input.
func NewValidationError(code, message string, err error) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message, Severity: SeverityLow, Err: err}
}

// NewComplianceError reports a blocking business rule. Not retryable without changed parameters.
func NewComplianceError(code, message string, err error) *Error {
	return &Error{Kind: KindCompliance, Code: code, Message: message, Severity: SeverityMedium, Err: err}
}

// NewSystemError reports an unavailable or slow dependency. Always retryable.
func NewSystemError(code, message string, err error) *Error {
	return &Error{Kind: KindSystem, Code: code, Message: message, Severity: SeverityHigh, Retryable: true, Err: err}
}

// NewSecurityError reports detected abuse. Never retried.
func NewSecurityError(code, message string, err error) *Error {
	return &Error{Kind: KindSecurity, Code: code, Message: message, Severity: SeverityHigh, Err: err}
}

// NewTransactionError reports a failure in the write pipeline.
func NewTransactionError(code, message string, retryable bool, err error) *Error {
	return &Error{Kind: KindTransaction, Code: code, Message: message, Severity: SeverityHigh, Retryable: retryable, Err: err}
}

// AsError extracts the structured error from err's chain.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, defaulting to KindSystem for unstructured errors.
func KindOf(err error) Kind {
	if appErr, ok := AsError(err); ok {
		return appErr.Kind
	}
	return KindSystem
}

// CodeOf returns the stable code of err, or INTERNAL_ERROR.
func CodeOf(err error) string {
	if appErr, ok := AsError(err); ok {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	if appErr, ok := AsError(err); ok {
		return appErr.Retryable
	}

	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
