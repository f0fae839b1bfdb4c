// Package nexuserr defines the stable error taxonomy for the runtime.
//
// Operations return explicit errors carrying a Code from the fixed set below.
// Codes are the contract: HTTP and WebSocket surfaces map them to status
// codes, and the runner branches on them (failover, tool feedback, approval).
package nexuserr

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error kind.
type Code string

const (
	CodeValidation Code = "VALIDATION_ERROR"
	CodeNotFound   Code = "NOT_FOUND"

	CodeToolNotAllowed Code = "TOOL_NOT_ALLOWED"
	CodeToolNotFound   Code = "TOOL_NOT_FOUND"
	CodeToolExecution  Code = "TOOL_EXECUTION_ERROR"

	CodeDailyBudgetExceeded   Code = "DAILY_BUDGET_EXCEEDED"
	CodeMonthlyBudgetExceeded Code = "MONTHLY_BUDGET_EXCEEDED"
	CodeRPMExceeded           Code = "RPM_EXCEEDED"
	CodeRPHExceeded           Code = "RPH_EXCEEDED"

	CodeConfig              Code = "CONFIG_ERROR"
	CodePromptNotConfigured Code = "PROMPT_NOT_CONFIGURED"

	CodeProviderRateLimit   Code = "PROVIDER_RATE_LIMIT"
	CodeProviderServerError Code = "PROVIDER_SERVER_ERROR"
	CodeProviderTimeout     Code = "PROVIDER_TIMEOUT"
	CodeProviderUnknown     Code = "PROVIDER_UNKNOWN"

	CodeHumanApprovalPending Code = "HUMAN_APPROVAL_PENDING"

	CodeSecretNotFound      Code = "SECRET_NOT_FOUND"
	CodeSecretDecryptFailed Code = "SECRET_DECRYPT_FAILED"

	CodeAgentTimeout Code = "AGENT_TIMEOUT"
	CodeAborted      Code = "ABORTED"
	CodeBusy         Code = "BUSY"
	CodeConflict     Code = "CONFLICT"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Error is a structured error with a stable code and optional context.
// Context values must never contain secret material; the logger redacts
// well-known key names as a second line of defense.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
	Cause   error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error wrapping a cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// With adds a context key/value and returns the error for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the Code from an error chain. Unclassified errors map to
// CodeInternal; nil maps to the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether the error chain carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsBudgetVeto reports whether the code is one of the cost guard veto kinds.
func IsBudgetVeto(code Code) bool {
	switch code {
	case CodeDailyBudgetExceeded, CodeMonthlyBudgetExceeded, CodeRPMExceeded, CodeRPHExceeded:
		return true
	}
	return false
}

// FieldError is one per-field message attached to a VALIDATION_ERROR.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validation builds a VALIDATION_ERROR carrying per-field messages in its
// context under the "fields" key.
func Validation(message string, fields []FieldError) *Error {
	e := New(CodeValidation, message)
	if len(fields) > 0 {
		e.With("fields", fields)
	}
	return e
}
