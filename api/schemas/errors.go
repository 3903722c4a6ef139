package schemas

import (
	"context"
	"errors"
	"fmt"
)

// -- Error Schemas --

// ErrorCode is a stable, caller-facing failure classification. Codes cross the
// transport boundary verbatim; messages are free text.
type ErrorCode string

const (
	CodeSessionUnavailable ErrorCode = "SESSION_UNAVAILABLE"
	CodeBlockedNavigation  ErrorCode = "BLOCKED_NAVIGATION"
	CodeInvalidTarget      ErrorCode = "INVALID_TARGET"
	CodeNoFocusTarget      ErrorCode = "NO_FOCUS_TARGET"
	CodeActionTimeout      ErrorCode = "ACTION_TIMEOUT"
	CodeOracleError        ErrorCode = "ORACLE_ERROR"
	CodeStuckLoop          ErrorCode = "STUCK_LOOP"
	CodeStepBudgetExceeded ErrorCode = "STEP_BUDGET_EXCEEDED"
	CodeOperationTimeout   ErrorCode = "OPERATION_TIMEOUT"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeJobNotFound        ErrorCode = "JOB_NOT_FOUND"
)

// OperationError is the terminal failure of a job. History carries the action
// outcomes accumulated before the failure so callers can see what was tried.
type OperationError struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	History []ActionOutcome `json:"history,omitempty"`

	cause error
}

// NewOperationError builds an OperationError wrapping an optional cause.
func NewOperationError(code ErrorCode, msg string, cause error) *OperationError {
	return &OperationError{Code: code, Message: msg, cause: cause}
}

func (e *OperationError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *OperationError) Unwrap() error { return e.cause }

// CodeOf extracts the ErrorCode from err, walking the wrap chain. Errors that
// are not OperationErrors classify as ORACLE_ERROR only when the caller says
// so; here they map to the generic fallback.
func CodeOf(err error) ErrorCode {
	var oe *OperationError
	if errors.As(err, &oe) {
		return oe.Code
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeOperationTimeout
	}
	return ErrorCode("INTERNAL")
}
