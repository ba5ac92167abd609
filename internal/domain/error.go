package domain

import (
	"context"
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeToolNotFound       ErrorCode = "TOOL_NOT_FOUND"
	CodeRateLimited        ErrorCode = "RATE_LIMITED"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeProtocolError      ErrorCode = "PROTOCOL_ERROR"
	CodeTransportError     ErrorCode = "TRANSPORT_ERROR"
	CodeToolExecutionError ErrorCode = "TOOL_EXECUTION_ERROR"
	CodeConnectionLost     ErrorCode = "CONNECTION_LOST"
	CodeCancelled          ErrorCode = "CANCELLED"
)

// retryableByDefault covers the admission/transport side of the taxonomy.
// Protocol and tool-level failures are final unless a RetryPolicy explicitly
// classifies their code as retryable.
var retryableByDefault = map[ErrorCode]bool{
	CodeRateLimited:    true,
	CodeTimeout:        true,
	CodeTransportError: true,
	CodeConnectionLost: true,
}

type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Cause   error
	Meta    map[string]string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		if msg == "" {
			return string(e.Code)
		}
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if msg == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func E(code ErrorCode, op, msg string, cause error) *Error {
	if msg == "" && cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: msg,
		Cause:   cause,
	}
}

func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op != "" || op == "" {
			return existing
		}
		return &Error{
			Code:    existing.Code,
			Op:      op,
			Message: existing.Message,
			Cause:   existing.Cause,
			Meta:    existing.Meta,
		}
	}
	return E(code, op, "", err)
}

// CodeFrom extracts the taxonomy code from an error chain. Context
// cancellation and deadline expiry map to their protocol codes so a bare
// context error never crosses the retry boundary unclassified.
func CodeFrom(err error) (ErrorCode, bool) {
	if err == nil {
		return "", false
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr != nil {
		return domainErr.Code, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled, true
	}
	return "", false
}

// RetryableCode reports whether a code is retryable under the default policy.
func RetryableCode(code ErrorCode) bool {
	return retryableByDefault[code]
}
