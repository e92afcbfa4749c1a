package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrNoActiveSession    = errors.New("no active voice session")
	ErrControllerDisabled = errors.New("voice controller is disabled")
	ErrNotInitialized     = errors.New("capture device is not initialized")
	ErrNoActiveCapture    = errors.New("no active capture")
)

// ErrorCode classifies orchestrator failures surfaced to callers.
type ErrorCode string

const (
	ErrorEmptyInput   ErrorCode = "EMPTY_INPUT"
	ErrorGateClosed   ErrorCode = "GATE_CLOSED"
	ErrorUpstream     ErrorCode = "UPSTREAM_ERROR"
	ErrorUnauthorized ErrorCode = "UNAUTHORIZED"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}

// ErrorCodeOf returns the orchestrator error code carried by err, if any.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var target *Error
	if !errors.As(err, &target) {
		return "", false
	}
	return target.Code, true
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
