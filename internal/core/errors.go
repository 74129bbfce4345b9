package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAllChannelsFailed is returned by DeliveryChain.Deliver when every
	// channel was skipped or failed.
	ErrAllChannelsFailed = errors.New("all delivery channels failed")
	// ErrQueueClosed is returned by ActionQueue operations after Close.
	ErrQueueClosed = errors.New("action queue closed")
	// ErrAgentUnavailable means the background agent is not connected.
	ErrAgentUnavailable = errors.New("background agent unavailable")
	// ErrAgentTimeout means the background agent did not acknowledge in time.
	ErrAgentTimeout = errors.New("background agent did not acknowledge in time")
	// ErrDisposed is returned by Engine methods after Dispose.
	ErrDisposed = errors.New("engine disposed")
	// ErrNoReplayer means the queue has no backend to replay against.
	ErrNoReplayer = errors.New("no action replayer configured")
)

// ErrorCode classifies engine failures for hosts that bridge them across a
// process boundary (HTTP, MCP).
type ErrorCode string

const (
	CodeInvalidInput ErrorCode = "INVALID_INPUT"
	CodeStorage      ErrorCode = "STORAGE_ERROR"
	CodeDelivery     ErrorCode = "DELIVERY_FAILED"
	CodeReplay       ErrorCode = "REPLAY_FAILED"
	CodeSource       ErrorCode = "SOURCE_UNREACHABLE"
)

// EngineError carries a code alongside the wrapped cause.
type EngineError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// wrapErr builds an EngineError around err.
func wrapErr(code ErrorCode, message string, err error) *EngineError {
	return &EngineError{Code: code, Message: message, Err: err}
}

// CodeOf returns the code of the first EngineError in err's chain, or the
// empty code.
func CodeOf(err error) ErrorCode {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}
