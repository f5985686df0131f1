package codex

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected")
	ErrTurnInFlight     = errors.New("a turn is already in flight; drain ReceiveResponse first")
	ErrNoActiveTurn     = errors.New("no turn in flight; call Query first")
	ErrClientClosed     = errors.New("client is closed")
	ErrInvalidState     = errors.New("invalid state transition")
)

// TransportError represents a pipe or process failure. It is fatal to the
// session and triggers a disconnect.
type TransportError struct {
	Cause    error
	Message  string
	ExitCode int
}

func (e *TransportError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("transport error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("transport error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error: %s", e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ParseError represents a single malformed line or a failing caller-supplied
// event parser. It is scoped to one event and never terminates the stream.
type ParseError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// CallbackConfigurationError indicates an invalid approval/tool configuration:
// an approval callback returned a value outside the alias table, a dynamic
// tool was registered twice, or a tool schema is not object-shaped. These fail
// fast; silently guessing at approval intent is unsafe.
type CallbackConfigurationError struct {
	Message string
}

func (e *CallbackConfigurationError) Error() string {
	return fmt.Sprintf("callback configuration error: %s", e.Message)
}

// RequestTimeoutError indicates a request/response exchange with the CLI
// exceeded the configured timeout. The affected request is resolved as a
// deny/error and the session continues.
type RequestTimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *RequestTimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %q after %s", e.Method, e.Timeout)
}

// HookAbortError is the distinguishable termination produced when a hook
// aborts a response stream. It is neither a normal completion nor a
// transport failure.
type HookAbortError struct {
	Reason string
}

func (e *HookAbortError) Error() string {
	if e.Reason == "" {
		return "hook aborted streaming"
	}
	return fmt.Sprintf("hook aborted streaming: %s", e.Reason)
}

// CLINotFoundError indicates the Codex CLI binary was not found.
type CLINotFoundError struct {
	Path  string
	Cause error
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("codex CLI not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error {
	return e.Cause
}
