package agent

import (
	"errors"
	"fmt"

	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/transport"
)

// Sentinel errors for common error conditions.
var (
	ErrEmptyQuery       = protocol.ErrEmptyQuery
	ErrInvalidMaxTokens = protocol.ErrInvalidMaxTokens
	ErrTooManyQueries   = errors.New("too many concurrent queries")
	ErrResponseTimeout  = errors.New("response timeout")
	ErrSessionClosed    = errors.New("session is closed")
	ErrDuplicateRequest = errors.New("request id already in use")
	ErrReconnectFailed  = errors.New("failed to reconnect to CLI")
	ErrTransportReset   = errors.New("transport was replaced while waiting for a response")
	ErrSkillsDisabled   = errors.New("skills are not configured for this session")
	ErrSkillNotActive   = errors.New("skill is not active")
)

// ConfigError reports invalid input or configuration.
type ConfigError struct {
	Cause   error
	Message string
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("config error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// TransportError reports a failure talking to the CLI process.
type TransportError struct {
	Cause error
	Op    string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// ProtocolError represents a protocol-level error.
type ProtocolError struct {
	Cause   error
	Message string
	Line    string
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("protocol error: %s", e.Message)
}

func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// PermissionError wraps a failing permission handler.
type PermissionError struct {
	Cause error
	Tool  string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission handler failed for %s: %v", e.Tool, e.Cause)
}

func (e *PermissionError) Unwrap() error {
	return e.Cause
}

// HookError wraps a failing hook handler. Index is the handler's position
// in registration order.
type HookError struct {
	Cause error
	Event protocol.HookEvent
	Index int
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s[%d] failed: %v", e.Event, e.Index, e.Cause)
}

func (e *HookError) Unwrap() error {
	return e.Cause
}

// IsRecoverable returns true if the error is recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}

	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return false
	}

	var cliErr *transport.CLINotFoundError
	if errors.As(err, &cliErr) {
		return false
	}

	if errors.Is(err, ErrSessionClosed) || errors.Is(err, ErrReconnectFailed) {
		return false
	}

	// Most other errors are recoverable
	return true
}
