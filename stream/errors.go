package stream

import "fmt"

// Kind classifies stream failures.
type Kind string

const (
	// KindFSM is an event that is not valid in the current state.
	KindFSM Kind = "fsm"
	// KindSSE is malformed server-sent-events framing.
	KindSSE Kind = "sse"
	// KindDecode is an event whose data could not be parsed.
	KindDecode Kind = "decode"
	// KindServer is an error event sent by the server.
	KindServer Kind = "server"
)

// Error is returned for every stream failure.
type Error struct {
	Cause   error
	Kind    Kind
	Type    string
	Message string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("stream %s error", e.Kind)
	if e.Type != "" {
		msg += " (" + e.Type + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func fsmError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindFSM, Message: fmt.Sprintf(format, args...)}
}
