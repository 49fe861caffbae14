package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is one framed message at the subprocess boundary:
//
//	{"type": "<discriminator>", "request_id": "<id>", "payload": {...}}
//
// request_id is omitted on envelopes that do not take part in correlation.
type Envelope struct {
	Payload   Payload
	RequestID RequestID
}

// Type returns the envelope discriminator.
func (e Envelope) Type() MessageType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.MsgType()
}

type wireEnvelope struct {
	Type      MessageType     `json:"type"`
	RequestID RequestID       `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DecodeError reports an envelope that could not be decoded.
type DecodeError struct {
	Cause error
	Type  MessageType
	Line  string
}

func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("decode %s envelope: %v", e.Type, e.Cause)
	}
	return fmt.Sprintf("decode envelope: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// MarshalJSON implements json.Marshaler.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("envelope has no payload")
	}

	w := wireEnvelope{Type: e.Payload.MsgType(), RequestID: e.RequestID}
	if u, ok := e.Payload.(Unknown); ok {
		w.Payload = u.Payload
	} else if u, ok := e.Payload.(*Unknown); ok {
		w.Payload = u.Payload
	} else {
		data, err := json.Marshal(e.Payload)
		if err != nil {
			return nil, err
		}
		w.Payload = data
	}
	return json.Marshal(w)
}

// Encode serializes a payload into a single-line envelope.
func Encode(id RequestID, p Payload) ([]byte, error) {
	return json.Marshal(Envelope{RequestID: id, Payload: p})
}

// Decode parses one envelope line. Unknown discriminators decode to Unknown
// so newer CLIs do not break older clients.
func Decode(line []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, &DecodeError{Line: string(line), Cause: err}
	}
	if w.Type == "" {
		return nil, &DecodeError{Line: string(line), Cause: fmt.Errorf("missing type")}
	}

	p, err := decodePayload(w.Type, w.Payload)
	if err != nil {
		return nil, &DecodeError{Type: w.Type, Line: string(line), Cause: err}
	}
	return &Envelope{RequestID: w.RequestID, Payload: p}, nil
}

func decodePayload(t MessageType, data json.RawMessage) (Payload, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch t {
	case MessageTypeQuery:
		return decodeInto[QueryRequest](data)
	case MessageTypeResponse:
		return decodeInto[QueryResponse](data)
	case MessageTypeHookRequest:
		return decodeInto[HookRequest](data)
	case MessageTypeHookResponse:
		return decodeInto[HookResponse](data)
	case MessageTypePermissionCheck:
		return decodeInto[PermissionCheckRequest](data)
	case MessageTypePermissionResponse:
		return decodeInto[PermissionResponse](data)
	case MessageTypeControlRequest:
		return decodeInto[ControlRequest](data)
	case MessageTypeControlResponse:
		return decodeInto[ControlResponse](data)
	case MessageTypeError:
		return decodeInto[ErrorMessage](data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return Unknown{Type: t, Payload: raw}, nil
	}
}

func decodeInto[T Payload](data json.RawMessage) (Payload, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
