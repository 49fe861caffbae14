package protocol

import (
	"encoding/json"
	"fmt"
)

// ControlCommandName identifies a control command on the wire.
type ControlCommandName string

const (
	ControlCommandInterrupt         ControlCommandName = "interrupt"
	ControlCommandSetModel          ControlCommandName = "set_model"
	ControlCommandSetPermissionMode ControlCommandName = "set_permission_mode"
	ControlCommandGetState          ControlCommandName = "get_state"
)

// ControlCommand is the interface for control command discrimination.
type ControlCommand interface {
	Command() ControlCommandName
}

// InterruptCommand asks the CLI to stop the current query.
type InterruptCommand struct{}

// Command returns the command name.
func (InterruptCommand) Command() ControlCommandName { return ControlCommandInterrupt }

// SetModelCommand changes the model used for future queries.
type SetModelCommand struct {
	Model string
}

// Command returns the command name.
func (SetModelCommand) Command() ControlCommandName { return ControlCommandSetModel }

// SetPermissionModeCommand changes the CLI's permission mode.
type SetPermissionModeCommand struct {
	Mode PermissionMode
}

// Command returns the command name.
func (SetPermissionModeCommand) Command() ControlCommandName {
	return ControlCommandSetPermissionMode
}

// GetStateCommand asks the CLI for its current state.
type GetStateCommand struct{}

// Command returns the command name.
func (GetStateCommand) Command() ControlCommandName { return ControlCommandGetState }

// ControlRequest is a client-initiated envelope that changes session state.
// It is encoded as {"command": <name>, "payload": <value>}.
type ControlRequest struct {
	Command ControlCommand
}

// MsgType returns the message type.
func (m ControlRequest) MsgType() MessageType { return MessageTypeControlRequest }

type wireControl struct {
	Command ControlCommandName `json:"command"`
	Payload json.RawMessage    `json:"payload,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (m ControlRequest) MarshalJSON() ([]byte, error) {
	if m.Command == nil {
		return nil, fmt.Errorf("control request has no command")
	}

	w := wireControl{Command: m.Command.Command()}
	var payload interface{}
	switch c := m.Command.(type) {
	case SetModelCommand:
		payload = c.Model
	case SetPermissionModeCommand:
		payload = c.Mode
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		w.Payload = data
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *ControlRequest) UnmarshalJSON(data []byte) error {
	var w wireControl
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	switch w.Command {
	case ControlCommandInterrupt:
		m.Command = InterruptCommand{}
	case ControlCommandGetState:
		m.Command = GetStateCommand{}
	case ControlCommandSetModel:
		var model string
		if err := json.Unmarshal(w.Payload, &model); err != nil {
			return fmt.Errorf("set_model payload: %w", err)
		}
		m.Command = SetModelCommand{Model: model}
	case ControlCommandSetPermissionMode:
		var mode string
		if err := json.Unmarshal(w.Payload, &mode); err != nil {
			return fmt.Errorf("set_permission_mode payload: %w", err)
		}
		parsed, err := ParsePermissionMode(mode)
		if err != nil {
			return err
		}
		m.Command = SetPermissionModeCommand{Mode: parsed}
	default:
		return fmt.Errorf("unknown control command %q", w.Command)
	}
	return nil
}

// NewInterrupt creates an interrupt control request.
func NewInterrupt() ControlRequest {
	return ControlRequest{Command: InterruptCommand{}}
}

// NewSetModel creates a set_model control request.
func NewSetModel(model string) ControlRequest {
	return ControlRequest{Command: SetModelCommand{Model: model}}
}

// NewSetPermissionMode creates a set_permission_mode control request.
func NewSetPermissionMode(mode PermissionMode) ControlRequest {
	return ControlRequest{Command: SetPermissionModeCommand{Mode: mode}}
}

// NewGetState creates a get_state control request.
func NewGetState() ControlRequest {
	return ControlRequest{Command: GetStateCommand{}}
}

// ControlResponse acknowledges a control request.
type ControlResponse struct {
	Message *string         `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Success bool            `json:"success"`
}

// MsgType returns the message type.
func (m ControlResponse) MsgType() MessageType { return MessageTypeControlResponse }
