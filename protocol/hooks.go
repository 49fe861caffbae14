package protocol

import "encoding/json"

// HookEvent names a point in the CLI's lifecycle at which hooks run.
type HookEvent string

const (
	HookEventPreToolUse       HookEvent = "PreToolUse"
	HookEventPostToolUse      HookEvent = "PostToolUse"
	HookEventUserPromptSubmit HookEvent = "UserPromptSubmit"
	HookEventStop             HookEvent = "Stop"
	HookEventSubagentStop     HookEvent = "SubagentStop"
	HookEventPreCompact       HookEvent = "PreCompact"
	HookEventNotification     HookEvent = "Notification"
	HookEventSessionStart     HookEvent = "SessionStart"
	HookEventSessionEnd       HookEvent = "SessionEnd"
)

// PermissionDecision is a hook's opinion on a pending tool call.
type PermissionDecision string

const (
	PermissionDecisionAllow PermissionDecision = "allow"
	PermissionDecisionAsk   PermissionDecision = "ask"
	PermissionDecisionDeny  PermissionDecision = "deny"
)

// Restrictiveness orders decisions: deny > ask > allow. Unknown values rank lowest.
func (d PermissionDecision) Restrictiveness() int {
	switch d {
	case PermissionDecisionDeny:
		return 3
	case PermissionDecisionAsk:
		return 2
	case PermissionDecisionAllow:
		return 1
	default:
		return 0
	}
}

// HookRequest is sent by the CLI when a hook event fires.
type HookRequest struct {
	Data      json.RawMessage `json:"data"`
	EventType HookEvent       `json:"event_type"`
}

// MsgType returns the message type.
func (m HookRequest) MsgType() MessageType { return MessageTypeHookRequest }

// ModifiedInputs replaces a tool's input.
type ModifiedInputs struct {
	Input    json.RawMessage `json:"input"`
	ToolName string          `json:"tool_name"`
}

// HookResponse is the (merged) answer to a HookRequest.
type HookResponse struct {
	ModifiedInputs           *ModifiedInputs     `json:"modified_inputs,omitempty"`
	PermissionDecision       *PermissionDecision `json:"permission_decision,omitempty"`
	PermissionDecisionReason *string             `json:"permission_decision_reason,omitempty"`
	ContinueReason           *string             `json:"continue_reason,omitempty"`
	StopReason               *string             `json:"stop_reason,omitempty"`
	SystemMessage            *string             `json:"system_message,omitempty"`
	Reason                   *string             `json:"reason,omitempty"`
	SuppressOutput           *bool               `json:"suppress_output,omitempty"`
	Context                  json.RawMessage     `json:"context,omitempty"`
	AdditionalContext        json.RawMessage     `json:"additional_context,omitempty"`
	Continue                 bool                `json:"continue"`
}

// MsgType returns the message type.
func (m HookResponse) MsgType() MessageType { return MessageTypeHookResponse }

// ContinueResponse returns a response that lets execution proceed.
func ContinueResponse() *HookResponse {
	return &HookResponse{Continue: true}
}

// StopResponse returns a response that halts execution with a reason.
func StopResponse(reason string) *HookResponse {
	return &HookResponse{Continue: false, StopReason: &reason}
}

// WithPermissionDecision sets the decision and its reason.
func (m *HookResponse) WithPermissionDecision(d PermissionDecision, reason string) *HookResponse {
	m.PermissionDecision = &d
	if reason != "" {
		m.PermissionDecisionReason = &reason
	}
	return m
}
