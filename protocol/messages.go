package protocol

import (
	"encoding/json"
	"errors"
)

// MessageType discriminates between envelope kinds.
type MessageType string

const (
	MessageTypeQuery              MessageType = "query"
	MessageTypeResponse           MessageType = "response"
	MessageTypeHookRequest        MessageType = "hook_request"
	MessageTypeHookResponse       MessageType = "hook_response"
	MessageTypePermissionCheck    MessageType = "permission_check"
	MessageTypePermissionResponse MessageType = "permission_response"
	MessageTypeControlRequest     MessageType = "control_request"
	MessageTypeControlResponse    MessageType = "control_response"
	MessageTypeError              MessageType = "error"
)

// Payload is the interface for all envelope payloads.
type Payload interface {
	MsgType() MessageType
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Usage tracks token usage.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// Message is one conversation turn, either prior history sent with a query
// or the model's reply carried by a QueryResponse.
type Message struct {
	StopSequence *string       `json:"stop_sequence,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type,omitempty"`
	Role         Role          `json:"role"`
	Model        string        `json:"model,omitempty"`
	StopReason   string        `json:"stop_reason,omitempty"`
	Content      ContentBlocks `json:"content,omitempty"`
}

// NewUserMessage returns a user turn with a single text block.
func NewUserMessage(text string) Message {
	return Message{
		Role:    RoleUser,
		Content: ContentBlocks{NewTextBlock(text)},
	}
}

// NewAssistantMessage returns an assistant turn with a single text block.
func NewAssistantMessage(text string) Message {
	return Message{
		Type:    "message",
		Role:    RoleAssistant,
		Content: ContentBlocks{NewTextBlock(text)},
	}
}

// Text returns the concatenated text content of the message.
func (m Message) Text() string {
	return m.Content.Text()
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out Message
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

// Validation errors for QueryRequest.
var (
	ErrEmptyQuery       = errors.New("query cannot be empty")
	ErrInvalidMaxTokens = errors.New("max_tokens must be greater than 0")
)

// QueryRequest asks the CLI to run a query.
type QueryRequest struct {
	SystemPrompt *string          `json:"system_prompt,omitempty"`
	Query        string           `json:"query"`
	Model        string           `json:"model"`
	Tools        []ToolDefinition `json:"tools"`
	Messages     []Message        `json:"messages"`
	MaxTokens    int              `json:"max_tokens"`
}

// MsgType returns the message type.
func (m QueryRequest) MsgType() MessageType { return MessageTypeQuery }

// Validate checks the invariants that must hold before a query is sent.
func (m QueryRequest) Validate() error {
	if m.Query == "" {
		return ErrEmptyQuery
	}
	if m.MaxTokens <= 0 {
		return ErrInvalidMaxTokens
	}
	return nil
}

// QueryResponse carries the CLI's answer to a query.
type QueryResponse struct {
	Message    Message `json:"message"`
	IsComplete bool    `json:"is_complete"`
}

// MsgType returns the message type.
func (m QueryResponse) MsgType() MessageType { return MessageTypeResponse }

// ErrorMessage is a protocol error reported by either side.
type ErrorMessage struct {
	Details json.RawMessage `json:"details,omitempty"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
}

// MsgType returns the message type.
func (m ErrorMessage) MsgType() MessageType { return MessageTypeError }

// Error implements the error interface so an ErrorMessage can be surfaced directly.
func (m ErrorMessage) Error() string {
	return m.Code + ": " + m.Message
}

// Unknown holds an envelope whose type this package does not recognise.
type Unknown struct {
	Type    MessageType
	Payload json.RawMessage
}

// MsgType returns the raw discriminator.
func (m Unknown) MsgType() MessageType { return m.Type }
