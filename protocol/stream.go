package protocol

import (
	"encoding/json"
	"fmt"
)

// StreamEventType discriminates between stream event kinds.
type StreamEventType string

const (
	StreamEventTypeMessageStart      StreamEventType = "message_start"
	StreamEventTypeContentBlockStart StreamEventType = "content_block_start"
	StreamEventTypeContentBlockDelta StreamEventType = "content_block_delta"
	StreamEventTypeContentBlockStop  StreamEventType = "content_block_stop"
	StreamEventTypeMessageDelta      StreamEventType = "message_delta"
	StreamEventTypeMessageStop       StreamEventType = "message_stop"
	StreamEventTypePing              StreamEventType = "ping"
	StreamEventTypeError             StreamEventType = "error"
)

// StreamEventData is the interface for stream event discrimination.
type StreamEventData interface {
	EventType() StreamEventType
}

// MessageStartEvent starts a new message.
type MessageStartEvent struct {
	Type    StreamEventType `json:"type"`
	Message Message         `json:"message"`
}

// EventType returns the stream event type.
func (e MessageStartEvent) EventType() StreamEventType { return StreamEventTypeMessageStart }

// ContentBlockStartEvent starts a content block.
type ContentBlockStartEvent struct {
	Type         StreamEventType `json:"type"`
	ContentBlock json.RawMessage `json:"content_block"`
	Index        int             `json:"index"`
}

// EventType returns the stream event type.
func (e ContentBlockStartEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStart }

// BlockType returns the type of the block being started.
func (e ContentBlockStartEvent) BlockType() ContentBlockType {
	var base struct {
		Type ContentBlockType `json:"type"`
	}
	_ = json.Unmarshal(e.ContentBlock, &base)
	return base.Type
}

// ParsedBlock parses the content_block field.
func (e ContentBlockStartEvent) ParsedBlock() (ContentBlock, error) {
	return UnmarshalContentBlock(e.ContentBlock)
}

// ContentBlockDeltaEvent contains incremental content.
type ContentBlockDeltaEvent struct {
	Type  StreamEventType `json:"type"`
	Delta json.RawMessage `json:"delta"`
	Index int             `json:"index"`
}

// EventType returns the stream event type.
func (e ContentBlockDeltaEvent) EventType() StreamEventType { return StreamEventTypeContentBlockDelta }

// ParsedDelta parses the delta field.
func (e ContentBlockDeltaEvent) ParsedDelta() (DeltaData, error) {
	return ParseContentBlockDelta(e.Delta)
}

// DeltaData is the interface for content block delta discrimination.
type DeltaData interface {
	DeltaType() string
}

// TextDelta is a delta containing text.
type TextDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// DeltaType returns the delta type.
func (d TextDelta) DeltaType() string { return d.Type }

// ThinkingDelta is a delta containing thinking.
type ThinkingDelta struct {
	Type     string `json:"type"`
	Thinking string `json:"thinking"`
}

// DeltaType returns the delta type.
func (d ThinkingDelta) DeltaType() string { return d.Type }

// SignatureDelta carries the signature of a thinking block.
type SignatureDelta struct {
	Type      string `json:"type"`
	Signature string `json:"signature"`
}

// DeltaType returns the delta type.
func (d SignatureDelta) DeltaType() string { return d.Type }

// InputJSONDelta is a delta containing partial JSON for tool input.
type InputJSONDelta struct {
	Type        string `json:"type"`
	PartialJSON string `json:"partial_json"`
}

// DeltaType returns the delta type.
func (d InputJSONDelta) DeltaType() string { return d.Type }

// ContentBlockStopEvent marks block completion.
type ContentBlockStopEvent struct {
	Type  StreamEventType `json:"type"`
	Index int             `json:"index"`
}

// EventType returns the stream event type.
func (e ContentBlockStopEvent) EventType() StreamEventType { return StreamEventTypeContentBlockStop }

// MessageDelta contains message metadata updates.
type MessageDelta struct {
	StopReason   *string `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaEvent updates message metadata.
type MessageDeltaEvent struct {
	Usage *Usage          `json:"usage,omitempty"`
	Type  StreamEventType `json:"type"`
	Delta MessageDelta    `json:"delta"`
}

// EventType returns the stream event type.
func (e MessageDeltaEvent) EventType() StreamEventType { return StreamEventTypeMessageDelta }

// MessageStopEvent marks message completion.
type MessageStopEvent struct {
	Type StreamEventType `json:"type"`
}

// EventType returns the stream event type.
func (e MessageStopEvent) EventType() StreamEventType { return StreamEventTypeMessageStop }

// PingEvent is a keepalive.
type PingEvent struct {
	Type StreamEventType `json:"type"`
}

// EventType returns the stream event type.
func (e PingEvent) EventType() StreamEventType { return StreamEventTypePing }

// StreamErrorDetail is the body of an error event.
type StreamErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorEvent reports a server-side failure mid-stream.
type ErrorEvent struct {
	Type  StreamEventType   `json:"type"`
	Error StreamErrorDetail `json:"error"`
}

// EventType returns the stream event type.
func (e ErrorEvent) EventType() StreamEventType { return StreamEventTypeError }

// UnknownEvent is an event name this package does not recognise.
type UnknownEvent struct {
	Name string
	Data json.RawMessage
}

// EventType returns the raw event name.
func (e UnknownEvent) EventType() StreamEventType { return StreamEventType(e.Name) }

// ParseContentBlockDelta parses the inner delta from a ContentBlockDeltaEvent.
// Unknown delta types return (nil, nil).
func ParseContentBlockDelta(data json.RawMessage) (DeltaData, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, err
	}

	switch base.Type {
	case "text_delta":
		var d TextDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case "thinking_delta":
		var d ThinkingDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case "signature_delta":
		var d SignatureDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	case "input_json_delta":
		var d InputJSONDelta
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, nil
	}
}

// ParseStreamEvent decodes the data of a server-sent event. name is the SSE
// "event:" field; when it is empty the "type" field of data is used instead.
func ParseStreamEvent(name string, data []byte) (StreamEventData, error) {
	if name == "" {
		var base struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &base); err != nil {
			return nil, err
		}
		name = base.Type
	}

	switch StreamEventType(name) {
	case StreamEventTypeMessageStart:
		return parseEvent[MessageStartEvent](name, data)
	case StreamEventTypeContentBlockStart:
		return parseEvent[ContentBlockStartEvent](name, data)
	case StreamEventTypeContentBlockDelta:
		return parseEvent[ContentBlockDeltaEvent](name, data)
	case StreamEventTypeContentBlockStop:
		return parseEvent[ContentBlockStopEvent](name, data)
	case StreamEventTypeMessageDelta:
		return parseEvent[MessageDeltaEvent](name, data)
	case StreamEventTypeMessageStop:
		return MessageStopEvent{Type: StreamEventTypeMessageStop}, nil
	case StreamEventTypePing:
		return PingEvent{Type: StreamEventTypePing}, nil
	case StreamEventTypeError:
		return parseEvent[ErrorEvent](name, data)
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		return UnknownEvent{Name: name, Data: raw}, nil
	}
}

func parseEvent[T StreamEventData](name string, data []byte) (StreamEventData, error) {
	var e T
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("parse %s event: %w", name, err)
	}
	return e, nil
}
