package stream

import (
	"encoding/json"
	"strings"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

type state int

const (
	stateIdle state = iota
	stateStarted
	stateBlock
	stateTerminal
	stateFailed
)

// blockBuilder accumulates one content block between start and stop.
type blockBuilder struct {
	start     protocol.ContentBlock
	text      strings.Builder
	thinking  strings.Builder
	signature string
	inputJSON strings.Builder
	typ       protocol.ContentBlockType
	index     int
}

// Reassembler validates the event sequence of one message and builds the
// whole message from it.
//
//	IDLE -message_start-> STARTED
//	STARTED -content_block_start(i)-> BLOCK(i)
//	BLOCK(i) -content_block_delta(i)-> BLOCK(i)
//	BLOCK(i) -content_block_stop(i)-> STARTED
//	STARTED -message_delta-> STARTED
//	STARTED -message_stop-> TERMINAL (needs at least one completed block)
//
// ping is accepted anywhere. A Reassembler is not safe for concurrent use.
type Reassembler struct {
	err          error
	cur          *blockBuilder
	stopSequence *string
	msg          protocol.Message
	stopReason   string
	blocks       protocol.ContentBlocks
	usage        protocol.Usage
	completed    int
	state        state
}

// NewReassembler returns a Reassembler in the IDLE state.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Apply feeds one event. Once Apply fails, every later call returns the
// same error.
func (r *Reassembler) Apply(ev protocol.StreamEventData) error {
	if r.state == stateFailed {
		return r.err
	}
	if err := r.apply(ev); err != nil {
		r.state = stateFailed
		r.err = err
		return err
	}
	return nil
}

func (r *Reassembler) apply(ev protocol.StreamEventData) error {
	switch e := ev.(type) {
	case protocol.PingEvent:
		return nil
	case protocol.ErrorEvent:
		return &Error{Kind: KindServer, Type: e.Error.Type, Message: e.Error.Message}
	case protocol.UnknownEvent:
		return nil
	}

	if r.state == stateTerminal {
		return fsmError("event after message_stop: %s", ev.EventType())
	}

	switch e := ev.(type) {
	case protocol.MessageStartEvent:
		if r.state != stateIdle {
			return fsmError("message_start received twice")
		}
		r.msg = e.Message
		if e.Message.Usage != nil {
			r.usage = *e.Message.Usage
		}
		if e.Message.StopReason != "" {
			r.stopReason = e.Message.StopReason
		}
		r.state = stateStarted
		return nil

	case protocol.ContentBlockStartEvent:
		switch r.state {
		case stateIdle:
			return fsmError("content_block_start before message_start")
		case stateBlock:
			return fsmError("block already open: index %d while block %d is open", e.Index, r.cur.index)
		}
		block, err := e.ParsedBlock()
		if err != nil {
			return &Error{Kind: KindDecode, Message: "content_block_start", Cause: err}
		}
		r.cur = &blockBuilder{index: e.Index, typ: e.BlockType(), start: block}
		r.state = stateBlock
		return nil

	case protocol.ContentBlockDeltaEvent:
		if r.state != stateBlock {
			return fsmError("delta without open block (index %d)", e.Index)
		}
		if e.Index != r.cur.index {
			return fsmError("index mismatch: delta for block %d while block %d is open", e.Index, r.cur.index)
		}
		delta, err := e.ParsedDelta()
		if err != nil {
			return &Error{Kind: KindDecode, Message: "content_block_delta", Cause: err}
		}
		switch d := delta.(type) {
		case protocol.TextDelta:
			r.cur.text.WriteString(d.Text)
		case protocol.ThinkingDelta:
			r.cur.thinking.WriteString(d.Thinking)
		case protocol.InputJSONDelta:
			r.cur.inputJSON.WriteString(d.PartialJSON)
		case protocol.SignatureDelta:
			r.cur.signature += d.Signature
		}
		return nil

	case protocol.ContentBlockStopEvent:
		if r.state != stateBlock {
			return fsmError("content_block_stop without open block (index %d)", e.Index)
		}
		if e.Index != r.cur.index {
			return fsmError("index mismatch: stop for block %d while block %d is open", e.Index, r.cur.index)
		}
		block, err := r.cur.build()
		if err != nil {
			return err
		}
		if block != nil {
			r.blocks = append(r.blocks, block)
		}
		r.completed++
		r.cur = nil
		r.state = stateStarted
		return nil

	case protocol.MessageDeltaEvent:
		switch r.state {
		case stateIdle:
			return fsmError("message_delta before message_start")
		case stateBlock:
			return fsmError("message_delta while block %d is open", r.cur.index)
		}
		if e.Delta.StopReason != nil {
			r.stopReason = *e.Delta.StopReason
		}
		if e.Delta.StopSequence != nil {
			seq := *e.Delta.StopSequence
			r.stopSequence = &seq
		}
		if e.Usage != nil {
			r.usage.OutputTokens = e.Usage.OutputTokens
		}
		return nil

	case protocol.MessageStopEvent:
		switch r.state {
		case stateIdle:
			return fsmError("message_stop before message_start")
		case stateBlock:
			return fsmError("message_stop while block %d is open", r.cur.index)
		}
		if r.completed == 0 {
			return fsmError("message_stop without completed blocks")
		}
		r.state = stateTerminal
		return nil
	}

	return nil
}

func (b *blockBuilder) build() (protocol.ContentBlock, error) {
	switch b.typ {
	case protocol.ContentBlockTypeText:
		start, _ := b.start.(protocol.TextBlock)
		return protocol.NewTextBlock(start.Text + b.text.String()), nil
	case protocol.ContentBlockTypeThinking:
		out := protocol.ThinkingBlock{Type: protocol.ContentBlockTypeThinking, Thinking: b.thinking.String(), Signature: b.signature}
		if start, ok := b.start.(protocol.ThinkingBlock); ok {
			out.Thinking = start.Thinking + out.Thinking
			if out.Signature == "" {
				out.Signature = start.Signature
			}
		}
		return out, nil
	case protocol.ContentBlockTypeToolUse:
		start, _ := b.start.(protocol.ToolUseBlock)
		out := protocol.ToolUseBlock{Type: protocol.ContentBlockTypeToolUse, ID: start.ID, Name: start.Name, Input: start.Input}
		if raw := strings.TrimSpace(b.inputJSON.String()); raw != "" {
			var input map[string]interface{}
			if err := json.Unmarshal([]byte(raw), &input); err != nil {
				return nil, &Error{Kind: KindDecode, Message: "tool input for block " + start.ID, Cause: err}
			}
			out.Input = input
		}
		if out.Input == nil {
			out.Input = map[string]interface{}{}
		}
		return out, nil
	default:
		return nil, nil
	}
}

// Done reports whether message_stop has been applied.
func (r *Reassembler) Done() bool {
	return r.state == stateTerminal
}

// Finish reports an error if the message is incomplete.
func (r *Reassembler) Finish() error {
	switch r.state {
	case stateTerminal:
		return nil
	case stateFailed:
		return r.err
	default:
		return fsmError("stream ended before message_stop")
	}
}

// Message returns the reassembled message after message_stop.
func (r *Reassembler) Message() (*protocol.Message, error) {
	if err := r.Finish(); err != nil {
		return nil, err
	}
	usage := r.usage
	msg := protocol.Message{
		ID:           r.msg.ID,
		Type:         r.msg.Type,
		Role:         r.msg.Role,
		Model:        r.msg.Model,
		Content:      append(protocol.ContentBlocks(nil), r.blocks...),
		StopReason:   r.stopReason,
		StopSequence: r.stopSequence,
		Usage:        &usage,
	}
	if msg.Type == "" {
		msg.Type = "message"
	}
	if msg.Role == "" {
		msg.Role = protocol.RoleAssistant
	}
	return &msg, nil
}
