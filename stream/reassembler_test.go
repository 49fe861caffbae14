package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

func strp(s string) *string { return &s }

func messageStart(id, model string, inputTokens int) protocol.MessageStartEvent {
	return protocol.MessageStartEvent{
		Type: protocol.StreamEventTypeMessageStart,
		Message: protocol.Message{
			ID: id, Type: "message", Role: protocol.RoleAssistant, Model: model,
			Usage: &protocol.Usage{InputTokens: inputTokens, OutputTokens: 1},
		},
	}
}

func blockStart(index int, block string) protocol.ContentBlockStartEvent {
	return protocol.ContentBlockStartEvent{Type: protocol.StreamEventTypeContentBlockStart, Index: index, ContentBlock: []byte(block)}
}

func textDelta(index int, text string) protocol.ContentBlockDeltaEvent {
	return protocol.ContentBlockDeltaEvent{
		Type:  protocol.StreamEventTypeContentBlockDelta,
		Index: index,
		Delta: []byte(fmt.Sprintf(`{"type":"text_delta","text":%q}`, text)),
	}
}

func jsonDelta(index int, partial string) protocol.ContentBlockDeltaEvent {
	return protocol.ContentBlockDeltaEvent{
		Type:  protocol.StreamEventTypeContentBlockDelta,
		Index: index,
		Delta: []byte(fmt.Sprintf(`{"type":"input_json_delta","partial_json":%q}`, partial)),
	}
}

func blockStop(index int) protocol.ContentBlockStopEvent {
	return protocol.ContentBlockStopEvent{Type: protocol.StreamEventTypeContentBlockStop, Index: index}
}

func messageDelta(stop string, outputTokens int) protocol.MessageDeltaEvent {
	return protocol.MessageDeltaEvent{
		Type:  protocol.StreamEventTypeMessageDelta,
		Delta: protocol.MessageDelta{StopReason: strp(stop)},
		Usage: &protocol.Usage{OutputTokens: outputTokens},
	}
}

var messageStop = protocol.MessageStopEvent{Type: protocol.StreamEventTypeMessageStop}

func applyAll(r *Reassembler, events ...protocol.StreamEventData) error {
	for _, ev := range events {
		if err := r.Apply(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestReassembler_HappyPath(t *testing.T) {
	r := NewReassembler()
	err := applyAll(r,
		messageStart("msg_1", "m", 10),
		blockStart(0, `{"type":"text","text":""}`),
		textDelta(0, "Hello"),
		protocol.PingEvent{Type: protocol.StreamEventTypePing},
		textDelta(0, " world"),
		blockStop(0),
		messageDelta("end_turn", 2),
		messageStop,
	)
	require.NoError(t, err)
	assert.True(t, r.Done())

	msg, err := r.Message()
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "m", msg.Model)
	assert.Equal(t, protocol.RoleAssistant, msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, protocol.NewTextBlock("Hello world"), msg.Content[0])
	assert.Equal(t, "end_turn", msg.StopReason)
	require.NotNil(t, msg.Usage)
	assert.Equal(t, 10, msg.Usage.InputTokens)
	assert.Equal(t, 2, msg.Usage.OutputTokens)
}

func TestReassembler_IndexMismatch(t *testing.T) {
	r := NewReassembler()
	err := applyAll(r,
		messageStart("msg_1", "m", 1),
		blockStart(0, `{"type":"text","text":""}`),
		textDelta(0, "Hello"),
		textDelta(1, " world"),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index mismatch")

	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindFSM, serr.Kind)

	// The failure is sticky.
	assert.Equal(t, err, r.Apply(blockStop(0)))
	_, merr := r.Message()
	assert.Equal(t, err, merr)
}

func TestReassembler_ToolUseAndThinking(t *testing.T) {
	r := NewReassembler()
	err := applyAll(r,
		messageStart("msg_2", "m", 5),
		blockStart(0, `{"type":"thinking","thinking":""}`),
		protocol.ContentBlockDeltaEvent{Type: protocol.StreamEventTypeContentBlockDelta, Index: 0, Delta: []byte(`{"type":"thinking_delta","thinking":"let me see"}`)},
		protocol.ContentBlockDeltaEvent{Type: protocol.StreamEventTypeContentBlockDelta, Index: 0, Delta: []byte(`{"type":"signature_delta","signature":"sig"}`)},
		blockStop(0),
		blockStart(1, `{"type":"tool_use","id":"toolu_1","name":"web_search","input":{}}`),
		jsonDelta(1, `{"query":`),
		jsonDelta(1, `"go"}`),
		blockStop(1),
		blockStart(2, `{"type":"server_tool_use","id":"srv_1"}`),
		blockStop(2),
		messageDelta("tool_use", 9),
		messageStop,
	)
	require.NoError(t, err)

	msg, err := r.Message()
	require.NoError(t, err)
	require.Len(t, msg.Content, 2, "unknown block types are dropped")

	thinking := msg.Content[0].(protocol.ThinkingBlock)
	assert.Equal(t, "let me see", thinking.Thinking)
	assert.Equal(t, "sig", thinking.Signature)

	tool := msg.Content[1].(protocol.ToolUseBlock)
	assert.Equal(t, "toolu_1", tool.ID)
	assert.Equal(t, "web_search", tool.Name)
	assert.Equal(t, map[string]interface{}{"query": "go"}, tool.Input)
	assert.Equal(t, "tool_use", msg.StopReason)
}

func TestReassembler_Violations(t *testing.T) {
	start := messageStart("msg", "m", 1)
	open := blockStart(0, `{"type":"text","text":""}`)

	tests := []struct {
		name   string
		want   string
		events []protocol.StreamEventData
	}{
		{"zero blocks", "message_stop without completed blocks", []protocol.StreamEventData{start, messageStop}},
		{"start twice", "message_start received twice", []protocol.StreamEventData{start, start}},
		{"block already open", "block already open", []protocol.StreamEventData{start, open, blockStart(1, `{"type":"text"}`)}},
		{"delta without block", "delta without open block", []protocol.StreamEventData{start, textDelta(0, "x")}},
		{"stop index mismatch", "index mismatch", []protocol.StreamEventData{start, open, blockStop(3)}},
		{"block before start", "before message_start", []protocol.StreamEventData{open}},
		{"message_stop with open block", "while block 0 is open", []protocol.StreamEventData{start, open, messageStop}},
		{"event after stop", "event after message_stop", []protocol.StreamEventData{start, open, blockStop(0), messageStop, messageDelta("x", 1)}},
		{"stop twice", "event after message_stop", []protocol.StreamEventData{start, open, blockStop(0), messageStop, messageStop}},
		{"bad tool json", "tool input", []protocol.StreamEventData{start, blockStart(0, `{"type":"tool_use","id":"t","name":"n"}`), jsonDelta(0, `{"q"`), blockStop(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := applyAll(NewReassembler(), tt.events...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReassembler_ServerErrorEvent(t *testing.T) {
	r := NewReassembler()
	err := applyAll(r,
		messageStart("msg", "m", 1),
		protocol.ErrorEvent{Type: protocol.StreamEventTypeError, Error: protocol.StreamErrorDetail{Type: "overloaded_error", Message: "Overloaded"}},
	)
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindServer, serr.Kind)
	assert.Equal(t, "overloaded_error", serr.Type)
}

func TestReassembler_EndedEarly(t *testing.T) {
	r := NewReassembler()
	require.NoError(t, applyAll(r, messageStart("msg", "m", 1)))
	_, err := r.Message()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream ended before message_stop")
}

// A delta for index i is accepted exactly when block i is the open block.
func TestReassembler_DeltaAcceptedOnlyForOpenBlock(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		open := rapid.IntRange(0, 5).Draw(t, "open")
		deltaIdx := rapid.IntRange(0, 5).Draw(t, "delta")
		closed := rapid.Bool().Draw(t, "closed")

		r := NewReassembler()
		events := []protocol.StreamEventData{
			messageStart("msg", "m", 1),
			blockStart(open, `{"type":"text","text":""}`),
		}
		if closed {
			events = append(events, blockStop(open))
		}
		if err := applyAll(r, events...); err != nil {
			t.Fatalf("setup failed: %v", err)
		}

		err := r.Apply(textDelta(deltaIdx, "x"))
		accepted := err == nil
		if want := !closed && deltaIdx == open; accepted != want {
			t.Fatalf("open=%d delta=%d closed=%v: accepted=%v, want %v (err=%v)", open, deltaIdx, closed, accepted, want, err)
		}
	})
}
