package stream

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

const happySSE = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"m","content":[],"usage":{"input_tokens":3,"output_tokens":1}}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: ping
data: {"type": "ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}

event: message_stop
data: {"type":"message_stop"}

`

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func TestStream_Next(t *testing.T) {
	s := NewReaderStream(strings.NewReader(happySSE))

	var types []protocol.StreamEventType
	for {
		ev, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		types = append(types, ev.EventType())
	}
	assert.Equal(t, []protocol.StreamEventType{
		protocol.StreamEventTypeMessageStart,
		protocol.StreamEventTypeContentBlockStart,
		protocol.StreamEventTypePing,
		protocol.StreamEventTypeContentBlockDelta,
		protocol.StreamEventTypeContentBlockDelta,
		protocol.StreamEventTypeContentBlockStop,
		protocol.StreamEventTypeMessageDelta,
		protocol.StreamEventTypeMessageStop,
	}, types)

	// Single pass: the stream stays at EOF.
	_, err := s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_FinalMessage(t *testing.T) {
	body := &closeRecorder{Reader: strings.NewReader(happySSE)}
	s := NewReaderStream(body)

	msg, err := s.FinalMessage()
	require.NoError(t, err)
	assert.Equal(t, "msg_1", msg.ID)
	assert.Equal(t, "Hello world", msg.Text())
	assert.Equal(t, "end_turn", msg.StopReason)
	assert.Equal(t, 3, msg.Usage.InputTokens)
	assert.Equal(t, 2, msg.Usage.OutputTokens)

	require.NoError(t, s.Close())
	assert.True(t, body.closed)
}

func TestStream_FinalMessageAfterPartialNext(t *testing.T) {
	s := NewReaderStream(strings.NewReader(happySSE))
	_, err := s.Next()
	require.NoError(t, err)

	msg, err := s.FinalMessage()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", msg.Text())
}

func TestStream_Text(t *testing.T) {
	text := NewReaderStream(strings.NewReader(happySSE)).Text()

	first, err := text.Next()
	require.NoError(t, err)
	assert.Equal(t, "Hello", first)

	rest, err := text.Collect()
	require.NoError(t, err)
	assert.Equal(t, " world", rest)
}

func TestStream_IndexMismatch(t *testing.T) {
	input := strings.Replace(happySSE,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"text_delta","text":" world"}}`, 1)

	_, err := NewReaderStream(strings.NewReader(input)).FinalMessage()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index mismatch")
}

func TestStream_TruncatedBody(t *testing.T) {
	cut := happySSE[:strings.Index(happySSE, "event: message_stop")]
	s := NewReaderStream(strings.NewReader(cut))

	_, err := s.FinalMessage()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindFSM, serr.Kind)
	assert.Contains(t, err.Error(), "stream ended before message_stop")
}

func TestStream_ErrorEventAndUnknown(t *testing.T) {
	input := "event: message_start\n" +
		`data: {"type":"message_start","message":{"id":"m","role":"assistant","content":[]}}` + "\n\n" +
		"event: future_thing\ndata: {}\n\n" +
		"event: error\n" +
		`data: {"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}` + "\n\n"

	s := NewReaderStream(strings.NewReader(input))
	_, err := s.Next()
	require.NoError(t, err)

	ev, err := s.Next()
	require.NoError(t, err)
	assert.IsType(t, protocol.UnknownEvent{}, ev)

	_, err = s.Next()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindServer, serr.Kind)
	assert.Equal(t, "Overloaded", serr.Message)
}

func TestStream_MalformedData(t *testing.T) {
	s := NewReaderStream(strings.NewReader("event: message_start\ndata: {not json\n\n"))
	_, err := s.Next()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindDecode, serr.Kind)
}

func TestStream_SSEFraming(t *testing.T) {
	input := ": keepalive\n\n" +
		"event: message_start\r\n" +
		`data: {"type":"message_start",` + "\r\n" +
		`data: "message":{"id":"m","role":"assistant","content":[]}}` + "\r\n" +
		"\r\n" +
		"\n\n" +
		`data: {"type":"ping"}` + "\n\n"

	s := NewReaderStream(strings.NewReader(input))
	ev, err := s.Next()
	require.NoError(t, err)
	start, ok := ev.(protocol.MessageStartEvent)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "m", start.Message.ID)

	ev, err = s.Next()
	require.NoError(t, err)
	assert.IsType(t, protocol.PingEvent{}, ev)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestStream_ReadErrorIsSSEError(t *testing.T) {
	_, err := NewReaderStream(failingReader{}).Next()
	var serr *Error
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, KindSSE, serr.Kind)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestStream_FromHTTPResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/event-stream")
		_, _ = io.WriteString(w, happySSE)
	}))
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	s := NewStream(res)
	defer s.Close()

	text, err := s.Text().Collect()
	require.NoError(t, err)
	assert.Equal(t, "Hello world", text)
}
