// Package stream decodes server-sent event streams of message events and
// reassembles them into whole messages.
package stream

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/sst/opencode-sdk-go/packages/ssestream"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// Stream is a single-pass sequence of message events read from an SSE body.
// Every event is validated by a Reassembler as it is read. A Stream is not
// safe for concurrent use.
type Stream struct {
	err error
	dec ssestream.Decoder
	ra  *Reassembler
}

// NewStream reads events from the body of res. Close closes the body.
func NewStream(res *http.Response) *Stream {
	return &Stream{dec: ssestream.NewDecoder(res), ra: NewReassembler()}
}

// NewReaderStream reads events from r. If r is an io.Closer, Close closes it.
func NewReaderStream(r io.Reader) *Stream {
	rc, ok := r.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(r)
	}
	return NewStream(&http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/event-stream"}},
		Body:       rc,
	})
}

// Next returns the next event. It returns io.EOF after a complete message
// has been read and the input is exhausted, and a *Error for malformed
// input, protocol violations, or server error events.
func (s *Stream) Next() (protocol.StreamEventData, error) {
	if s.err != nil {
		return nil, s.err
	}
	ev, err := s.next()
	if err != nil {
		s.err = err
		return nil, err
	}
	return ev, nil
}

func (s *Stream) next() (protocol.StreamEventData, error) {
	if s.dec == nil {
		return nil, &Error{Kind: KindSSE, Message: "no response body"}
	}
	for {
		if !s.dec.Next() {
			if err := s.dec.Err(); err != nil {
				return nil, &Error{Kind: KindSSE, Message: "read", Cause: err}
			}
			if ferr := s.ra.Finish(); ferr != nil {
				return nil, ferr
			}
			return nil, io.EOF
		}

		raw := s.dec.Event()
		data := bytes.TrimSuffix(raw.Data, []byte("\n"))
		// Blank separators and comment-only blocks dispatch as empty events.
		if raw.Type == "" && len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		ev, err := protocol.ParseStreamEvent(raw.Type, data)
		if err != nil {
			return nil, &Error{Kind: KindDecode, Message: raw.Type, Cause: err}
		}
		if err := s.ra.Apply(ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}

// FinalMessage consumes the rest of the stream and returns the whole
// message.
func (s *Stream) FinalMessage() (*protocol.Message, error) {
	for {
		_, err := s.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return s.ra.Message()
}

// Text returns a view that yields only text delta fragments.
func (s *Stream) Text() *TextStream {
	return &TextStream{s: s}
}

// Close closes the response body.
func (s *Stream) Close() error {
	if s.dec == nil {
		return nil
	}
	return s.dec.Close()
}

// TextStream yields the text of content_block_delta text deltas in
// arrival order.
type TextStream struct {
	s *Stream
}

// Next returns the next text fragment or io.EOF.
func (t *TextStream) Next() (string, error) {
	for {
		ev, err := t.s.Next()
		if err != nil {
			return "", err
		}
		de, ok := ev.(protocol.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		d, err := de.ParsedDelta()
		if err != nil {
			return "", &Error{Kind: KindDecode, Message: "content_block_delta", Cause: err}
		}
		if td, ok := d.(protocol.TextDelta); ok {
			return td.Text, nil
		}
	}
}

// Collect reads the remaining fragments and joins them.
func (t *TextStream) Collect() (string, error) {
	var out []byte
	for {
		frag, err := t.Next()
		if errors.Is(err, io.EOF) {
			return string(out), nil
		}
		if err != nil {
			return string(out), err
		}
		out = append(out, frag...)
	}
}
