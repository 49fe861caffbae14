package httpclient

import (
	"context"
	"io"
	"net/http"
	"sync"
)

const chunkSize = 32 * 1024

// ByteStream is the unread body of a streaming response.
type ByteStream struct {
	// Response is the underlying response. Its Body reads from and closes
	// the ByteStream, so handing it to a decoder keeps the attempt's
	// timeout tied to the stream.
	Response  *http.Response
	Header    http.Header
	RateLimit *RateLimit
	body      io.ReadCloser
	cancel    context.CancelFunc
	buf       []byte
	Status    int
	// RetriesTaken counts attempts after the first.
	RetriesTaken int
	closeOnce    sync.Once
}

// Read implements io.Reader.
func (s *ByteStream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Next returns the next chunk of the body as it arrives, or io.EOF. The
// returned slice is only valid until the next call.
func (s *ByteStream) Next() ([]byte, error) {
	if s.buf == nil {
		s.buf = make([]byte, chunkSize)
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// RequestID returns the server-assigned request id, if any.
func (s *ByteStream) RequestID() string {
	return requestID(s.Header)
}

// Close releases the connection.
func (s *ByteStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}
