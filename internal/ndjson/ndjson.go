// Package ndjson reads and writes newline-delimited JSON streams.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// DefaultMaxLineSize bounds a single line when no explicit limit is given.
const DefaultMaxLineSize = 1 << 20

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("ndjson: line too long")

// Reader splits a byte stream into lines.
type Reader struct {
	r       *bufio.Reader
	maxSize int
}

// NewReader returns a Reader with DefaultMaxLineSize.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, DefaultMaxLineSize)
}

// NewReaderSize returns a Reader that rejects lines longer than maxSize bytes.
func NewReaderSize(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = DefaultMaxLineSize
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxSize: maxSize}
}

// ReadLine returns the next non-empty line without its terminator.
//
// A trailing line that is not newline-terminated when the stream ends is
// discarded and io.EOF is returned. An overlong line is consumed up to its
// newline and reported as ErrLineTooLong so the caller can keep reading.
func (r *Reader) ReadLine() ([]byte, error) {
	for {
		var (
			line     []byte
			overflow bool
		)
		for {
			chunk, err := r.r.ReadSlice('\n')
			if !overflow {
				if len(line)+len(chunk) > r.maxSize+1 {
					overflow = true
					line = nil
				} else {
					line = append(line, chunk...)
				}
			}
			if err == nil {
				break
			}
			if errors.Is(err, bufio.ErrBufferFull) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		if overflow {
			return nil, fmt.Errorf("%w (limit %d bytes)", ErrLineTooLong, r.maxSize)
		}

		line = bytes.TrimRight(line, "\r\n")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line, nil
	}
}

// Writer writes one JSON value per line. It is safe for concurrent use.
type Writer struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write marshals v and writes it followed by a newline.
func (w *Writer) Write(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal: %w", err)
	}
	return w.WriteRaw(data)
}

// WriteRaw writes data followed by a newline in a single call.
func (w *Writer) WriteRaw(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := w.w.Write(buf)
	return err
}
