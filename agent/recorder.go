package agent

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bazelment/yoloswe/agentcore/internal/ndjson"
	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// traceRecorder appends every envelope crossing the subprocess boundary to
// a file as protocol.TraceEntry lines.
type traceRecorder struct {
	f   *os.File
	w   *ndjson.Writer
	now func() time.Time
	mu  sync.Mutex
}

func openTrace(path string) (*traceRecorder, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	return &traceRecorder{f: f, w: ndjson.NewWriter(f), now: time.Now}, nil
}

// record is a no-op on a nil recorder.
func (r *traceRecorder) record(id protocol.RequestID, direction string, line []byte) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return
	}
	_ = r.w.Write(protocol.NewTraceEntry(id, direction, line, r.now()))
}

func (r *traceRecorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
