package protocol

import (
	"encoding/json"
	"time"
)

// Trace directions.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// TraceEntry records one envelope crossing the subprocess boundary.
// Trace files hold one entry per line and are useful as test fixtures.
type TraceEntry struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Direction string          `json:"direction"`
	Message   json.RawMessage `json:"message"`
}

// NewTraceEntry wraps a raw envelope line.
func NewTraceEntry(id RequestID, direction string, line []byte, at time.Time) TraceEntry {
	msg := make(json.RawMessage, len(line))
	copy(msg, line)
	return TraceEntry{
		ID:        string(id),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
		Direction: direction,
		Message:   msg,
	}
}

// ParseTraceEntry decodes the envelope inside a trace line. Lines that are
// bare envelopes rather than trace entries are decoded directly.
func ParseTraceEntry(line []byte) (*Envelope, error) {
	var entry TraceEntry
	if err := json.Unmarshal(line, &entry); err != nil || len(entry.Message) == 0 {
		return Decode(line)
	}
	return Decode(entry.Message)
}
