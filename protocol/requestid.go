package protocol

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// RequestID correlates envelopes. A root id is a UUID v4; children append
// ".n" sequence suffixes and share the root's base.
type RequestID string

// NewRequestID returns a fresh root request id.
func NewRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// Base returns the id up to the first dot.
func (id RequestID) Base() string {
	s := string(id)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// WithSequence returns the n-th child id of this id's base.
func (id RequestID) WithSequence(n int) RequestID {
	return RequestID(id.Base() + "." + strconv.Itoa(n))
}

// Sequence returns the child sequence number, if any.
func (id RequestID) Sequence() (int, bool) {
	s := string(id)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// MatchesBase reports whether both ids share the same base.
func (id RequestID) MatchesBase(other RequestID) bool {
	return id.Base() == other.Base()
}

func (id RequestID) String() string { return string(id) }
