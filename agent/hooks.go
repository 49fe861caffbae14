package agent

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// HookInput is the per-handler copy of a hook request.
type HookInput struct {
	EventType protocol.HookEvent
	Data      json.RawMessage
}

// HookHandler handles one hook event.
type HookHandler func(ctx context.Context, input HookInput) (*protocol.HookResponse, error)

// HookHandle identifies a registration for Deregister.
type HookHandle struct {
	Event protocol.HookEvent
	id    uint64
}

type hookEntry struct {
	handler HookHandler
	id      uint64
}

// HookRegistry holds hook handlers by event. Handlers for one event run
// sequentially in registration order.
type HookRegistry struct {
	handlers map[protocol.HookEvent][]hookEntry
	nextID   uint64
	mu       sync.Mutex
}

// NewHookRegistry creates an empty registry.
func NewHookRegistry() *HookRegistry {
	return &HookRegistry{handlers: make(map[protocol.HookEvent][]hookEntry)}
}

// Register adds h for event.
func (r *HookRegistry) Register(event protocol.HookEvent, h HookHandler) HookHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[event] = append(r.handlers[event], hookEntry{id: r.nextID, handler: h})
	return HookHandle{Event: event, id: r.nextID}
}

// Deregister removes a registration. It reports whether it was present.
func (r *HookRegistry) Deregister(handle HookHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.handlers[handle.Event]
	i := slices.IndexFunc(entries, func(e hookEntry) bool { return e.id == handle.id })
	if i < 0 {
		return false
	}
	r.handlers[handle.Event] = slices.Delete(slices.Clone(entries), i, i+1)
	return true
}

// Count returns the number of handlers for event.
func (r *HookRegistry) Count(event protocol.HookEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

// Dispatch runs every handler for req.EventType and merges the results.
// The first handler error stops dispatch.
func (r *HookRegistry) Dispatch(ctx context.Context, req *protocol.HookRequest) (*protocol.HookResponse, error) {
	r.mu.Lock()
	entries := slices.Clone(r.handlers[req.EventType])
	r.mu.Unlock()

	responses := make([]*protocol.HookResponse, 0, len(entries))
	for i, e := range entries {
		input := HookInput{EventType: req.EventType, Data: slices.Clone(req.Data)}
		resp, err := e.handler(ctx, input)
		if err != nil {
			return nil, &HookError{Event: req.EventType, Index: i, Cause: err}
		}
		if resp == nil {
			resp = protocol.ContinueResponse()
		}
		responses = append(responses, resp)
	}
	return MergeHookResponses(responses), nil
}

// MergeHookResponses combines handler responses in order:
//
//   - continue: true only if every response continues
//   - modified_inputs: last one set wins
//   - context: objects are merged recursively, later keys overwrite
//   - permission_decision: most restrictive (deny > ask > allow)
//   - everything else: last one set wins
//
// No responses merge to {continue: true}.
func MergeHookResponses(responses []*protocol.HookResponse) *protocol.HookResponse {
	merged := protocol.ContinueResponse()
	var ctx interface{}

	for _, r := range responses {
		if r == nil {
			continue
		}
		merged.Continue = merged.Continue && r.Continue
		if r.ModifiedInputs != nil {
			merged.ModifiedInputs = r.ModifiedInputs
		}
		if len(r.Context) > 0 {
			var v interface{}
			if err := json.Unmarshal(r.Context, &v); err == nil {
				ctx = mergeValues(ctx, v)
			}
		}
		if r.PermissionDecision != nil &&
			(merged.PermissionDecision == nil || r.PermissionDecision.Restrictiveness() > merged.PermissionDecision.Restrictiveness()) {
			merged.PermissionDecision = r.PermissionDecision
		}
		merged.PermissionDecisionReason = lastSet(merged.PermissionDecisionReason, r.PermissionDecisionReason)
		merged.ContinueReason = lastSet(merged.ContinueReason, r.ContinueReason)
		merged.StopReason = lastSet(merged.StopReason, r.StopReason)
		merged.SystemMessage = lastSet(merged.SystemMessage, r.SystemMessage)
		merged.Reason = lastSet(merged.Reason, r.Reason)
		merged.SuppressOutput = lastSet(merged.SuppressOutput, r.SuppressOutput)
		if len(r.AdditionalContext) > 0 {
			merged.AdditionalContext = r.AdditionalContext
		}
	}

	if ctx != nil {
		if data, err := json.Marshal(ctx); err == nil {
			merged.Context = data
		}
	}
	return merged
}

func lastSet[T any](cur, next *T) *T {
	if next != nil {
		return next
	}
	return cur
}

func mergeValues(dst, src interface{}) interface{} {
	d, dok := dst.(map[string]interface{})
	s, sok := src.(map[string]interface{})
	if !dok || !sok {
		return src
	}
	for k, v := range s {
		d[k] = mergeValues(d[k], v)
	}
	return d
}
