package agent

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/bazelment/yoloswe/agentcore/protocol"
)

// DefaultPermissionTimeout bounds a permission handler call.
const DefaultPermissionTimeout = 30 * time.Second

// Reasons attached to evaluator decisions.
const (
	ReasonBypassed           = "Permissions bypassed"
	ReasonAcceptEditsTimeout = "Accepted after handler timeout (AcceptEdits mode)"
	ReasonAcceptEditsNoCheck = "Accepted without explicit approval (AcceptEdits mode)"
	ReasonDefaultTimeout     = "Permission check timeout (fail-safe deny)"
	ReasonNoHandler          = "No permission handler registered (fail-safe deny)"
)

// PermissionHandler decides whether a tool call may proceed.
type PermissionHandler func(ctx context.Context, req *protocol.PermissionCheckRequest) (*protocol.PermissionResponse, error)

// PermissionEvaluator answers permission checks according to the current
// mode, failing closed when no decision can be obtained.
type PermissionEvaluator struct {
	handler     PermissionHandler
	rules       map[protocol.PermissionBehavior]map[string]string
	mode        protocol.PermissionMode
	directories []string
	timeout     time.Duration
	mu          sync.RWMutex
}

// NewPermissionEvaluator creates an evaluator in mode with no handler.
func NewPermissionEvaluator(mode protocol.PermissionMode) *PermissionEvaluator {
	return &PermissionEvaluator{
		mode:    mode,
		timeout: DefaultPermissionTimeout,
		rules: map[protocol.PermissionBehavior]map[string]string{
			protocol.PermissionBehaviorAllow: {},
			protocol.PermissionBehaviorDeny:  {},
			protocol.PermissionBehaviorAsk:   {},
		},
	}
}

// SetHandler installs h, replacing any previous handler. nil removes it.
func (e *PermissionEvaluator) SetHandler(h PermissionHandler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

// SetMode changes the permission mode.
func (e *PermissionEvaluator) SetMode(mode protocol.PermissionMode) {
	e.mu.Lock()
	e.mode = mode
	e.mu.Unlock()
}

// Mode returns the current permission mode.
func (e *PermissionEvaluator) Mode() protocol.PermissionMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mode
}

// Check answers req. Bypass mode always allows. AcceptEdits consults the
// handler but allows on timeout or when none is set. Default mode denies
// on timeout or when no handler is set. Handler errors are returned as
// *PermissionError.
func (e *PermissionEvaluator) Check(ctx context.Context, req *protocol.PermissionCheckRequest) (*protocol.PermissionResponse, error) {
	e.mu.RLock()
	mode, handler, timeout := e.mode, e.handler, e.timeout
	e.mu.RUnlock()

	if mode == protocol.PermissionModeBypass {
		return protocol.NewPermissionAllow(ReasonBypassed), nil
	}

	if handler == nil {
		if mode == protocol.PermissionModeAcceptEdits {
			return protocol.NewPermissionAllow(ReasonAcceptEditsNoCheck), nil
		}
		return protocol.NewPermissionDeny(ReasonNoHandler), nil
	}

	resp, err := callHandler(ctx, handler, req, timeout)
	switch {
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		if mode == protocol.PermissionModeAcceptEdits {
			return protocol.NewPermissionAllow(ReasonAcceptEditsTimeout), nil
		}
		return protocol.NewPermissionDeny(ReasonDefaultTimeout), nil
	case err != nil:
		return nil, &PermissionError{Tool: req.Tool, Cause: err}
	case resp == nil:
		return protocol.NewPermissionDeny(ReasonNoHandler), nil
	}
	return resp, nil
}

// callHandler runs h with a deadline. A handler that ignores its context
// is abandoned once the deadline passes.
func callHandler(ctx context.Context, h PermissionHandler, req *protocol.PermissionCheckRequest, timeout time.Duration) (*protocol.PermissionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp *protocol.PermissionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h(ctx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdatePermissions validates and applies one update atomically.
func (e *PermissionEvaluator) UpdatePermissions(u protocol.PermissionUpdate) error {
	if err := u.Validate(); err != nil {
		return &ConfigError{Message: "invalid permission update", Cause: err}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch u.Type {
	case protocol.PermissionUpdateAddRules:
		for _, r := range u.Rules {
			e.rules[u.Behavior][r.ToolName] = r.RuleContent
		}
	case protocol.PermissionUpdateReplaceRules:
		replaced := make(map[string]string, len(u.Rules))
		for _, r := range u.Rules {
			replaced[r.ToolName] = r.RuleContent
		}
		e.rules[u.Behavior] = replaced
	case protocol.PermissionUpdateRemoveRules:
		for _, r := range u.Rules {
			for _, m := range e.rules {
				delete(m, r.ToolName)
			}
		}
	case protocol.PermissionUpdateSetMode:
		mode, _ := protocol.ParsePermissionMode(string(u.Mode))
		e.mode = mode
	case protocol.PermissionUpdateAddDirectories:
		for _, d := range u.Directories {
			if !slices.Contains(e.directories, d) {
				e.directories = append(e.directories, d)
			}
		}
	case protocol.PermissionUpdateRemoveDirectories:
		e.directories = slices.DeleteFunc(e.directories, func(d string) bool {
			return slices.Contains(u.Directories, d)
		})
	}
	return nil
}

// Rules returns a copy of the rules for behavior, keyed by tool name.
func (e *PermissionEvaluator) Rules(b protocol.PermissionBehavior) map[string]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return maps.Clone(e.rules[b])
}

// Directories returns the allowed directories in insertion order.
func (e *PermissionEvaluator) Directories() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.directories)
}

// MatchRule returns the behavior of the most restrictive rule whose tool
// name pattern matches tool. Deny beats ask beats allow.
func (e *PermissionEvaluator) MatchRule(tool string) (protocol.PermissionBehavior, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, b := range []protocol.PermissionBehavior{
		protocol.PermissionBehaviorDeny,
		protocol.PermissionBehaviorAsk,
		protocol.PermissionBehaviorAllow,
	} {
		for pattern := range e.rules[b] {
			if pattern == tool {
				return b, true
			}
			if ok, err := doublestar.Match(pattern, tool); err == nil && ok {
				return b, true
			}
		}
	}
	return "", false
}

// NewRuleHandler returns a handler that allows or denies from the
// evaluator's rules and defers to fallback for ask rules and unmatched
// tools. A nil fallback denies.
func NewRuleHandler(e *PermissionEvaluator, fallback PermissionHandler) PermissionHandler {
	return func(ctx context.Context, req *protocol.PermissionCheckRequest) (*protocol.PermissionResponse, error) {
		b, ok := e.MatchRule(req.Tool)
		switch {
		case ok && b == protocol.PermissionBehaviorAllow:
			return protocol.NewPermissionAllow("Allowed by rule"), nil
		case ok && b == protocol.PermissionBehaviorDeny:
			return protocol.NewPermissionDeny("Denied by rule"), nil
		case fallback != nil:
			return fallback(ctx, req)
		default:
			return protocol.NewPermissionDeny("No matching rule"), nil
		}
	}
}
