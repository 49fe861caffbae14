// Package agent runs a long-lived session against the agent CLI: it
// supervises the subprocess, routes its requests to hooks and permission
// checks, and correlates query responses.
package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/transport"
)

// SessionState is a snapshot of session state.
type SessionState struct {
	Model          string
	PermissionMode protocol.PermissionMode
	History        []protocol.Message
	ActiveQueries  int
	Connected      bool
}

// Session is a conversation with one CLI process. A Session is safe for
// concurrent use.
type Session struct {
	transport transport.Transport
	router    *router
	hooks     *HookRegistry
	perms     *PermissionEvaluator
	skills    *SkillManager
	info      *gocache.Cache
	trace     *traceRecorder
	logger    zerolog.Logger
	state     SessionState
	cfg       SessionConfig
	connMu    sync.Mutex
	mu        sync.Mutex
	active    atomic.Int32
	closed    atomic.Bool
}

const serverInfoKey = "state"

// NewSession starts the CLI and begins routing its messages.
func NewSession(ctx context.Context, opts ...SessionOption) (*Session, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return newSession(ctx, cfg)
}

func newSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	perms := NewPermissionEvaluator(cfg.PermissionMode)
	perms.SetHandler(cfg.PermissionHandler)
	for _, u := range cfg.PermissionUpdates {
		if err := perms.UpdatePermissions(u); err != nil {
			return nil, err
		}
	}

	hooks := NewHookRegistry()
	for event, handlers := range cfg.Hooks {
		for _, h := range handlers {
			hooks.Register(event, h)
		}
	}

	var trace *traceRecorder
	if cfg.TracePath != "" {
		var err error
		if trace, err = openTrace(cfg.TracePath); err != nil {
			return nil, &ConfigError{Message: "session trace", Cause: err}
		}
	}

	logger := cfg.Logger.With().Str("component", "agent").Logger()
	t, err := cfg.TransportFactory(ctx, cfg.transportConfig(), logger)
	if err != nil {
		_ = trace.Close()
		return nil, &TransportError{Op: "spawn", Cause: err}
	}

	s := &Session{
		transport: t,
		hooks:     hooks,
		perms:     perms,
		info:      gocache.New(cfg.ServerInfoTTL, 2*cfg.ServerInfoTTL),
		trace:     trace,
		logger:    logger,
		cfg:       cfg,
		state: SessionState{
			Connected:      true,
			Model:          cfg.Model,
			PermissionMode: perms.Mode(),
		},
	}
	s.router = newRouter(t, hooks, perms, trace, cfg.ResponseTimeout, logger)
	if cfg.Skills != nil {
		s.skills = NewSkillManager(cfg.Skills)
	}

	logger.Debug().Str("model", cfg.Model).Str("permission_mode", string(s.state.PermissionMode)).Msg("session started")
	return s, nil
}

func (c SessionConfig) validate() error {
	switch {
	case c.TransportFactory == nil:
		return &ConfigError{Message: "transport factory is required"}
	case c.MaxTokens <= 0:
		return &ConfigError{Message: "default max tokens must be positive", Cause: ErrInvalidMaxTokens}
	case c.MaxConcurrentQueries < 1:
		return &ConfigError{Message: "max concurrent queries must be at least 1"}
	case c.ResponseTimeout <= 0:
		return &ConfigError{Message: "response timeout must be positive"}
	case c.ServerInfoTTL <= 0:
		return &ConfigError{Message: "server info TTL must be positive"}
	}
	return nil
}

// Query sends req and waits for its response. It reconnects first if the
// CLI has died, and refuses with ErrTooManyQueries when the concurrency cap
// is reached.
func (s *Session) Query(ctx context.Context, req protocol.QueryRequest) (*protocol.QueryResponse, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	if err := req.Validate(); err != nil {
		return nil, &ConfigError{Message: "invalid query", Cause: err}
	}
	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}

	n := s.active.Add(1)
	defer s.active.Add(-1)
	if int(n) > s.cfg.MaxConcurrentQueries {
		return nil, fmt.Errorf("%w (max: %d)", ErrTooManyQueries, s.cfg.MaxConcurrentQueries)
	}

	resp, err := s.currentRouter().sendQuery(ctx, protocol.NewRequestID(), req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.state.History = append(s.state.History, protocol.NewUserMessage(req.Query), resp.Message.Clone())
	s.mu.Unlock()
	return resp, nil
}

func (s *Session) currentRouter() *router {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.router
}

// ensureConnected respawns the CLI if it is no longer alive.
func (s *Session) ensureConnected(ctx context.Context) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.closed.Load() {
		return ErrSessionClosed
	}
	if s.transport.IsAlive() {
		return nil
	}

	s.setConnected(false)
	attempts := 0
	err := backoff.RetryNotify(func() error {
		attempts++
		if s.closed.Load() {
			return backoff.Permanent(ErrSessionClosed)
		}
		return s.reconnectLocked(ctx)
	}, s.cfg.Reconnect.BackOff(ctx), func(err error, d time.Duration) {
		s.logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", d).Msg("reconnect failed")
	})
	if err != nil {
		return &TransportError{
			Op:    "reconnect",
			Cause: fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, attempts, err),
		}
	}
	s.logger.Info().Int("attempts", attempts).Msg("reconnected")
	return nil
}

// reconnectLocked replaces the transport and router. Waiters on the old
// router fail with ErrTransportReset. Requires connMu.
func (s *Session) reconnectLocked(ctx context.Context) error {
	s.router.stop(ErrTransportReset)
	_ = s.transport.Kill()
	s.router.awaitExit(routerShutdownTimeout)

	t, err := s.cfg.TransportFactory(ctx, s.cfg.transportConfig(), s.logger)
	if err != nil {
		return err
	}
	s.transport = t
	s.router = newRouter(t, s.hooks, s.perms, s.trace, s.cfg.ResponseTimeout, s.logger)
	s.info.Flush()
	s.setConnected(true)
	return nil
}

func (s *Session) setConnected(v bool) {
	s.mu.Lock()
	s.state.Connected = v
	s.mu.Unlock()
}

// Fork starts a new session with the same configuration, history, model and
// permission mode. The fork has its own CLI process and state.
func (s *Session) Fork(ctx context.Context) (*Session, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	snap := s.State()

	cfg := s.cfg
	cfg.Model = snap.Model
	cfg.PermissionMode = snap.PermissionMode
	forked, err := newSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	forked.mu.Lock()
	forked.state.History = snap.History
	forked.mu.Unlock()
	return forked, nil
}

// Close stops routing and kills the CLI. Calls after the first return
// ErrSessionClosed.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrSessionClosed
	}
	s.setConnected(false)

	s.connMu.Lock()
	defer s.connMu.Unlock()

	s.router.stop(ErrSessionClosed)
	killErr := s.transport.Kill()
	s.router.awaitExit(routerShutdownTimeout)
	if err := s.trace.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("close trace")
	}
	s.info.Flush()

	if killErr != nil {
		return &TransportError{Op: "kill", Cause: killErr}
	}
	s.logger.Debug().Msg("session closed")
	return nil
}

// State returns a snapshot of the session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.History = cloneHistory(s.state.History)
	st.ActiveQueries = int(s.active.Load())
	return st
}

// History returns a copy of the conversation history.
func (s *Session) History() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneHistory(s.state.History)
}

func cloneHistory(h []protocol.Message) []protocol.Message {
	out := slices.Clone(h)
	for i := range out {
		out[i] = out[i].Clone()
	}
	return out
}

// IsConnected reports whether the session believes the CLI is reachable.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Connected
}

// Model returns the current model.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Model
}

// PermissionMode returns the current permission mode.
func (s *Session) PermissionMode() protocol.PermissionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.PermissionMode
}

// Hooks returns the session's hook registry.
func (s *Session) Hooks() *HookRegistry { return s.hooks }

// Permissions returns the session's permission evaluator.
func (s *Session) Permissions() *PermissionEvaluator { return s.perms }

// Skills returns the skill manager, or nil when none is configured.
func (s *Session) Skills() *SkillManager { return s.skills }

// Pid returns the CLI process id, or 0 if the transport is not a subprocess.
func (s *Session) Pid() int {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if p, ok := s.transport.(interface{ Pid() int }); ok {
		return p.Pid()
	}
	return 0
}
