package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/transport"
)

const routerShutdownTimeout = 5 * time.Second

type result struct {
	env *protocol.Envelope
	err error
}

// router owns the read side of one transport. It correlates responses with
// waiting callers by request-id base and answers hook and permission
// requests from the CLI inline, so replies go out in request order.
type router struct {
	transport transport.Transport
	hooks     *HookRegistry
	perms     *PermissionEvaluator
	trace     *traceRecorder
	ctx       context.Context
	cancel    context.CancelFunc
	queries   map[string]chan result
	controls  map[string]chan result
	failed    error
	done      chan struct{}
	logger    zerolog.Logger
	timeout   time.Duration
	mu        sync.Mutex
	shutdown  atomic.Bool
}

func newRouter(t transport.Transport, hooks *HookRegistry, perms *PermissionEvaluator, trace *traceRecorder, timeout time.Duration, logger zerolog.Logger) *router {
	ctx, cancel := context.WithCancel(context.Background())
	r := &router{
		transport: t,
		hooks:     hooks,
		perms:     perms,
		trace:     trace,
		ctx:       ctx,
		cancel:    cancel,
		queries:   make(map[string]chan result),
		controls:  make(map[string]chan result),
		done:      make(chan struct{}),
		logger:    logger,
		timeout:   timeout,
	}
	go r.readLoop()
	return r
}

func (r *router) readLoop() {
	defer close(r.done)
	for !r.shutdown.Load() {
		line, err := r.transport.Recv()
		if err != nil {
			var perr *transport.ProtocolError
			if errors.As(err, &perr) {
				r.logger.Warn().Err(err).Msg("skipping oversized line")
				continue
			}
			if !r.shutdown.Load() {
				if !errors.Is(err, io.EOF) {
					r.logger.Error().Err(err).Msg("receive failed")
				}
				r.fail(&TransportError{Op: "receive", Cause: io.ErrUnexpectedEOF})
			}
			return
		}
		if r.shutdown.Load() {
			return
		}
		r.handleLine(line)
	}
}

func (r *router) handleLine(line []byte) {
	env, err := protocol.Decode(line)
	if err != nil {
		r.trace.record("", protocol.DirectionReceived, line)
		r.logger.Warn().Err(err).Str("line", truncate(string(line), 200)).Msg("undecodable line")
		return
	}
	r.trace.record(env.RequestID, protocol.DirectionReceived, line)

	switch p := env.Payload.(type) {
	case protocol.HookRequest:
		r.handleHook(env.RequestID, &p)
	case protocol.PermissionCheckRequest:
		r.handlePermission(env.RequestID, &p)
	case protocol.QueryResponse:
		if !r.deliver(r.queries, env.RequestID, result{env: env}) {
			r.logger.Warn().Str("request_id", string(env.RequestID)).Msg("response with no waiter")
		}
	case protocol.ControlResponse:
		if !r.deliver(r.controls, env.RequestID, result{env: env}) {
			r.logger.Debug().Str("request_id", string(env.RequestID)).Msg("control response with no waiter")
		}
	case protocol.ErrorMessage:
		r.logger.Error().Str("code", p.Code).Str("message", p.Message).Str("request_id", string(env.RequestID)).Msg("error from CLI")
		if env.RequestID != "" {
			perr := &ProtocolError{Message: "CLI reported an error", Cause: p}
			if !r.deliver(r.queries, env.RequestID, result{err: perr}) {
				r.deliver(r.controls, env.RequestID, result{err: perr})
			}
		}
	default:
		r.logger.Warn().Str("type", string(env.Type())).Msg("unexpected message type")
	}
}

func (r *router) handleHook(id protocol.RequestID, req *protocol.HookRequest) {
	resp, err := r.hooks.Dispatch(r.ctx, req)
	if err != nil {
		r.logger.Error().Err(err).Str("event", string(req.EventType)).Msg("hook failed")
		resp = protocol.StopResponse(err.Error())
	}
	if err := r.send(r.ctx, id, resp); err != nil {
		r.logger.Error().Err(err).Msg("send hook response")
	}
}

func (r *router) handlePermission(id protocol.RequestID, req *protocol.PermissionCheckRequest) {
	resp, err := r.perms.Check(r.ctx, req)
	if err != nil {
		r.logger.Error().Err(err).Str("tool", req.Tool).Msg("permission check failed")
		resp = protocol.NewPermissionDeny(err.Error())
	}
	if err := r.send(r.ctx, id, resp); err != nil {
		r.logger.Error().Err(err).Msg("send permission response")
	}
}

func (r *router) send(ctx context.Context, id protocol.RequestID, p protocol.Payload) error {
	line, err := protocol.Encode(id, p)
	if err != nil {
		return &ProtocolError{Message: fmt.Sprintf("encode %s", p.MsgType()), Cause: err}
	}
	if err := r.transport.Send(ctx, json.RawMessage(line)); err != nil {
		return &TransportError{Op: "send " + string(p.MsgType()), Cause: err}
	}
	r.trace.record(id, protocol.DirectionSent, line)
	return nil
}

func (r *router) register(table map[string]chan result, id protocol.RequestID) (chan result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed != nil {
		return nil, r.failed
	}
	base := id.Base()
	if _, ok := table[base]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequest, base)
	}
	ch := make(chan result, 1)
	table[base] = ch
	return ch, nil
}

func (r *router) unregister(table map[string]chan result, id protocol.RequestID) {
	r.mu.Lock()
	delete(table, id.Base())
	r.mu.Unlock()
}

func (r *router) deliver(table map[string]chan result, id protocol.RequestID, res result) bool {
	r.mu.Lock()
	ch, ok := table[id.Base()]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- res:
	default:
		r.logger.Warn().Str("request_id", string(id)).Msg("duplicate response dropped")
	}
	return true
}

func (r *router) wait(ctx context.Context, ch chan result) (*protocol.Envelope, error) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.env, res.err
	case <-timer.C:
		return nil, ErrResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// sendQuery sends req under id and waits for the matching response.
func (r *router) sendQuery(ctx context.Context, id protocol.RequestID, req protocol.QueryRequest) (*protocol.QueryResponse, error) {
	ch, err := r.register(r.queries, id)
	if err != nil {
		return nil, err
	}
	defer r.unregister(r.queries, id)

	if err := r.send(ctx, id, req); err != nil {
		return nil, err
	}
	env, err := r.wait(ctx, ch)
	if err != nil {
		return nil, err
	}
	resp, ok := env.Payload.(protocol.QueryResponse)
	if !ok {
		return nil, &ProtocolError{Message: fmt.Sprintf("unexpected %s payload", env.Type())}
	}
	return &resp, nil
}

// sendControl sends a control request. When wait is false it returns as
// soon as the request is written.
func (r *router) sendControl(ctx context.Context, req protocol.ControlRequest, wait bool) (*protocol.ControlResponse, error) {
	id := protocol.NewRequestID()
	if !wait {
		return nil, r.send(ctx, id, req)
	}

	ch, err := r.register(r.controls, id)
	if err != nil {
		return nil, err
	}
	defer r.unregister(r.controls, id)

	if err := r.send(ctx, id, req); err != nil {
		return nil, err
	}
	env, err := r.wait(ctx, ch)
	if err != nil {
		return nil, err
	}
	resp, ok := env.Payload.(protocol.ControlResponse)
	if !ok {
		return nil, &ProtocolError{Message: fmt.Sprintf("unexpected %s payload", env.Type())}
	}
	return &resp, nil
}

// fail wakes every waiter with err and rejects new ones.
func (r *router) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = err
	}
	for _, table := range []map[string]chan result{r.queries, r.controls} {
		for _, ch := range table {
			select {
			case ch <- result{err: err}:
			default:
			}
		}
	}
}

// stop marks the router as shutting down and fails outstanding waiters
// with err. The read loop exits once its current Recv returns.
func (r *router) stop(err error) {
	r.shutdown.Store(true)
	r.cancel()
	r.fail(err)
}

// awaitExit waits up to timeout for the read loop, including any hook or
// permission handler it is running.
func (r *router) awaitExit(timeout time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		<-r.done
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-time.After(timeout):
		r.logger.Warn().Dur("timeout", timeout).Msg("router did not stop in time")
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
