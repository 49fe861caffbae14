package agent

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/bazelment/yoloswe/agentcore/protocol"
	"github.com/bazelment/yoloswe/agentcore/transport"
)

// fakeTransport is an in-memory transport. Lines pushed with deliver are
// returned by Recv; lines passed to Send appear on sent.
type fakeTransport struct {
	in     chan json.RawMessage
	sent   chan json.RawMessage
	closed chan struct{}
	once   sync.Once
	killed atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:     make(chan json.RawMessage, 64),
		sent:   make(chan json.RawMessage, 64),
		closed: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, v interface{}) error {
	if f.killed.Load() {
		return transport.ErrClosed
	}
	var line json.RawMessage
	switch raw := v.(type) {
	case json.RawMessage:
		line = append(json.RawMessage(nil), raw...)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		line = data
	}
	select {
	case f.sent <- line:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) Recv() (json.RawMessage, error) {
	select {
	case line := <-f.in:
		return line, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeTransport) IsAlive() bool { return !f.killed.Load() }

func (f *fakeTransport) Kill() error {
	f.once.Do(func() {
		f.killed.Store(true)
		close(f.closed)
	})
	return nil
}

// deliver queues an envelope for Recv.
func (f *fakeTransport) deliver(t *testing.T, id protocol.RequestID, p protocol.Payload) {
	t.Helper()
	line, err := protocol.Encode(id, p)
	require.NoError(t, err)
	f.in <- line
}

// next returns the next envelope sent to the peer.
func (f *fakeTransport) next(t *testing.T) *protocol.Envelope {
	t.Helper()
	select {
	case line := <-f.sent:
		env, err := protocol.Decode(line)
		require.NoError(t, err)
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sent envelope")
		return nil
	}
}

// serve answers queries with an echo of their text until the transport is
// killed. Queries starting with "hold" are never answered. It returns a counter of get_state requests.
func (f *fakeTransport) serve() *atomic.Int32 {
	var getState atomic.Int32
	go func() {
		for {
			select {
			case line := <-f.sent:
				env, err := protocol.Decode(line)
				if err != nil {
					continue
				}
				switch p := env.Payload.(type) {
				case protocol.QueryRequest:
					if strings.HasPrefix(p.Query, "hold") {
						continue
					}
					reply, _ := protocol.Encode(env.RequestID.WithSequence(1), protocol.QueryResponse{
						Message:    protocol.NewAssistantMessage("echo: " + p.Query),
						IsComplete: true,
					})
					f.in <- reply
				case protocol.ControlRequest:
					if _, ok := p.Command.(protocol.GetStateCommand); ok {
						n := getState.Add(1)
						data, _ := json.Marshal(map[string]interface{}{"calls": n})
						reply, _ := protocol.Encode(env.RequestID, protocol.ControlResponse{Success: true, Data: data})
						f.in <- reply
					}
				}
			case <-f.closed:
				return
			}
		}
	}()
	return &getState
}

// factory hands out fake transports in order. Unless manual is set each
// transport answers queries with serve.
type factory struct {
	err        error
	transports []*fakeTransport
	getState   []*atomic.Int32
	configs    []transport.Config
	mu         sync.Mutex
	calls      int
	manual     bool
}

func (fa *factory) spawn(ctx context.Context, cfg transport.Config, logger zerolog.Logger) (transport.Transport, error) {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	fa.calls++
	fa.configs = append(fa.configs, cfg)
	if fa.err != nil {
		return nil, fa.err
	}
	t := newFakeTransport()
	fa.transports = append(fa.transports, t)
	if !fa.manual {
		fa.getState = append(fa.getState, t.serve())
	}
	return t, nil
}

func (fa *factory) setErr(err error) {
	fa.mu.Lock()
	fa.err = err
	fa.mu.Unlock()
}

func (fa *factory) last() *fakeTransport {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.transports[len(fa.transports)-1]
}

func (fa *factory) count() int {
	fa.mu.Lock()
	defer fa.mu.Unlock()
	return fa.calls
}

// newFakeSession starts a session on fake transports.
func newFakeSession(t *testing.T, fa *factory, opts ...SessionOption) *Session {
	t.Helper()
	opts = append([]SessionOption{
		WithTransportFactory(fa.spawn),
		WithLogger(zerolog.Nop()),
		WithResponseTimeout(5 * time.Second),
	}, opts...)
	s, err := NewSession(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestRouter(t *testing.T, perms *PermissionEvaluator, hooks *HookRegistry) (*router, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	if perms == nil {
		perms = NewPermissionEvaluator(protocol.PermissionModeDefault)
	}
	if hooks == nil {
		hooks = NewHookRegistry()
	}
	r := newRouter(ft, hooks, perms, nil, 5*time.Second, zerolog.Nop())
	t.Cleanup(func() {
		r.stop(ErrSessionClosed)
		_ = ft.Kill()
		r.awaitExit(time.Second)
	})
	return r, ft
}
