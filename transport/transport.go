// Package transport runs the agent CLI as a child process and exchanges
// newline-delimited JSON with it over stdin and stdout.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"maps"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/bazelment/yoloswe/agentcore/internal/ndjson"
	"github.com/bazelment/yoloswe/agentcore/internal/procattr"
)

// Transport is a framed, bidirectional message channel.
type Transport interface {
	// Send writes v as one line.
	Send(ctx context.Context, v interface{}) error
	// Recv returns the next line, or io.EOF once the peer is gone.
	Recv() (json.RawMessage, error)
	// IsAlive reports whether the peer can still be talked to.
	IsAlive() bool
	// Kill terminates the peer. It is idempotent.
	Kill() error
}

const (
	DefaultCLIPath     = "claude"
	DefaultMaxLineSize = ndjson.DefaultMaxLineSize
)

// Config describes how to launch the CLI.
type Config struct {
	// Env is the complete child environment; nothing is inherited.
	Env         map[string]string
	CLIPath     string
	WorkDir     string
	Args        []string
	MaxLineSize int
}

// DefaultConfig runs "claude agent" with an empty environment.
func DefaultConfig() Config {
	return Config{
		CLIPath:     DefaultCLIPath,
		Args:        []string{"agent"},
		MaxLineSize: DefaultMaxLineSize,
	}
}

// WithArg returns a copy of c with args appended.
func (c Config) WithArg(args ...string) Config {
	c.Args = append(append([]string(nil), c.Args...), args...)
	return c
}

// WithEnv returns a copy of c with key=value added to the environment.
func (c Config) WithEnv(key, value string) Config {
	env := maps.Clone(c.Env)
	if env == nil {
		env = make(map[string]string)
	}
	env[key] = value
	c.Env = env
	return c
}

// Option configures a Subprocess.
type Option func(*Subprocess)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Subprocess) {
		s.logger = l
	}
}

// Subprocess is a Transport backed by a child process. Send and Recv may
// be called concurrently with each other; each is serialized against
// itself.
type Subprocess struct {
	waitErr error
	cmd     *exec.Cmd
	stdin   *os.File
	stdout  *os.File
	writer  *ndjson.Writer
	reader  *ndjson.Reader
	exited  chan struct{}
	logger  zerolog.Logger
	cfg     Config
	recvMu  sync.Mutex
	mu      sync.Mutex
	killed  bool
}

var _ Transport = (*Subprocess)(nil)

// Spawn starts the CLI. ctx only bounds startup; the child outlives it.
func Spawn(ctx context.Context, cfg Config, opts ...Option) (*Subprocess, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.CLIPath == "" {
		cfg.CLIPath = DefaultCLIPath
	}
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = DefaultMaxLineSize
	}

	s := &Subprocess{
		cfg:    cfg,
		logger: zerolog.Nop(),
		exited: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	cmd := procattr.Command(cfg.CLIPath, cfg.Args, cfg.WorkDir, cfg.Env)

	// Plain pipes rather than StdoutPipe so Wait never closes the read end
	// under a concurrent Recv.
	childIn, parentIn, err := os.Pipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to create stdin pipe", Cause: err}
	}
	parentOut, childOut, err := os.Pipe()
	if err != nil {
		childIn.Close()
		parentIn.Close()
		return nil, &ProcessError{Message: "failed to create stdout pipe", Cause: err}
	}
	cmd.Stdin = childIn
	cmd.Stdout = childOut
	cmd.Stderr = nil

	err = cmd.Start()
	childIn.Close()
	childOut.Close()
	if err != nil {
		parentIn.Close()
		parentOut.Close()
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, &CLINotFoundError{Path: cfg.CLIPath, Cause: err}
		}
		return nil, &ProcessError{Message: "failed to start CLI process", Cause: err}
	}

	s.cmd = cmd
	s.stdin = parentIn
	s.stdout = parentOut
	s.writer = ndjson.NewWriter(parentIn)
	s.reader = ndjson.NewReaderSize(parentOut, cfg.MaxLineSize)

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(s.exited)
	}()

	s.logger.Debug().Int("pid", cmd.Process.Pid).Str("cli", cfg.CLIPath).Strs("args", cfg.Args).Msg("spawned CLI")
	return s, nil
}

// Pid returns the child's process id.
func (s *Subprocess) Pid() int {
	return s.cmd.Process.Pid
}

// Send writes v as one JSON line. []byte and json.RawMessage values are
// written as-is.
func (s *Subprocess) Send(ctx context.Context, v interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !s.IsAlive() {
		return ErrClosed
	}

	var err error
	switch raw := v.(type) {
	case json.RawMessage:
		err = s.writer.WriteRaw(raw)
	case []byte:
		err = s.writer.WriteRaw(raw)
	default:
		err = s.writer.Write(v)
	}
	if err != nil {
		if !s.IsAlive() {
			return ErrClosed
		}
		return &ProcessError{Message: "write to CLI stdin", Cause: err}
	}
	return nil
}

// Recv reads the next line. A line cut off by the end of output is
// dropped and reported as io.EOF.
func (s *Subprocess) Recv() (json.RawMessage, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	line, err := s.reader.ReadLine()
	switch {
	case err == nil:
		return json.RawMessage(line), nil
	case errors.Is(err, io.EOF), errors.Is(err, os.ErrClosed):
		return nil, io.EOF
	case errors.Is(err, ndjson.ErrLineTooLong):
		return nil, &ProtocolError{Message: "line exceeds maximum size", Cause: err}
	default:
		return nil, &ProcessError{Message: "read from CLI stdout", Cause: err}
	}
}

// IsAlive reports whether the child is running and not killed.
func (s *Subprocess) IsAlive() bool {
	s.mu.Lock()
	killed := s.killed
	s.mu.Unlock()
	if killed {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Exited is closed once the child has been reaped.
func (s *Subprocess) Exited() <-chan struct{} {
	return s.exited
}

// ExitErr returns the result of waiting on the child, nil while running.
func (s *Subprocess) ExitErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// Kill sends SIGKILL to the child's process group and reaps it.
func (s *Subprocess) Kill() error {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return nil
	}
	s.killed = true
	s.mu.Unlock()

	var err error
	select {
	case <-s.exited:
	default:
		if kerr := procattr.KillGroup(s.cmd.Process); kerr != nil {
			err = &ProcessError{Message: "failed to kill CLI process", Cause: kerr}
		}
		<-s.exited
	}
	s.closePipes()
	s.logger.Debug().Int("pid", s.cmd.Process.Pid).Msg("killed CLI")
	return err
}

// Stop shuts the child down gracefully: close stdin and wait up to
// timeout, then SIGTERM and wait 500ms, then SIGKILL.
func (s *Subprocess) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if s.killed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	_ = s.stdin.Close()

	select {
	case <-s.exited:
		return s.Kill()
	case <-time.After(timeout):
	}

	_ = procattr.SignalGroup(s.cmd.Process, syscall.SIGTERM)
	select {
	case <-s.exited:
	case <-time.After(500 * time.Millisecond):
	}
	return s.Kill()
}

func (s *Subprocess) closePipes() {
	_ = s.stdin.Close()
	_ = s.stdout.Close()
}
