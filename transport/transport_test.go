package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeModeEnv switches the test binary into a fake CLI. It has to be passed
// through Config.Env because the child environment is cleared.
const fakeModeEnv = "AGENTCORE_FAKE_CLI"

func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeModeEnv); mode != "" {
		runFakeCLI(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runFakeCLI(mode string) {
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	switch mode {
	case "echo":
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			fmt.Fprintln(out, sc.Text())
			out.Flush()
		}
	case "partial":
		fmt.Fprint(out, "{\"a\":1}\n{\"trunc")
	case "long":
		fmt.Fprintln(out, `{"pad":"`+strings.Repeat("x", 2048)+`"}`)
		fmt.Fprintln(out, `{"ok":true}`)
	case "env":
		data, _ := json.Marshal(os.Environ())
		fmt.Fprintln(out, string(data))
		out.Flush()
		_, _ = io.Copy(io.Discard, os.Stdin)
	case "stubborn":
		signal.Ignore(syscall.SIGTERM)
		fmt.Fprintln(out, `{"ready":true}`)
		out.Flush()
		time.Sleep(time.Hour)
	}
}

func fakeConfig(t *testing.T, mode string) Config {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return Config{CLIPath: exe}.WithEnv(fakeModeEnv, mode)
}

func spawnFake(t *testing.T, mode string) *Subprocess {
	t.Helper()
	s, err := Spawn(context.Background(), fakeConfig(t, mode))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Kill() })
	return s
}

func TestSubprocess_SendRecvRoundTrip(t *testing.T) {
	t.Parallel()
	s := spawnFake(t, "echo")
	assert.True(t, s.IsAlive())
	assert.Greater(t, s.Pid(), 0)

	require.NoError(t, s.Send(context.Background(), map[string]string{"type": "query"}))
	require.NoError(t, s.Send(context.Background(), json.RawMessage(`{"type":"raw"}`)))

	line, err := s.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"query"}`, string(line))

	line, err = s.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"raw"}`, string(line))
}

func TestSubprocess_PartialLineAtEOF(t *testing.T) {
	t.Parallel()
	s := spawnFake(t, "partial")

	line, err := s.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(line))

	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)

	select {
	case <-s.Exited():
	case <-time.After(5 * time.Second):
		t.Fatal("fake CLI did not exit")
	}
	assert.False(t, s.IsAlive())
	assert.ErrorIs(t, s.Send(context.Background(), map[string]int{"x": 1}), ErrClosed)
}

func TestSubprocess_LineTooLong(t *testing.T) {
	t.Parallel()
	cfg := fakeConfig(t, "long")
	cfg.MaxLineSize = 1024
	s, err := Spawn(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Kill()

	_, err = s.Recv()
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)

	line, err := s.Recv()
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(line))
}

func TestSubprocess_EnvironmentIsCleared(t *testing.T) {
	t.Setenv("AGENTCORE_PARENT_SECRET", "leak")

	cfg := fakeConfig(t, "env").WithEnv("ONLY_THIS", "1")
	s, err := Spawn(context.Background(), cfg)
	require.NoError(t, err)
	defer s.Kill()

	line, err := s.Recv()
	require.NoError(t, err)
	var env []string
	require.NoError(t, json.Unmarshal(line, &env))
	assert.ElementsMatch(t, []string{fakeModeEnv + "=env", "ONLY_THIS=1"}, env)
}

func TestSubprocess_KillIsIdempotent(t *testing.T) {
	t.Parallel()
	s := spawnFake(t, "echo")

	require.NoError(t, s.Kill())
	assert.False(t, s.IsAlive())
	require.NoError(t, s.Kill())

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, s.Send(context.Background(), "x"), ErrClosed)
}

func TestSubprocess_StopEscalates(t *testing.T) {
	t.Parallel()
	s := spawnFake(t, "stubborn")

	_, err := s.Recv()
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, s.Stop(50*time.Millisecond))
	assert.False(t, s.IsAlive())
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubprocess_StopGraceful(t *testing.T) {
	t.Parallel()
	s := spawnFake(t, "echo")

	require.NoError(t, s.Stop(5*time.Second))
	assert.False(t, s.IsAlive())
	assert.NoError(t, s.ExitErr())
}

func TestSpawn_CLINotFound(t *testing.T) {
	t.Parallel()
	_, err := Spawn(context.Background(), Config{CLIPath: "agentcore-definitely-not-installed"})
	var notFound *CLINotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "agentcore-definitely-not-installed", notFound.Path)

	_, err = Spawn(context.Background(), Config{CLIPath: "/nonexistent/bin/claude"})
	require.True(t, errors.As(err, &notFound), "got %v", err)
}

func TestSpawn_CancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Spawn(ctx, fakeConfig(t, "echo"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Helpers(t *testing.T) {
	t.Parallel()
	base := DefaultConfig()
	assert.Equal(t, "claude", base.CLIPath)
	assert.Equal(t, []string{"agent"}, base.Args)
	assert.Equal(t, 1<<20, base.MaxLineSize)

	derived := base.WithArg("--verbose").WithEnv("K", "V")
	assert.Equal(t, []string{"agent", "--verbose"}, derived.Args)
	assert.Equal(t, []string{"agent"}, base.Args, "WithArg must not alias the original")
	assert.Nil(t, base.Env)
	assert.Equal(t, map[string]string{"K": "V"}, derived.Env)
}
