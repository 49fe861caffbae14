package skills

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bazelment/yoloswe/agentcore/internal/procattr"
	"github.com/rs/zerolog"
)

// DefaultScriptTimeout bounds a script run when no timeout is given.
const DefaultScriptTimeout = 30 * time.Second

// ScriptOutput is the captured result of a script run.
type ScriptOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Success reports a zero exit code without timeout.
func (o *ScriptOutput) Success() bool {
	return o.ExitCode == 0 && !o.TimedOut
}

// ScriptExecutor runs scripts bundled with a skill.
type ScriptExecutor interface {
	Execute(ctx context.Context, path string, args []string, timeout time.Duration) (*ScriptOutput, error)
	CanExecute(path string) bool
}

// PathValidator confines script paths to a base directory.
type PathValidator struct {
	BaseDir       string
	AllowSymlinks bool
}

// Validate returns the resolved path of a script, or an error wrapping
// ErrScriptRejected.
func (v PathValidator) Validate(path string) (string, error) {
	linfo, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s does not exist", ErrScriptRejected, path)
	}
	if linfo.Mode()&os.ModeSymlink != 0 && !v.AllowSymlinks {
		return "", fmt.Errorf("%w: symlinks are not allowed: %s", ErrScriptRejected, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s is not a regular file", ErrScriptRejected, path)
	}

	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", ErrScriptRejected, path, err)
	}
	resolved, err = filepath.Abs(resolved)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScriptRejected, err)
	}
	base, err := filepath.EvalSymlinks(v.BaseDir)
	if err != nil {
		return "", fmt.Errorf("%w: resolve base %s: %v", ErrScriptRejected, v.BaseDir, err)
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrScriptRejected, err)
	}

	rel, err := filepath.Rel(base, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrScriptRejected, path, v.BaseDir)
	}
	return resolved, nil
}

// DefaultInterpreters maps script extensions to interpreters.
func DefaultInterpreters() map[string]string {
	return map[string]string{
		".py": "python3",
		".sh": "bash",
	}
}

// CommandExecutor runs scripts with an interpreter chosen by extension.
type CommandExecutor struct {
	Interpreters map[string]string
	// Validator, when set, is applied before every run.
	Validator *PathValidator
	Logger    zerolog.Logger
}

// NewCommandExecutor returns an executor with the default interpreters.
func NewCommandExecutor(validator *PathValidator) *CommandExecutor {
	return &CommandExecutor{
		Interpreters: DefaultInterpreters(),
		Validator:    validator,
		Logger:       zerolog.Nop(),
	}
}

func (e *CommandExecutor) interpreter(path string) (string, bool) {
	interp, ok := e.Interpreters[strings.ToLower(filepath.Ext(path))]
	return interp, ok
}

// CanExecute reports whether an interpreter is known for path.
func (e *CommandExecutor) CanExecute(path string) bool {
	_, ok := e.interpreter(path)
	return ok
}

// Execute runs path with args. A run that exceeds timeout is killed along
// with its process group and reported with TimedOut set; this is not an
// error. Cancelling ctx is.
func (e *CommandExecutor) Execute(ctx context.Context, path string, args []string, timeout time.Duration) (*ScriptOutput, error) {
	interp, ok := e.interpreter(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoInterpreter, path)
	}
	if e.Validator != nil {
		resolved, err := e.Validator.Validate(path)
		if err != nil {
			return nil, err
		}
		path = resolved
	}
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, interp, append([]string{path}, args...)...)
	cmd.Dir = filepath.Dir(path)
	procattr.Group(cmd)
	cmd.Cancel = func() error {
		return procattr.KillGroup(cmd.Process)
	}
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	out := &ScriptOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		e.Logger.Warn().Str("script", path).Dur("timeout", timeout).Msg("script timed out")
		return out, nil
	}

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
	case errors.As(runErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("run %s: %w", path, runErr)
	}
	e.Logger.Debug().Str("script", path).Int("exit_code", out.ExitCode).Dur("duration", out.Duration).Msg("script finished")
	return out, nil
}
