// Package procattr builds agent subprocess commands that run in their own
// process group with an explicit environment, so the whole tree can be
// signalled and nothing leaks from the parent's environment.
package procattr

import (
	"errors"
	"os"
	"os/exec"
	"sort"
	"syscall"
)

// Command returns an exec.Cmd for path that starts in dir (when non-empty)
// with exactly env as its environment and a dedicated process group.
func Command(path string, args []string, dir string, env map[string]string) *exec.Cmd {
	cmd := exec.Command(path, args...)
	cmd.Dir = dir
	SetEnv(cmd, env)
	Group(cmd)
	return cmd
}

// Group puts cmd in its own process group so SignalGroup and KillGroup
// reach every descendant.
func Group(cmd *exec.Cmd) {
	cmd.SysProcAttr = groupAttr()
}

// SetEnv replaces cmd's environment with exactly vars. A nil exec.Cmd.Env
// inherits the parent environment, so the result is always non-nil.
func SetEnv(cmd *exec.Cmd, vars map[string]string) {
	env := make([]string, 0, len(vars))
	for k, v := range vars {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	cmd.Env = env
}

// SignalGroup delivers sig to every process in p's group. A group that has
// already exited is not an error.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	if p == nil {
		return nil
	}
	if err := syscall.Kill(-p.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// KillGroup is SignalGroup with SIGKILL.
func KillGroup(p *os.Process) error {
	return SignalGroup(p, syscall.SIGKILL)
}
