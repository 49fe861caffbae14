//go:build linux

package procattr

import "syscall"

// The agent gets SIGTERM if we die without cleaning up.
func groupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGTERM}
}
