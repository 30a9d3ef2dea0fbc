//go:build !windows

package procutil

import "syscall"

// processGroupAttr returns SysProcAttr to create a new process group.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the whole process group so that any
// helper processes the fuzzer spawned die along with it.
func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
