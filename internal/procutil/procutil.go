// Package procutil manages the long-lived fuzzer subprocess: spawning it in
// its own process group, redirecting its output, forwarding cancellation,
// and checking liveness.
package procutil

import (
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
)

// execCommand is overridden in tests for testability, following the same
// indirection pattern used for every subprocess-spawning component in this
// driver.
var execCommand = exec.Command

// Fuzzer wraps the long-lived fuzzer subprocess. A signal-0 liveness probe
// alone cannot detect exit on Linux: the pid stays allocated, and kill(pid,
// 0) keeps succeeding, until something reaps the zombie. Spawn starts a
// reaper goroutine that calls Wait once and records the result, so Alive
// can consult that instead of probing the (possibly zombie) pid directly.
type Fuzzer struct {
	cmd    *exec.Cmd
	exited atomic.Bool
}

// Spawn starts the fuzzer with argv[0] as its executable and argv[1:] as its
// arguments, in its own process group, with stdout/stderr redirected to
// stdoutPath/stderrPath (or /dev/null if empty).
func Spawn(argv []string, stdoutPath, stderrPath string) (*Fuzzer, error) {
	if len(argv) < 1 {
		return nil, fmt.Errorf("fuzzer argv must not be empty")
	}

	cmd := execCommand(argv[0], argv[1:]...)
	cmd.SysProcAttr = processGroupAttr()

	stdout, err := openOrDevNull(stdoutPath)
	if err != nil {
		return nil, fmt.Errorf("opening fuzzer stdout log: %w", err)
	}
	stderr, err := openOrDevNull(stderrPath)
	if err != nil {
		return nil, fmt.Errorf("opening fuzzer stderr log: %w", err)
	}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting fuzzer %s: %w", argv[0], err)
	}

	f := &Fuzzer{cmd: cmd}
	go func() {
		_ = cmd.Wait()
		f.exited.Store(true)
	}()
	return f, nil
}

func openOrDevNull(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// PID returns the fuzzer's process id.
func (f *Fuzzer) PID() int {
	return f.cmd.Process.Pid
}

// Alive reports whether the fuzzer process is still running. It consults
// the reaper goroutine's exit flag rather than signaling the pid: a
// zombie (exited but unreaped) process keeps answering signal 0
// successfully until something calls wait() on it, which a bare
// signal-based probe would never notice.
func (f *Fuzzer) Alive() bool {
	return !f.exited.Load()
}

// KillUncatchable sends an uncatchable termination signal to the fuzzer's
// entire process group, so helper processes it spawned die with it.
func (f *Fuzzer) KillUncatchable() error {
	return killProcessGroup(f.cmd.Process.Pid)
}
