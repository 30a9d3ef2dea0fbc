// Package output defines the driver's exit-code taxonomy and its typed
// error kinds, so that main can map any error returned by the loop to the
// right process exit code without reaching into loop internals.
package output

import "errors"

// Exit codes.
const (
	ExitSuccess     = 0
	ExitStartup     = 1
	ExitRuntime     = 2
	ExitInterrupted = 130
)

// Kind classifies an error by how the driver loop must react to it.
type Kind int

const (
	// KindFatalStartup aborts before the loop begins: bad flags, an
	// unreadable fuzzer-command file, a port that won't bind.
	KindFatalStartup Kind = iota
	// KindFatalRuntime aborts the running loop: the corpus directory was
	// deleted, a trace failed irrecoverably, a write to the data
	// directory failed.
	KindFatalRuntime
	// KindTransientIO is swallowed and the loop continues: a socket or
	// watcher reported "would block", waitpid was interrupted.
	KindTransientIO
	// KindPeerError is logged and the offending message is skipped: a
	// malformed bus message, a peer coverage file that doesn't exist.
	KindPeerError
)

func (k Kind) String() string {
	switch k {
	case KindFatalStartup:
		return "fatal-startup"
	case KindFatalRuntime:
		return "fatal-runtime"
	case KindTransientIO:
		return "transient-io"
	case KindPeerError:
		return "peer-error"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so the top-level command can
// decide an exit code without inspecting error strings.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Startup wraps err as a KindFatalStartup error.
func Startup(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFatalStartup, Err: err}
}

// Runtime wraps err as a KindFatalRuntime error.
func Runtime(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindFatalRuntime, Err: err}
}

// ExitCodeFor maps an error returned from the driver to a process exit
// code. A nil error maps to ExitSuccess.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var oe *Error
	if errors.As(err, &oe) {
		switch oe.Kind {
		case KindFatalStartup:
			return ExitStartup
		case KindFatalRuntime:
			return ExitRuntime
		}
	}
	return ExitRuntime
}
