// Package bts drives one system-under-test execution under Intel Branch
// Trace Store hardware tracing and returns the raw branches it recorded.
//
// Only x86/x86_64 Linux exposes BTS through the perf_event subsystem; on
// every other platform Tracer.Trace returns an error rather than the
// package failing to build, the same pattern the teacher repo uses for its
// own platform-gated subsystems.
package bts

// Sink describes where the system-under-test reads its input from: either
// its standard input, or a nominated filename it is told about through its
// own argv.
type Sink struct {
	// Path is the scratch file the input bytes are written to before the
	// trace starts.
	Path string
	// Stdin, when true, dup2's Path onto the child's stdin. When false,
	// the caller is responsible for having put Path into the SUT's argv
	// (the -F contract).
	Stdin bool
}

// Tracer runs one SUT invocation under BTS tracing at a time; its exported
// surface is identical on every platform, but only linux/amd64 and
// linux/386 builds (see tracer_linux.go) actually talk to perf_event_open.
// Every other platform gets tracer_other.go's stub, whose Trace always
// returns an error.
//
// type Tracer struct{ ... } // defined per-platform
//
// func New(log *logrus.Entry) *Tracer
// func (t *Tracer) Trace(inputBytes []byte, sutArgv []string, sink Sink) ([]reduce.Branch, error)
// func (t *Tracer) Close() error
