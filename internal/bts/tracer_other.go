//go:build !(linux && (amd64 || 386))

package bts

import (
	"fmt"
	"runtime"

	"github.com/covswarm/cfd-driver/internal/reduce"
	"github.com/sirupsen/logrus"
)

// Tracer is the non-Linux/non-x86 stand-in: Intel BTS is only reachable
// through perf_event_open on linux/{amd64,386}, so Trace reports an error
// instead of attempting anything.
type Tracer struct {
	log *logrus.Entry
}

// New returns a Tracer that will fail on first use; log is kept so the
// eventual error report carries the same fields the real tracer would use.
func New(log *logrus.Entry) *Tracer {
	return &Tracer{log: log}
}

// Trace always fails: hardware branch tracing is not available on this
// platform.
func (t *Tracer) Trace(inputBytes []byte, sutArgv []string, sink Sink) ([]reduce.Branch, error) {
	return nil, fmt.Errorf("Intel BTS tracing requires linux/amd64 or linux/386, running on %s/%s", runtime.GOOS, runtime.GOARCH)
}

// Close is a no-op; there is nothing to release on this platform.
func (t *Tracer) Close() error { return nil }
