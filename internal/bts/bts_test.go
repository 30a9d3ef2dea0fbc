package bts

import (
	"io"
	"runtime"
	"testing"

	"github.com/covswarm/cfd-driver/internal/logging"
	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	return logging.New(io.Discard, "test-fuzzer", "single", false, true)
}

// TestTraceFailsCleanlyOnUnsupportedPlatform exercises the tracer_other.go
// stub directly on platforms where the real implementation can't build.
// On linux/amd64 or linux/386 this instead documents that a real BTS
// environment is required to exercise Trace, which CI does not provide.
func TestTraceFailsCleanlyOnUnsupportedPlatform(t *testing.T) {
	supported := runtime.GOOS == "linux" && (runtime.GOARCH == "amd64" || runtime.GOARCH == "386")
	if supported {
		t.Skip("linux/amd64 and linux/386 use the real perf_event_open tracer, which needs Intel BTS hardware to exercise")
	}

	tr := New(testLog())
	_, err := tr.Trace([]byte("input"), []string{"/bin/true"}, Sink{Path: "/tmp/does-not-matter"})
	if err == nil {
		t.Fatalf("expected Trace to fail on an unsupported platform")
	}
}

func TestSinkZeroValue(t *testing.T) {
	var s Sink
	if s.Stdin {
		t.Fatalf("zero-value Sink should default to file-argument mode, not stdin")
	}
	if s.Path != "" {
		t.Fatalf("zero-value Sink should have an empty path")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := New(testLog())
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
