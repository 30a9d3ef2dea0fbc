// Package bus implements the driver's peer-to-peer messaging surface: in
// multi-driver mode, three ZeroMQ sockets (interesting-push, use-sub,
// metric-rep); in single mode, two append-only time-series log files
// standing in for the same "publish coverage" role. Both are modeled
// behind the Sink interface so the driver loop's call sites never vary by
// mode.
package bus

import (
	"fmt"
	"strconv"
	"strings"
)

// Interesting is one published "new coverage" event.
type Interesting struct {
	FuzzerID     string
	InputPath    string
	CoveragePath string
}

// Injection is a use-sub message that applies to this driver.
type Injection struct {
	InputPath    string
	CoveragePath string
}

// Sink is the small interface the driver loop programs against; Multi and
// Single are its two implementations.
type Sink interface {
	// PublishInteresting announces a newly discovered input. inputN is the
	// driver's local surfaced-input counter at the time of discovery.
	PublishInteresting(evt Interesting, inputN int, newEdges int, kbSize int, kbTotalHits uint64, elapsedUs int64) error
	// PollMetricRequest returns a pending metric-rep request's coverage
	// filename, or ok=false if none is pending.
	PollMetricRequest() (coverageFile string, ok bool, err error)
	// ReplyMetric answers the most recently polled metric-rep request.
	ReplyMetric(value int) error
	// PollInjection returns a pending use-sub message addressed to
	// selfID, or ok=false if none is pending or none matched.
	PollInjection(selfID string) (Injection, bool, error)
	// Close releases all sockets/files the sink holds open.
	Close() error
}

// formatInteresting formats the interesting-push wire message:
// "<fuzzer_id> <input_path> <coverage_path>".
func formatInteresting(evt Interesting) string {
	return fmt.Sprintf("%s %s %s", evt.FuzzerID, evt.InputPath, evt.CoveragePath)
}

// useSubTopic is the single-character topic every use-sub message is
// published and filtered under.
const useSubTopic = "A"

// formatUseSub formats the use-sub wire message:
// "A <fuzzer_ids> <input_path> <coverage_path>", ids joined by "_".
func formatUseSub(ids []string, inputPath, coveragePath string) string {
	return fmt.Sprintf("%s %s %s %s", useSubTopic, strings.Join(ids, "_"), inputPath, coveragePath)
}

// parseUseSub splits a received use-sub message and reports whether selfID
// is among its addressees.
func parseUseSub(msg, selfID string) (Injection, bool, error) {
	fields := strings.Fields(msg)
	if len(fields) != 4 {
		return Injection{}, false, fmt.Errorf("malformed use-sub message %q: want 4 fields, got %d", msg, len(fields))
	}
	if fields[0] != useSubTopic {
		return Injection{}, false, fmt.Errorf("malformed use-sub message %q: unexpected topic %q", msg, fields[0])
	}
	ids := strings.Split(fields[1], "_")
	matched := false
	for _, id := range ids {
		if id == selfID {
			matched = true
			break
		}
	}
	if !matched {
		return Injection{}, false, nil
	}
	return Injection{InputPath: fields[2], CoveragePath: fields[3]}, true, nil
}

// formatMetricReply formats a metric-rep reply as a decimal float in its
// shortest exact form (7 becomes "7", not "7.000000"): the metric is
// conceptually a coverage-diff float even though this implementation only
// ever produces integral values.
func formatMetricReply(value int) string {
	return strconv.FormatFloat(float64(value), 'f', -1, 64)
}
