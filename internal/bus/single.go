package bus

import (
	"fmt"
	"os"
)

// Single is the degraded, no-bus implementation of Sink used when the
// driver is run without peers: instead of publishing coverage events, it
// appends time-series lines to two log files. It never has a metric
// request or an injection to offer, so those methods always report none
// pending.
type Single struct {
	interesting *os.File
	coverage    *os.File
}

// NewSingle opens (creating if necessary) the two append-only time-series
// log files.
func NewSingle(interestingPath, coveragePath string) (*Single, error) {
	interesting, err := os.OpenFile(interestingPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening interesting log %s: %w", interestingPath, err)
	}
	coverage, err := os.OpenFile(coveragePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		interesting.Close()
		return nil, fmt.Errorf("opening coverage log %s: %w", coveragePath, err)
	}
	return &Single{interesting: interesting, coverage: coverage}, nil
}

// PublishInteresting appends one line to each time-series log:
// "<elapsed_us> <input_n>" to the interesting log and
// "<elapsed_us> <kb.size> <new_edges> <kb.total_hits>" to the coverage log.
func (s *Single) PublishInteresting(evt Interesting, inputN int, newEdges int, kbSize int, kbTotalHits uint64, elapsedUs int64) error {
	if _, err := fmt.Fprintf(s.interesting, "%d %d\n", elapsedUs, inputN); err != nil {
		return fmt.Errorf("appending to interesting log: %w", err)
	}
	if _, err := fmt.Fprintf(s.coverage, "%d %d %d %d\n", elapsedUs, kbSize, newEdges, kbTotalHits); err != nil {
		return fmt.Errorf("appending to coverage log: %w", err)
	}
	return nil
}

// PollMetricRequest never has anything pending: metric-rep is a multi-mode
// concept.
func (s *Single) PollMetricRequest() (string, bool, error) { return "", false, nil }

// ReplyMetric is never called in single mode; it is an error if it is.
func (s *Single) ReplyMetric(int) error {
	return fmt.Errorf("ReplyMetric called in single mode, which has no metric-rep socket")
}

// PollInjection never has anything pending: use-sub is a multi-mode
// concept.
func (s *Single) PollInjection(string) (Injection, bool, error) { return Injection{}, false, nil }

// Close closes both log files.
func (s *Single) Close() error {
	err1 := s.interesting.Close()
	err2 := s.coverage.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
