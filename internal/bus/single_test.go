package bus

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSinglePublishInterestingAppendsBothLogs(t *testing.T) {
	dir := t.TempDir()
	interestingPath := filepath.Join(dir, "interesting.log")
	coveragePath := filepath.Join(dir, "coverage.log")

	s, err := NewSingle(interestingPath, coveragePath)
	if err != nil {
		t.Fatalf("NewSingle: %v", err)
	}
	defer s.Close()

	if err := s.PublishInteresting(Interesting{FuzzerID: "D1"}, 3, 5, 120, 42, 1500); err != nil {
		t.Fatalf("PublishInteresting: %v", err)
	}
	if err := s.PublishInteresting(Interesting{FuzzerID: "D1"}, 4, 2, 122, 44, 1700); err != nil {
		t.Fatalf("PublishInteresting: %v", err)
	}

	interesting, err := os.ReadFile(interestingPath)
	if err != nil {
		t.Fatalf("reading interesting log: %v", err)
	}
	want := "1500 3\n1700 4\n"
	if string(interesting) != want {
		t.Fatalf("interesting log = %q, want %q", interesting, want)
	}

	coverage, err := os.ReadFile(coveragePath)
	if err != nil {
		t.Fatalf("reading coverage log: %v", err)
	}
	wantCov := "1500 120 5 42\n1700 122 2 44\n"
	if string(coverage) != wantCov {
		t.Fatalf("coverage log = %q, want %q", coverage, wantCov)
	}
}

func TestSingleHasNoMetricOrInjection(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSingle(filepath.Join(dir, "i.log"), filepath.Join(dir, "c.log"))
	if err != nil {
		t.Fatalf("NewSingle: %v", err)
	}
	defer s.Close()

	if _, ok, err := s.PollMetricRequest(); ok || err != nil {
		t.Fatalf("PollMetricRequest() = (_, %v, %v), want (_, false, nil)", ok, err)
	}
	if _, ok, err := s.PollInjection("D1"); ok || err != nil {
		t.Fatalf("PollInjection() = (_, %v, %v), want (_, false, nil)", ok, err)
	}
	if err := s.ReplyMetric(1); err == nil {
		t.Fatalf("expected ReplyMetric to fail in single mode")
	}
}
