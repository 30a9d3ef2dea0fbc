package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFuzzerCmdFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzzer.cmd")
	writeFile(t, path, "/usr/bin/afl-fuzz\n-i\n/corpus\n\n")

	argv, err := ParseFuzzerCmdFile(path)
	if err != nil {
		t.Fatalf("ParseFuzzerCmdFile: %v", err)
	}
	want := []string{"/usr/bin/afl-fuzz", "-i", "/corpus"}
	if len(argv) != len(want) {
		t.Fatalf("got %v, want %v", argv, want)
	}
	for i := range want {
		if argv[i] != want[i] {
			t.Fatalf("got %v, want %v", argv, want)
		}
	}
}

func TestParseFuzzerCmdFileRequiresTwoLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fuzzer.cmd")
	writeFile(t, path, "/usr/bin/afl-fuzz\n")

	if _, err := ParseFuzzerCmdFile(path); err == nil {
		t.Fatalf("expected error for single-line fuzzer command file")
	}
}

func TestParsePorts(t *testing.T) {
	p, err := ParsePorts("5000,5001,5002")
	if err != nil {
		t.Fatalf("ParsePorts: %v", err)
	}
	if p.Interesting != 5000 || p.Use != 5001 || p.Metric != 5002 {
		t.Fatalf("got %+v", p)
	}

	if _, err := ParsePorts("5000,5001"); err == nil {
		t.Fatalf("expected error for two-value port spec")
	}
	if _, err := ParsePorts("a,b,c"); err == nil {
		t.Fatalf("expected error for non-numeric port spec")
	}
}

func TestValidateRequiresInjectDirInMultiMode(t *testing.T) {
	c := &DriverConfig{
		FuzzerID:   "D1",
		FuzzerArgv: []string{"bin", "-x"},
		CFGScript:  "cfg.sh",
		CorpusDir:  "/corpus",
		DataDir:    "/data",
		Multi:      true,
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error when -j is missing in multi mode")
	}
	c.InjectDir = "/inject"
	if err := c.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateRejectsVerboseAndQuiet(t *testing.T) {
	c := &DriverConfig{
		FuzzerID:   "D1",
		FuzzerArgv: []string{"bin", "-x"},
		CFGScript:  "cfg.sh",
		CorpusDir:  "/corpus",
		DataDir:    "/data",
		Verbose:    true,
		Quiet:      true,
	}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for --verbose and --quiet together")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", path, err)
	}
}
