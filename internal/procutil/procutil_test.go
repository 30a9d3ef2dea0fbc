package procutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSpawnRedirectsOutputAndReportsLiveness(t *testing.T) {
	dir := t.TempDir()
	stdout := filepath.Join(dir, "out.log")

	f, err := Spawn([]string{"sh", "-c", "echo hello; sleep 1"}, stdout, "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer f.KillUncatchable()

	if !f.Alive() {
		t.Fatalf("expected fuzzer to be alive immediately after spawn")
	}

	time.Sleep(100 * time.Millisecond)
	data, err := os.ReadFile(stdout)
	if err != nil {
		t.Fatalf("reading stdout log: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("stdout log = %q, want %q", data, "hello\n")
	}
}

func TestKillUncatchableStopsProcess(t *testing.T) {
	f, err := Spawn([]string{"sleep", "30"}, "", "")
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := f.KillUncatchable(); err != nil {
		t.Fatalf("KillUncatchable: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !f.Alive() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("fuzzer still reported alive after KillUncatchable")
}
