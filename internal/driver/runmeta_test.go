package driver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func TestWriteRunMetaProducesReadableTOML(t *testing.T) {
	dir := t.TempDir()
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	if err := writeRunMeta(dir, "D1", "single", started); err != nil {
		t.Fatalf("writeRunMeta: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "run-metadata.toml"))
	if err != nil {
		t.Fatalf("reading run-metadata.toml: %v", err)
	}

	var m runMeta
	if err := toml.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshaling run-metadata.toml: %v", err)
	}
	if m.FuzzerID != "D1" || m.Mode != "single" {
		t.Fatalf("got %+v", m)
	}
	if !m.StartedAt.Equal(started) {
		t.Fatalf("StartedAt = %v, want %v", m.StartedAt, started)
	}
}
