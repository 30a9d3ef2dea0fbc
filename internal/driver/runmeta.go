package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// runMeta is the run-metadata.toml sidecar written once at the start of
// every run, multi or single. It is not read back by the loop itself; it
// exists so an operator (or a future resumability feature) can tell which
// driver instance a data directory belongs to and when its run started,
// the same role the teacher's own meta.toml plays for installed versions.
type runMeta struct {
	FuzzerID  string    `toml:"fuzzer_id"`
	Mode      string    `toml:"mode"`
	StartedAt time.Time `toml:"started_at"`
}

// writeRunMeta marshals and writes run-metadata.toml into dataDir.
func writeRunMeta(dataDir, fuzzerID, mode string, startedAt time.Time) error {
	data, err := toml.Marshal(runMeta{FuzzerID: fuzzerID, Mode: mode, StartedAt: startedAt})
	if err != nil {
		return fmt.Errorf("marshaling run-metadata.toml: %w", err)
	}
	return os.WriteFile(filepath.Join(dataDir, "run-metadata.toml"), data, 0o644)
}
