package elfsection

import (
	"os"
	"runtime"
	"testing"
)

func TestFindLocatesTextSection(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF section resolution only applies to linux binaries")
	}
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	bounds, err := Find(self, "text")
	if err != nil {
		t.Fatalf("Find(%q, \"text\") returned error: %v", self, err)
	}
	if bounds.End <= bounds.Start {
		t.Fatalf("expected non-empty section bounds, got %+v", bounds)
	}
}

func TestFindReturnsNotFoundForMissingSubstring(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("ELF section resolution only applies to linux binaries")
	}
	self, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}

	_, err = Find(self, "this-section-does-not-exist")
	if _, ok := err.(*ErrNotFound); !ok {
		t.Fatalf("expected *ErrNotFound, got %v (%T)", err, err)
	}
}

func TestFindRejectsNonELF(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/not-an-elf"
	if err := os.WriteFile(path, []byte("not an elf file"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	if _, err := Find(path, "text"); err == nil {
		t.Fatalf("expected error opening non-ELF file")
	}
}
