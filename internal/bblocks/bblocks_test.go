package bblocks

import (
	"fmt"
	"os/exec"
	"strings"
	"testing"
)

func TestLoadParsesOrderedTriples(t *testing.T) {
	orig := execCommand
	defer func() { execCommand = orig }()

	script := "1000 1100 x\n1100 1200 y\n\n2000 2200 z\n"
	execCommand = func(name string, arg ...string) *exec.Cmd {
		return exec.Command("printf", "%s", script)
	}

	blocks, err := Load("fake-script", "fake-binary")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	want := []Block{{1000, 1100}, {1100, 1200}, {2000, 2200}}
	if len(blocks) != len(want) {
		t.Fatalf("got %d blocks, want %d", len(blocks), len(want))
	}
	for i := range want {
		if blocks[i] != want[i] {
			t.Fatalf("block %d = %+v, want %+v", i, blocks[i], want[i])
		}
	}
}

func TestLoadToleratesBlankLines(t *testing.T) {
	orig := execCommand
	defer func() { execCommand = orig }()
	execCommand = func(name string, arg ...string) *exec.Cmd {
		return exec.Command("printf", "%s", "\n\n10 20 _\n\n")
	}
	blocks, err := Load("s", "b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(blocks) != 1 || blocks[0] != (Block{10, 20}) {
		t.Fatalf("got %+v", blocks)
	}
}

func TestLoadRejectsTooManyBlocks(t *testing.T) {
	orig := execCommand
	defer func() { execCommand = orig }()

	var b strings.Builder
	for i := 0; i < MaxBlocks+5; i++ {
		fmt.Fprintf(&b, "%d %d _\n", i, i+1)
	}
	out := b.String()
	execCommand = func(name string, arg ...string) *exec.Cmd {
		return exec.Command("printf", "%s", out)
	}

	if _, err := Load("s", "b"); err == nil {
		t.Fatalf("expected error for oversized cfg output")
	}
}

func TestBlockContains(t *testing.T) {
	b := Block{From: 100, To: 200}
	if !b.Contains(100) {
		t.Fatalf("expected From to be inclusive")
	}
	if b.Contains(200) {
		t.Fatalf("expected To to be exclusive")
	}
}
