package reduce

import (
	"testing"

	"github.com/covswarm/cfd-driver/internal/bblocks"
	"github.com/covswarm/cfd-driver/internal/knowledge"
)

func TestReduceSectionRestriction(t *testing.T) {
	bounds := &Bounds{Start: 0x1000, End: 0x2000}
	raw := []Branch{
		{From: 0x500, To: 0x1500},
		{From: 0x1500, To: 0x1800},
		{From: 0x1800, To: 0x3000},
	}
	got := Reduce(raw, bounds, nil)
	want := []knowledge.Edge{{From: 0x1500, To: 0x1800}}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestReduceKernelSpaceCut(t *testing.T) {
	raw := []Branch{{From: 0xFFFFFFFF80100000, To: 0x400000}}
	got := Reduce(raw, nil, nil)
	if len(got) != 0 {
		t.Fatalf("expected kernel-space branch discarded, got %+v", got)
	}
}

func TestReduceBasicBlockSnap(t *testing.T) {
	blocks := []bblocks.Block{{From: 0x1000, To: 0x1100}, {From: 0x1100, To: 0x1200}}
	raw := []Branch{{From: 0x10A0, To: 0x1150}}
	got := Reduce(raw, nil, blocks)
	want := knowledge.Edge{From: 0x1000, To: 0x1100}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v, want [%+v]", got, want)
	}
}

func TestReduceUnsnappedKeepsRawAddress(t *testing.T) {
	raw := []Branch{{From: 0x9999, To: 0xAAAA}}
	got := Reduce(raw, nil, nil)
	want := knowledge.Edge{From: 0x9999, To: 0xAAAA}
	if len(got) != 1 || got[0] != want {
		t.Fatalf("got %+v, want [%+v]", got, want)
	}
}
