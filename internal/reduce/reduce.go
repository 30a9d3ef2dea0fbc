// Package reduce turns a raw hardware branch stream into basic-block edges.
package reduce

import (
	"github.com/covswarm/cfd-driver/internal/bblocks"
	"github.com/covswarm/cfd-driver/internal/knowledge"
)

// kernelSpaceCutoff matches branches whose top 32 bits are all set, which
// the reference tracer uses as the kernel-space marker.
const kernelSpaceCutoff = 0xFFFFFFFF00000000

// Branch is one taken branch as reaped from the BTS aux ring.
type Branch struct {
	From uint64
	To   uint64
	Misc uint64
}

// Bounds restricts reduction to a single code region. A nil *Bounds means no
// restriction.
type Bounds struct {
	Start uint64
	End   uint64
}

func isKernelSpace(addr uint64) bool {
	return addr >= kernelSpaceCutoff
}

func inBounds(addr uint64, b *Bounds) bool {
	if b == nil {
		return true
	}
	// Inclusive endpoint comparison, preserved literally from the source
	// material even though the basic-block snap below uses a half-open
	// convention: the two checks are deliberately not harmonized.
	return addr >= b.Start && addr <= b.End
}

// snap returns the From address of the first basic block containing addr,
// in the order blocks were supplied, or addr unchanged if none contains it.
func snap(addr uint64, blocks []bblocks.Block) uint64 {
	for _, bb := range blocks {
		if bb.Contains(addr) {
			return bb.From
		}
	}
	return addr
}

// Reduce filters raw branches by kernel-space cutoff and optional section
// bounds, then snaps each surviving endpoint onto its enclosing basic block.
func Reduce(raw []Branch, bounds *Bounds, blocks []bblocks.Block) []knowledge.Edge {
	edges := make([]knowledge.Edge, 0, len(raw))
	for _, br := range raw {
		if isKernelSpace(br.From) || isKernelSpace(br.To) {
			continue
		}
		if !inBounds(br.From, bounds) || !inBounds(br.To, bounds) {
			continue
		}
		edges = append(edges, knowledge.Edge{
			From: snap(br.From, blocks),
			To:   snap(br.To, blocks),
		})
	}
	return edges
}
