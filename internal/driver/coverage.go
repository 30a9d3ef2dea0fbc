package driver

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/covswarm/cfd-driver/internal/knowledge"
)

// coverageRecordSize is the on-disk size of one edge: two little-endian
// uint64 fields, from and to, packed with no padding. This matches the
// branch_t struct the reference driver fwrites to its coverage files, so
// any peer reading one over use-sub or metric-rep agrees on the layout.
const coverageRecordSize = 16

// writeCoverage persists edges as packed little-endian (from, to) uint64
// records, in absorption order. This is the on-disk and on-wire coverage
// file format every driver instance agrees on.
func writeCoverage(path string, edges []knowledge.Edge) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, coverageRecordSize)
	for _, e := range edges {
		binary.LittleEndian.PutUint64(buf[0:8], e.From)
		binary.LittleEndian.PutUint64(buf[8:16], e.To)
		if _, err := f.Write(buf); err != nil {
			return err
		}
	}
	return nil
}

// readCoverage loads a coverage file written by writeCoverage.
func readCoverage(path string) ([]knowledge.Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data)%coverageRecordSize != 0 {
		return nil, fmt.Errorf("coverage file %s has a truncated record (size %d not a multiple of %d)", path, len(data), coverageRecordSize)
	}

	edges := make([]knowledge.Edge, 0, len(data)/coverageRecordSize)
	for off := 0; off < len(data); off += coverageRecordSize {
		from := binary.LittleEndian.Uint64(data[off : off+8])
		to := binary.LittleEndian.Uint64(data[off+8 : off+16])
		edges = append(edges, knowledge.Edge{From: from, To: to})
	}
	return edges, nil
}
