// Package tcpseq stitches HTTP/2 reads to the TCP byte range they consumed.
//
// A header frame surfaces in the HTTP/2 stack after the socket read that
// carried it has returned, when only the sequence number at the end of the
// read is known. The read-boundary tracker (outside this package) records
// end -> start for every read; the probe pipeline looks the start back up.
package tcpseq

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEntries bounds the in-process table.
const DefaultEntries = 10240

// Key identifies one completed read. The layout matches the BPF map key.
type Key struct {
	Tgid   uint32
	FD     uint32
	SeqEnd uint32
}

// Correlator returns the sequence a read started at, or 0 when the read is
// unknown.
type Correlator interface {
	PreviousReadStart(tgid uint32, fd int32, readEnd uint32) uint32
}

// Table is an in-process Correlator bounded by LRU eviction. Lookups do not
// remove entries.
type Table struct {
	cache *lru.Cache[Key, uint32]
}

// NewTable returns a table holding at most size entries.
func NewTable(size int) (*Table, error) {
	if size <= 0 {
		size = DefaultEntries
	}
	cache, err := lru.New[Key, uint32](size)
	if err != nil {
		return nil, fmt.Errorf("creating sequence table: %w", err)
	}
	return &Table{cache: cache}, nil
}

// Record stores the start sequence of a read that ended at readEnd.
// It is the write side used by the read-boundary tracker.
func (t *Table) Record(tgid uint32, fd int32, readEnd, readStart uint32) {
	t.cache.Add(Key{Tgid: tgid, FD: uint32(fd), SeqEnd: readEnd}, readStart) //nolint:gosec // fd is non-negative
}

// PreviousReadStart implements Correlator.
func (t *Table) PreviousReadStart(tgid uint32, fd int32, readEnd uint32) uint32 {
	start, ok := t.cache.Get(Key{Tgid: tgid, FD: uint32(fd), SeqEnd: readEnd}) //nolint:gosec // fd is non-negative
	if !ok {
		return 0
	}
	return start
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.cache.Len()
}
