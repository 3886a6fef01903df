package tcpseq

import (
	"github.com/cilium/ebpf"
)

// MapLookuper is the subset of *ebpf.Map used by MapTable.
type MapLookuper interface {
	Lookup(key, valueOut interface{}) error
}

// MapTable is a Correlator over a BPF hash map keyed by Key with a uint32
// value, as maintained by an in-kernel read-boundary tracker.
type MapTable struct {
	m MapLookuper
}

// NewMapTable wraps a loaded or pinned map.
func NewMapTable(m MapLookuper) *MapTable {
	return &MapTable{m: m}
}

var _ MapLookuper = (*ebpf.Map)(nil)

// PreviousReadStart implements Correlator. Any lookup error, including
// ebpf.ErrKeyNotExist, is a miss.
func (t *MapTable) PreviousReadStart(tgid uint32, fd int32, readEnd uint32) uint32 {
	key := Key{Tgid: tgid, FD: uint32(fd), SeqEnd: readEnd} //nolint:gosec // fd is non-negative
	var start uint32
	if err := t.m.Lookup(&key, &start); err != nil {
		return 0
	}
	return start
}
