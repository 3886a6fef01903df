package tcpseq

import (
	"sync"
	"testing"

	"github.com/cilium/ebpf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_MissIsZero(t *testing.T) {
	tbl, err := NewTable(16)
	require.NoError(t, err)

	assert.Zero(t, tbl.PreviousReadStart(1, 7, 5000))
}

func TestTable_RecordAndLookup(t *testing.T) {
	tbl, err := NewTable(16)
	require.NoError(t, err)

	tbl.Record(1, 7, 5000, 4000)

	assert.Equal(t, uint32(4000), tbl.PreviousReadStart(1, 7, 5000))
	assert.Equal(t, uint32(4000), tbl.PreviousReadStart(1, 7, 5000), "lookups leave the entry in place")
	assert.Zero(t, tbl.PreviousReadStart(2, 7, 5000), "other process")
	assert.Zero(t, tbl.PreviousReadStart(1, 8, 5000), "other fd")
	assert.Zero(t, tbl.PreviousReadStart(1, 7, 5001), "other read end")
	assert.Equal(t, 1, tbl.Len())
}

func TestTable_Bounded(t *testing.T) {
	tbl, err := NewTable(2)
	require.NoError(t, err)

	tbl.Record(1, 1, 10, 1)
	tbl.Record(1, 1, 20, 2)
	tbl.Record(1, 1, 30, 3)

	assert.Equal(t, 2, tbl.Len())
	assert.Zero(t, tbl.PreviousReadStart(1, 1, 10), "oldest entry evicted")
	assert.Equal(t, uint32(3), tbl.PreviousReadStart(1, 1, 30))
}

func TestNewTable_DefaultSize(t *testing.T) {
	tbl, err := NewTable(0)
	require.NoError(t, err)
	assert.NotNil(t, tbl)
}

func TestTable_Concurrent(t *testing.T) {
	tbl, err := NewTable(1024)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(fd int32) {
			defer wg.Done()
			for i := uint32(1); i <= 100; i++ {
				tbl.Record(1, fd, i*10, i)
				_ = tbl.PreviousReadStart(1, fd, i*10)
			}
		}(int32(g))
	}
	wg.Wait()

	assert.Equal(t, uint32(42), tbl.PreviousReadStart(1, 3, 420))
}

type fakeMap map[Key]uint32

func (m fakeMap) Lookup(key, valueOut interface{}) error {
	k := *key.(*Key)
	v, ok := m[k]
	if !ok {
		return ebpf.ErrKeyNotExist
	}
	*valueOut.(*uint32) = v
	return nil
}

func TestMapTable(t *testing.T) {
	m := fakeMap{{Tgid: 1, FD: 7, SeqEnd: 5000}: 4000}
	tbl := NewMapTable(m)

	assert.Equal(t, uint32(4000), tbl.PreviousReadStart(1, 7, 5000))
	assert.Zero(t, tbl.PreviousReadStart(1, 7, 6000))
}
