package sockctx

import (
	"sync"

	"go.uber.org/atomic"
)

// SocketIDs allocates an id the first time a (process, fd) pair is seen.
// Ids come from one counter and are never reused, even when the kernel
// recycles the descriptor. Entries are only removed by Forget.
type SocketIDs struct {
	next      *atomic.Uint64
	allocated *atomic.Uint64
	ids       sync.Map // uint64(tgid)<<32|fd -> uint64
}

// NewSocketIDs returns an allocator whose first id is seed+1.
func NewSocketIDs(seed uint64) *SocketIDs {
	return &SocketIDs{
		next:      atomic.NewUint64(seed),
		allocated: atomic.NewUint64(0),
	}
}

func idKey(tgid uint32, fd int32) uint64 {
	return uint64(tgid)<<32 | uint64(uint32(fd)) //nolint:gosec // fd bits are kept as-is
}

// ID returns the id of (tgid, fd), allocating one if needed. fresh reports
// whether this call allocated it. Racing first sightings agree on one id;
// the loser's increment leaves a gap.
func (s *SocketIDs) ID(tgid uint32, fd int32) (id uint64, fresh bool) {
	key := idKey(tgid, fd)
	if v, ok := s.ids.Load(key); ok {
		return v.(uint64), false
	}

	candidate := s.next.Inc()
	actual, loaded := s.ids.LoadOrStore(key, candidate)
	if loaded {
		return actual.(uint64), false
	}
	s.allocated.Inc()
	return candidate, true
}

// Forget drops the id of (tgid, fd). The socket lifecycle sweep calls it
// when the descriptor is closed.
func (s *SocketIDs) Forget(tgid uint32, fd int32) {
	s.ids.Delete(idKey(tgid, fd))
}

// Allocated returns how many ids have been handed out.
func (s *SocketIDs) Allocated() uint64 {
	return s.allocated.Load()
}
