package eventstream

import (
	"errors"
	"sync"

	"github.com/cilium/ebpf/ringbuf"
)

// ErrFull is returned by Submit when the channel buffer is full.
var ErrFull = errors.New("eventstream: transport full")

// ChanTransport is an in-process transport between the emitter and a
// Stream. Submit never blocks: records that do not fit are refused, the
// way a full ring buffer refuses reservations.
type ChanTransport struct {
	mu     sync.RWMutex
	ch     chan []byte
	closed bool
}

// NewChanTransport buffers up to size records.
func NewChanTransport(size int) *ChanTransport {
	return &ChanTransport{ch: make(chan []byte, size)}
}

// Submit copies record into the buffer.
func (c *ChanTransport) Submit(record []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ringbuf.ErrClosed
	}

	select {
	case c.ch <- append([]byte(nil), record...):
		return nil
	default:
		return ErrFull
	}
}

// Read blocks until a record is available or the transport is closed and
// drained.
func (c *ChanTransport) Read() (ringbuf.Record, error) {
	raw, ok := <-c.ch
	if !ok {
		return ringbuf.Record{}, ringbuf.ErrClosed
	}
	return ringbuf.Record{RawSample: raw}, nil
}

// Len returns the number of buffered records.
func (c *ChanTransport) Len() int {
	return len(c.ch)
}

// Close stops accepting records. Buffered records can still be read.
func (c *ChanTransport) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	return nil
}
