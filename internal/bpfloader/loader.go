// Package bpfloader opens the maps a kernel-side probe host has pinned to
// bpffs.
package bpfloader

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"github.com/mrzor/h2trace/internal/tcpseq"
)

// Default pin names below the pin directory.
const (
	EventsMapName = "go_http2_events"
	TCPSeqMapName = "tcp_seq_map"
)

// Loader holds the pinned maps it opened.
type Loader struct {
	events *ebpf.Map
	tcpSeq *ebpf.Map
}

// Paths names the pinned objects. Empty fields are derived from Dir.
type Paths struct {
	Dir    string
	Events string
	TCPSeq string
}

func (p Paths) resolve() Paths {
	if p.Events == "" {
		p.Events = filepath.Join(p.Dir, EventsMapName)
	}
	if p.TCPSeq == "" {
		p.TCPSeq = filepath.Join(p.Dir, TCPSeqMapName)
	}
	return p
}

// Open loads the pinned events ring buffer. The TCP sequence map is
// optional; without it read events carry sequence 0.
func Open(paths Paths) (*Loader, error) {
	paths = paths.resolve()
	l := &Loader{}

	var err error
	l.events, err = ebpf.LoadPinnedMap(paths.Events, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("loading pinned events map %s: %w", paths.Events, err)
	}
	if l.events.Type() != ebpf.RingBuf {
		return nil, l.closeErrorf("checking events map", fmt.Errorf("%s is a %s, not a ring buffer", paths.Events, l.events.Type()))
	}

	l.tcpSeq, err = ebpf.LoadPinnedMap(paths.TCPSeq, &ebpf.LoadPinOptions{ReadOnly: true})
	if err != nil {
		l.tcpSeq = nil
	}

	return l, nil
}

// closeErrorf closes whatever was opened and returns a formatted error.
func (l *Loader) closeErrorf(errstr string, e error) error {
	if l.tcpSeq != nil {
		_ = l.tcpSeq.Close() //nolint:errcheck // Best-effort cleanup in error path
	}
	if l.events != nil {
		_ = l.events.Close() //nolint:errcheck // Best-effort cleanup in error path
	}
	return fmt.Errorf("%s: %w", errstr, e)
}

// OpenRingBuffer opens and returns a ring buffer reader for receiving events.
func (l *Loader) OpenRingBuffer() (*ringbuf.Reader, error) {
	rd, err := ringbuf.NewReader(l.events)
	if err != nil {
		return nil, fmt.Errorf("opening ring buffer: %w", err)
	}
	return rd, nil
}

// Correlator returns the pinned TCP sequence map as a correlator, or nil
// when it was not pinned.
func (l *Loader) Correlator() tcpseq.Correlator {
	if l.tcpSeq == nil {
		return nil
	}
	return tcpseq.NewMapTable(l.tcpSeq)
}

// Close releases the pinned map handles. The pins themselves stay.
func (l *Loader) Close() error {
	var errs []error

	if l.tcpSeq != nil {
		if err := l.tcpSeq.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing tcp seq map: %w", err))
		}
	}

	if l.events != nil {
		if err := l.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing events map: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during cleanup: %w", errors.Join(errs...))
	}

	return nil
}
