// Package eventstream decodes header event records and hands them to an
// output handler in arrival order.
package eventstream

import (
	"context"
	"errors"

	"github.com/cilium/ebpf/ringbuf"
	"github.com/sirupsen/logrus"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/output"
)

// Reader yields raw records. *ringbuf.Reader satisfies it; Read returns
// ringbuf.ErrClosed once the reader is closed.
type Reader interface {
	Read() (ringbuf.Record, error)
}

var _ Reader = (*ringbuf.Reader)(nil)

// Stream reads records from a Reader and dispatches them to a handler.
type Stream struct {
	reader  Reader
	handler output.EventHandler
	log     logrus.FieldLogger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a new Stream with the given reader and event handler.
func New(reader Reader, handler output.EventHandler, log logrus.FieldLogger) *Stream {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Stream{
		reader:  reader,
		handler: handler,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start begins reading records in a goroutine.
// It returns immediately and processes events in the background until
// the context is cancelled, Stop is called or the reader is closed.
func (s *Stream) Start(ctx context.Context) error {
	go s.processEvents(ctx)
	return nil
}

// Stop signals the event processing goroutine to stop. A Read that is
// blocked returns only when the reader is closed.
func (s *Stream) Stop() error {
	close(s.stopCh)
	return nil
}

// Done is closed when the processing goroutine has returned.
func (s *Stream) Done() <-chan struct{} {
	return s.doneCh
}

// processEvents is the main event loop that reads and processes events.
func (s *Stream) processEvents(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
			record, err := s.reader.Read()
			if err != nil {
				if errors.Is(err, ringbuf.ErrClosed) {
					return
				}
				s.log.WithError(err).Warn("reading record")
				continue
			}

			event, err := bpf.Decode(record.RawSample)
			if err != nil {
				s.log.WithError(err).Warn("parsing event")
				continue
			}

			if err := s.handler.HandleEvent(event); err != nil {
				s.log.WithError(err).Warn("handling event")
			}
		}
	}
}
