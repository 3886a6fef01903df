package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mrzor/h2trace/internal/bpf"
	"github.com/mrzor/h2trace/internal/filter"
	"github.com/mrzor/h2trace/internal/peernames"
	"github.com/mrzor/h2trace/internal/timesync"
)

// EventHandler is the interface for handling decoded header events.
type EventHandler interface {
	HandleEvent(event *bpf.HeaderEvent) error
}

// Format selects the console rendering.
type Format string

// Formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatText, FormatJSON:
		return Format(s), nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

// Console writes one line per event.
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	format  Format
	clock   *timesync.Converter
	filter  *filter.Filter
	labeler *filter.Labeler
	peers   *peernames.Resolver
	log     logrus.FieldLogger
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithFilter skips events f rejects.
func WithFilter(f *filter.Filter) ConsoleOption {
	return func(c *Console) { c.filter = f }
}

// WithLabels attaches evaluated labels to every printed event.
func WithLabels(l *filter.Labeler) ConsoleOption {
	return func(c *Console) { c.labeler = l }
}

// WithPeers learns peer names from every event and labels events whose
// remote address has one.
func WithPeers(r *peernames.Resolver) ConsoleOption {
	return func(c *Console) { c.peers = r }
}

// WithLogger sets the logger for label evaluation failures.
func WithLogger(l logrus.FieldLogger) ConsoleOption {
	return func(c *Console) { c.log = l }
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer, format Format, clock *timesync.Converter, opts ...ConsoleOption) *Console {
	c := &Console{
		w:      w,
		format: format,
		clock:  clock,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// jsonEvent is the JSON line layout.
type jsonEvent struct {
	Time      time.Time         `json:"time"`
	Pid       uint32            `json:"pid"`
	Tid       uint32            `json:"tid"`
	GoID      uint64            `json:"goid"`
	FD        uint32            `json:"fd"`
	Socket    uint64            `json:"socket"`
	Stream    uint32            `json:"stream"`
	Kind      string            `json:"kind"`
	Direction string            `json:"direction"`
	Protocol  string            `json:"protocol"`
	Seq       uint32            `json:"seq"`
	Local     string            `json:"local"`
	Remote    string            `json:"remote"`
	Name      string            `json:"name,omitempty"`
	Value     string            `json:"value,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// HandleEvent implements EventHandler.
func (c *Console) HandleEvent(ev *bpf.HeaderEvent) error {
	if c.peers != nil {
		c.peers.Learn(ev)
	}
	ok, err := c.filter.Match(ev)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	attrs, errs := c.labeler.Evaluate(ev)
	for _, err := range errs {
		c.log.WithError(err).Debug("evaluating label")
	}
	labels := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		labels[string(kv.Key)] = kv.Value.Emit()
	}
	if c.peers != nil {
		if names := c.peers.Lookup(ev.Tuple.Remote().Addr()); len(names) > 0 {
			labels["peer"] = strings.Join(names, ",")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.format == FormatJSON {
		return c.writeJSON(ev, labels)
	}
	return c.writeText(ev, labels)
}

func (c *Console) timestamp(ev *bpf.HeaderEvent) time.Time {
	if c.clock == nil {
		return time.Time{}
	}
	return c.clock.MonotonicToWallClock(ev.Timestamp)
}

func (c *Console) writeJSON(ev *bpf.HeaderEvent, labels map[string]string) error {
	line := jsonEvent{
		Time:      c.timestamp(ev),
		Pid:       ev.Tgid,
		Tid:       ev.Pid,
		GoID:      ev.CoroutineID,
		FD:        ev.FD,
		Socket:    ev.SocketID,
		Stream:    ev.StreamID,
		Kind:      ev.MsgType.String(),
		Direction: ev.Direction.String(),
		Protocol:  ev.DataType.String(),
		Seq:       ev.TCPSeq,
		Local:     ev.Tuple.Local().String(),
		Remote:    ev.Tuple.Remote().String(),
		Name:      string(ev.Name()),
		Value:     string(ev.Value()),
	}
	if len(labels) > 0 {
		line.Labels = labels
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	data = append(data, '\n')
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

func (c *Console) writeText(ev *bpf.HeaderEvent, labels map[string]string) error {
	ts := c.timestamp(ev).Format(time.RFC3339Nano)
	prefix := fmt.Sprintf("%s pid=%d fd=%d socket=%d stream=%d %s %s %s %s->%s",
		ts, ev.Tgid, ev.FD, ev.SocketID, ev.StreamID,
		ev.DataType, ev.Direction, ev.MsgType,
		ev.Tuple.Local(), ev.Tuple.Remote())

	var err error
	if ev.IsEnd() {
		_, err = fmt.Fprintf(c.w, "%s%s\n", prefix, formatLabels(labels))
	} else {
		_, err = fmt.Fprintf(c.w, "%s %s%s\n", prefix, ev.Field().String(), formatLabels(labels))
	}
	if err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}
