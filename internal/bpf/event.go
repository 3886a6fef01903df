package bpf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"golang.org/x/net/http2/hpack"
)

// Record sizes.
const (
	SocketDataSize = 88
	HeaderInfoSize = 16
	MaxFieldLen    = 1023
	RecordAlign    = 8
)

// ErrShortRecord is returned when a record is smaller than its headers claim.
var ErrShortRecord = errors.New("bpf: short record")

// Tuple is the 5-tuple of the socket an event was observed on.
type Tuple struct {
	Laddr      [16]byte
	Raddr      [16]byte
	Lport      uint16
	Rport      uint16
	L4Protocol uint8
	AddrLen    uint8   // 4 or 16
	_          [2]byte // Padding
}

// Local returns the local address and port.
func (t *Tuple) Local() netip.AddrPort {
	return netip.AddrPortFrom(t.addr(t.Laddr), t.Lport)
}

// Remote returns the remote address and port.
func (t *Tuple) Remote() netip.AddrPort {
	return netip.AddrPortFrom(t.addr(t.Raddr), t.Rport)
}

func (t *Tuple) addr(b [16]byte) netip.Addr {
	if t.AddrLen == 4 {
		return netip.AddrFrom4([4]byte(b[:4]))
	}
	return netip.AddrFrom16(b)
}

// SocketData is the fixed header of every event.
type SocketData struct {
	Tgid        uint32
	Pid         uint32
	CoroutineID uint64
	SocketID    uint64
	Timestamp   uint64 // CLOCK_MONOTONIC nanoseconds
	Tuple       Tuple
	TCPSeq      uint32
	Source      uint8
	Direction   Direction
	MsgType     MessageType
	DataType    Protocol
	DataLen     uint32 // HeaderInfo plus name and value bytes
	_           uint32 // Padding
}

// HeaderInfo precedes the name and value bytes of one header field.
type HeaderInfo struct {
	FD       uint32
	StreamID uint32
	NameLen  uint32
	ValueLen uint32
}

// HeaderEvent is one decoded record: a header field or a batch end marker.
type HeaderEvent struct {
	SocketData
	HeaderInfo
	Data []byte // name followed by value
}

// Name returns the header name bytes.
func (e *HeaderEvent) Name() []byte {
	return e.Data[:e.NameLen]
}

// Value returns the header value bytes.
func (e *HeaderEvent) Value() []byte {
	return e.Data[e.NameLen : e.NameLen+e.ValueLen]
}

// IsEnd reports whether the event is a batch end marker.
func (e *HeaderEvent) IsEnd() bool {
	return e.MsgType.IsEnd()
}

// Field returns the event as an hpack header field. Sensitivity is not
// carried on the wire.
func (e *HeaderEvent) Field() hpack.HeaderField {
	return hpack.HeaderField{Name: string(e.Name()), Value: string(e.Value())}
}

// RecordSize returns the transport size of a record carrying n bytes of
// name and value, rounded up to RecordAlign.
func RecordSize(n int) int {
	raw := SocketDataSize + HeaderInfoSize + n + 1 // NUL after the value
	return (raw + RecordAlign - 1) &^ (RecordAlign - 1)
}

// PutHeaders writes sd and hi to the front of buf, which must hold at least
// SocketDataSize+HeaderInfoSize bytes.
func PutHeaders(buf []byte, sd *SocketData, hi *HeaderInfo) error {
	n, err := binary.Encode(buf, binary.LittleEndian, sd)
	if err != nil {
		return fmt.Errorf("encoding socket data: %w", err)
	}
	if _, err := binary.Encode(buf[n:], binary.LittleEndian, hi); err != nil {
		return fmt.Errorf("encoding header info: %w", err)
	}
	return nil
}

// Decode parses one record. The returned event's Data aliases raw.
func Decode(raw []byte) (*HeaderEvent, error) {
	var ev HeaderEvent
	n, err := binary.Decode(raw, binary.LittleEndian, &ev.SocketData)
	if err != nil {
		return nil, fmt.Errorf("%w: socket data: %v", ErrShortRecord, err)
	}
	m, err := binary.Decode(raw[n:], binary.LittleEndian, &ev.HeaderInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: header info: %v", ErrShortRecord, err)
	}

	if ev.NameLen > MaxFieldLen || ev.ValueLen > MaxFieldLen {
		return nil, fmt.Errorf("bpf: field lengths %d/%d exceed %d", ev.NameLen, ev.ValueLen, MaxFieldLen)
	}
	body := raw[n+m:]
	need := int(ev.NameLen + ev.ValueLen)
	if len(body) < need {
		return nil, fmt.Errorf("%w: need %d data bytes, have %d", ErrShortRecord, need, len(body))
	}
	ev.Data = body[:need]
	return &ev, nil
}
