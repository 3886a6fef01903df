// Package bpf defines the wire format of HTTP/2 header events shared between
// the probe pipeline and its consumers.
//
// The layout matches the socket data records of the kernel-side tracer, so a
// consumer can read events produced in-kernel and in-process the same way.
package bpf

// Message kinds, event directions, protocol and source tags.
//
//nolint:revive,staticcheck // ALL_CAPS naming matches C/kernel conventions
const (
	MSG_UNKNOWN      MessageType = 0
	MSG_REQUEST      MessageType = 1
	MSG_RESPONSE     MessageType = 2
	MSG_REQUEST_END  MessageType = 3
	MSG_RESPONSE_END MessageType = 4

	T_EGRESS  Direction = 0
	T_INGRESS Direction = 1

	PROTO_HTTP2     Protocol = 21
	PROTO_TLS_HTTP2 Protocol = 23

	SOURCE_GO_HTTP2_UPROBE = 2

	IPPROTO_TCP = 6
	IPPROTO_UDP = 17
)

// MessageType is the role of an event within a header batch.
type MessageType uint8

// End returns the terminal marker kind of a batch of kind t.
func (t MessageType) End() MessageType {
	switch t {
	case MSG_REQUEST, MSG_RESPONSE:
		return t + 2
	default:
		return t
	}
}

// IsEnd reports whether t marks the end of a header batch.
func (t MessageType) IsEnd() bool {
	return t == MSG_REQUEST_END || t == MSG_RESPONSE_END
}

func (t MessageType) String() string {
	switch t {
	case MSG_REQUEST:
		return "request"
	case MSG_RESPONSE:
		return "response"
	case MSG_REQUEST_END:
		return "request_end"
	case MSG_RESPONSE_END:
		return "response_end"
	default:
		return "unknown"
	}
}

// Direction is the data flow relative to the traced process.
type Direction uint8

func (d Direction) String() string {
	if d == T_INGRESS {
		return "ingress"
	}
	return "egress"
}

// Protocol tags the application protocol of the socket.
type Protocol uint8

func (p Protocol) String() string {
	switch p {
	case PROTO_HTTP2:
		return "http2"
	case PROTO_TLS_HTTP2:
		return "http2+tls"
	default:
		return "unknown"
	}
}

// ProtocolFor returns the protocol tag for a plain or TLS connection.
func ProtocolFor(tls bool) Protocol {
	if tls {
		return PROTO_TLS_HTTP2
	}
	return PROTO_HTTP2
}
