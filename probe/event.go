// Package probe implements the event-capture core: the process identity
// filter, the socket-to-connection correlation tracker, the bounded HTTP
// request parser, the event ring, and the four hook handlers that tie them
// together. The package holds no host dependencies; raw kernel notifications
// are fed in by the hooks layer and records come out on the ring.
package probe

import (
	"bytes"
	"encoding/binary"
	"io"
	"time"
)

// Event type values as they appear on the wire.
const (
	EventExec        = 1
	EventConnect     = 2
	EventExit        = 3
	EventHTTPRequest = 4
)

// Fixed field capacities of the event record. These are part of the wire
// layout and must not change without coordinating with every consumer.
const (
	MaxCommLen       = 16
	MaxPathLen       = 256
	MaxHTTPMethodLen = 8
	MaxHTTPURILen    = 128
)

// Capture limits.
const (
	// MaxTrackedProcs bounds the identity tracker. Inserts past this
	// limit are dropped silently.
	MaxTrackedProcs = 1024

	// MaxTrackedSockets bounds the socket correlation tracker.
	MaxTrackedSockets = 2048

	// DefaultRingBytes is the memory budget for the event ring.
	// DefaultRingCapacity is how many records fit in it; producers start
	// dropping once that many are in flight.
	DefaultRingBytes    = 256 * 1024
	DefaultRingCapacity = DefaultRingBytes / EventRecordSize

	// HTTPHeaderWindow is the largest write we attempt to parse. Writes
	// shorter than MinHTTPWriteLen or longer than this are ignored.
	HTTPHeaderWindow = 512
	MinHTTPWriteLen  = 16

	// InactivityTimeout is the session inactivity bound. The capture core
	// defines it but does not enforce it; the consumer applies it.
	InactivityTimeout = 5 * time.Minute
)

// EventRecord is the single fixed-layout record handed to the consumer. All
// variants share the layout; fields a variant does not use are zero. The
// field order and sizes are the wire contract: encoded little-endian with no
// padding, 450 bytes total.
type EventRecord struct {
	Timestamp     uint64
	PID           uint32
	PPID          uint32
	UID           uint32
	EventType     uint32
	TargetAddr    uint32 // IPv4, network byte order as captured
	TargetPort    uint16 // host byte order
	ExitCode      int32
	Comm          [MaxCommLen]byte
	Path          [MaxPathLen]byte
	HTTPMethod    [MaxHTTPMethodLen]byte
	HTTPURI       [MaxHTTPURILen]byte
	ContentLength uint32
	SocketFD      uint32
}

// EventRecordSize is the encoded size of an EventRecord in bytes.
const EventRecordSize = 8 + 4 + 4 + 4 + 4 + 4 + 2 + 4 +
	MaxCommLen + MaxPathLen + MaxHTTPMethodLen + MaxHTTPURILen + 4 + 4

// Encode writes the record in its packed wire layout.
func (e *EventRecord) Encode(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, e)
}

// Marshal returns the packed wire form of the record.
func (e *EventRecord) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, EventRecordSize))
	binary.Write(buf, binary.LittleEndian, e)
	return buf.Bytes()
}

// DecodeEvent parses a packed record as produced by Encode.
func DecodeEvent(data []byte) (EventRecord, error) {
	var e EventRecord
	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &e)
	return e, err
}

// TypeString returns a human-readable name for the record's event type.
func (e *EventRecord) TypeString() string {
	switch e.EventType {
	case EventExec:
		return "exec"
	case EventConnect:
		return "connect"
	case EventExit:
		return "exit"
	case EventHTTPRequest:
		return "http_request"
	default:
		return "unknown"
	}
}

// CommString returns the command name, truncated at the first NUL.
func (e *EventRecord) CommString() string { return cString(e.Comm[:]) }

// PathString returns the executable path, truncated at the first NUL.
func (e *EventRecord) PathString() string { return cString(e.Path[:]) }

// MethodString returns the HTTP method, truncated at the first NUL.
func (e *EventRecord) MethodString() string { return cString(e.HTTPMethod[:]) }

// URIString returns the HTTP URI, truncated at the first NUL.
func (e *EventRecord) URIString() string { return cString(e.HTTPURI[:]) }

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
