package probe

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventRecordWireSize(t *testing.T) {
	assert.Equal(t, 450, EventRecordSize)
	assert.Equal(t, EventRecordSize, binary.Size(EventRecord{}),
		"the Go struct must encode without padding")

	var e EventRecord
	assert.Len(t, e.Marshal(), EventRecordSize)
}

func TestEventRecordRoundTrip(t *testing.T) {
	e := EventRecord{
		Timestamp:     123456789,
		PID:           4242,
		PPID:          1,
		UID:           1000,
		EventType:     EventHTTPRequest,
		TargetAddr:    0x0a68_4fa0,
		TargetPort:    443,
		ExitCode:      -1,
		Comm:          comm("claude"),
		ContentLength: 42,
		SocketFD:      7,
	}
	copy(e.Path[:], "/usr/local/bin/claude")
	copy(e.HTTPMethod[:], "POST")
	copy(e.HTTPURI[:], "/v1/messages")

	got, err := DecodeEvent(e.Marshal())
	require.NoError(t, err)
	assert.Equal(t, e, got)
	assert.Equal(t, "POST", got.MethodString())
	assert.Equal(t, "/v1/messages", got.URIString())
	assert.Equal(t, "http_request", got.TypeString())
}

func TestEventRecordFieldOffsets(t *testing.T) {
	// Field positions are the wire contract; pin a few.
	e := EventRecord{
		Timestamp:  0x1111111111111111,
		PID:        0x22222222,
		TargetPort: 0x3333,
		ExitCode:   0x44444444,
		SocketFD:   0x55555555,
	}
	e.Comm[0] = 0x66
	b := e.Marshal()

	assert.Equal(t, uint64(0x1111111111111111), binary.LittleEndian.Uint64(b[0:8]))
	assert.Equal(t, uint32(0x22222222), binary.LittleEndian.Uint32(b[8:12]))
	assert.Equal(t, uint16(0x3333), binary.LittleEndian.Uint16(b[28:30]))
	assert.Equal(t, uint32(0x44444444), binary.LittleEndian.Uint32(b[30:34]))
	assert.Equal(t, byte(0x66), b[34], "comm starts at offset 34")
	assert.Equal(t, uint32(0x55555555), binary.LittleEndian.Uint32(b[446:450]))
}

func TestDecodeEventShortBuffer(t *testing.T) {
	_, err := DecodeEvent(bytes.Repeat([]byte{0}, EventRecordSize-1))
	assert.Error(t, err)
}

func TestTypeStrings(t *testing.T) {
	for want, typ := range map[string]uint32{
		"exec": EventExec, "connect": EventConnect,
		"exit": EventExit, "http_request": EventHTTPRequest,
	} {
		e := EventRecord{EventType: typ}
		assert.Equal(t, want, e.TypeString())
	}
	e := EventRecord{EventType: 99}
	assert.Equal(t, "unknown", e.TypeString())
}
