package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPIDTrackerBasics(t *testing.T) {
	tr := NewPIDTracker(4)

	assert.False(t, tr.IsTracked(1))
	tr.Mark(1, 100)
	assert.True(t, tr.IsTracked(1))
	assert.Equal(t, 1, tr.Len())

	tr.Mark(1, 200) // overwrite, not duplicate
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, uint64(200), tr.firstTS[1])

	tr.Unmark(1)
	assert.False(t, tr.IsTracked(1))
	tr.Unmark(1) // idempotent
	assert.Equal(t, 0, tr.Len())
}

func TestPIDTrackerCapacity(t *testing.T) {
	tr := NewPIDTracker(2)
	tr.Mark(1, 1)
	tr.Mark(2, 2)
	tr.Mark(3, 3) // silently dropped
	assert.Equal(t, 2, tr.Len())
	assert.False(t, tr.IsTracked(3))

	// Overwriting an existing entry still works at capacity.
	tr.Mark(2, 20)
	assert.Equal(t, uint64(20), tr.firstTS[2])

	// Space freed by an exit is usable again.
	tr.Unmark(1)
	tr.Mark(3, 3)
	assert.True(t, tr.IsTracked(3))
}

func TestSocketTrackerBasics(t *testing.T) {
	tr := NewSocketTracker(4)

	_, ok := tr.Lookup(7)
	assert.False(t, ok)

	info := SocketInfo{PID: 100, TargetAddr: 0x0a68_4fa0, TargetPort: 443, ConnectTime: 5}
	tr.Track(7, info)
	got, ok := tr.Lookup(7)
	assert.True(t, ok)
	assert.Equal(t, info, got)

	// Descriptor reuse overwrites.
	tr.Track(7, SocketInfo{PID: 100, TargetPort: 80, ConnectTime: 9})
	got, _ = tr.Lookup(7)
	assert.Equal(t, uint16(80), got.TargetPort)
	assert.Equal(t, 1, tr.Len())
}

func TestSocketTrackerCapacity(t *testing.T) {
	tr := NewSocketTracker(2)
	tr.Track(1, SocketInfo{})
	tr.Track(2, SocketInfo{})
	tr.Track(3, SocketInfo{})
	assert.Equal(t, 2, tr.Len())
	_, ok := tr.Lookup(3)
	assert.False(t, ok)
}

func TestDestinationIsInteresting(t *testing.T) {
	assert.True(t, DestinationIsInteresting(0, 80))
	assert.True(t, DestinationIsInteresting(0xffffffff, 443))
	assert.False(t, DestinationIsInteresting(0, 8080))
	assert.False(t, DestinationIsInteresting(0, 8443))
	assert.False(t, DestinationIsInteresting(0, 0))
}
