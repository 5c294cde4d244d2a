package probe

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProbe(t *testing.T, ringCap int) *Probe {
	t.Helper()
	var tick uint64
	return New(Config{
		TargetComm:   "claude",
		RingCapacity: ringCap,
		Clock: func() uint64 {
			tick++
			return tick
		},
	})
}

func comm(s string) (c [MaxCommLen]byte) {
	copy(c[:], s)
	return c
}

// sockaddrIn builds the first 8 bytes of a sockaddr_in: family, port in
// network order, address in network order.
func sockaddrIn(family uint16, port uint16, addr [4]byte) Memory {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b[0:2], family)
	binary.BigEndian.PutUint16(b[2:4], port)
	copy(b[4:8], addr[:])
	return MemoryFromBytes(b)
}

func drain(t *testing.T, p *Probe) EventRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	rec, err := p.Events().Next(ctx)
	require.NoError(t, err)
	return rec
}

func execClaude(p *Probe, pid uint32) {
	p.HandleExec(ExecInfo{
		PID:  pid,
		PPID: 1,
		UID:  1000,
		Comm: comm("claude"),
		Path: MemoryFromBytes([]byte("/usr/local/bin/claude\x00")),
	})
}

func TestExecFiltersNonTargetNames(t *testing.T) {
	p := testProbe(t, 16)

	for _, name := range []string{"bash", "claud", "claudex", "claude2", "CLAUDE", ""} {
		p.HandleExec(ExecInfo{PID: 100, Comm: comm(name)})
	}

	assert.Equal(t, 0, p.Events().Pending(), "non-target execs emit nothing")
	assert.False(t, p.pids.IsTracked(100))
	assert.Zero(t, p.Counters().Sum(CounterExecCalls))
}

func TestExecEmitsAndMarks(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)

	rec := drain(t, p)
	assert.Equal(t, uint32(EventExec), rec.EventType)
	assert.Equal(t, uint32(100), rec.PID)
	assert.Equal(t, uint32(1), rec.PPID)
	assert.Equal(t, uint32(1000), rec.UID)
	assert.Equal(t, "claude", rec.CommString())
	assert.Equal(t, "/usr/local/bin/claude", rec.PathString())
	assert.NotZero(t, rec.Timestamp)

	assert.True(t, p.pids.IsTracked(100))
	assert.Equal(t, uint64(1), p.Counters().Sum(CounterExecCalls))
	assert.Equal(t, uint64(1), p.Counters().Sum(CounterEventsProcessed))
}

func TestExecTwiceKeepsOneEntry(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	first := p.pids.firstTS[100]
	execClaude(p, 100)

	assert.Equal(t, 1, p.pids.Len(), "re-exec must not duplicate the entry")
	assert.Greater(t, p.pids.firstTS[100], first, "re-exec refreshes the timestamp")
	assert.Equal(t, 2, p.Events().Pending(), "each matching exec still emits")
}

func TestUntrackedPIDIsIgnoredEverywhere(t *testing.T) {
	p := testProbe(t, 16)

	p.HandleConnect(ConnectInfo{PID: 42, FD: 3, Sockaddr: sockaddrIn(afInet, 443, [4]byte{1, 2, 3, 4})})
	p.HandleWrite(WriteInfo{PID: 42, FD: 3, Buf: MemoryFromBytes([]byte("GET /v1/messages HTTP/1.1\r\n\r\n"))})
	p.HandleExit(ExitInfo{PID: 42})

	assert.Equal(t, 0, p.Events().Pending())
	assert.Equal(t, 0, p.socks.Len())
	assert.Zero(t, p.Counters().Sum(CounterConnectCalls))
}

func TestConnectInterestingPortCorrelates(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)

	p.HandleConnect(ConnectInfo{
		PID:      100,
		UID:      1000,
		Comm:     comm("claude"),
		FD:       7,
		Sockaddr: sockaddrIn(afInet, 443, [4]byte{160, 79, 104, 10}),
	})

	rec := drain(t, p)
	assert.Equal(t, uint32(EventConnect), rec.EventType)
	assert.Equal(t, uint16(443), rec.TargetPort, "port converted to host order")
	wantAddr := binary.LittleEndian.Uint32([]byte{160, 79, 104, 10})
	assert.Equal(t, wantAddr, rec.TargetAddr, "address kept as captured")

	sock, ok := p.socks.Lookup(7)
	require.True(t, ok, "port 443 destination must be correlated")
	assert.Equal(t, uint32(100), sock.PID)
	assert.Equal(t, uint16(443), sock.TargetPort)
}

func TestConnectUninterestingPortEmitsWithoutCorrelating(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)

	p.HandleConnect(ConnectInfo{
		PID:      100,
		FD:       7,
		Sockaddr: sockaddrIn(afInet, 8080, [4]byte{10, 0, 0, 1}),
	})

	rec := drain(t, p)
	assert.Equal(t, uint32(EventConnect), rec.EventType)
	assert.Equal(t, uint16(8080), rec.TargetPort)
	_, ok := p.socks.Lookup(7)
	assert.False(t, ok, "port 8080 must not be correlated")
}

func TestConnectNonIPv4Ignored(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)

	p.HandleConnect(ConnectInfo{
		PID:      100,
		FD:       7,
		Sockaddr: sockaddrIn(10 /* AF_INET6 */, 443, [4]byte{0, 0, 0, 0}),
	})

	assert.Equal(t, 0, p.Events().Pending())
	assert.Equal(t, uint64(1), p.Counters().Sum(CounterConnectCalls),
		"the connect counter covers all tracked connects, IPv4 or not")
}

func TestConnectSockaddrFaultDiscardsReservation(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)

	// Family readable, address/port unreadable.
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b[0:2], afInet)
	p.HandleConnect(ConnectInfo{PID: 100, FD: 7, Sockaddr: faultingMemory{b: b, faultAt: 2}})

	assert.Equal(t, 0, p.Events().Pending(), "faulted connect publishes nothing")
	// The discarded slot must be reusable.
	for i := 0; i < p.Events().Capacity(); i++ {
		res := p.Events().Reserve()
		require.NotNil(t, res, "slot %d", i)
		res.Discard()
	}
}

func TestWriteHTTPRequestFlow(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)
	p.HandleConnect(ConnectInfo{
		PID:      100,
		FD:       7,
		Sockaddr: sockaddrIn(afInet, 443, [4]byte{160, 79, 104, 10}),
	})
	drain(t, p)

	payload := "GET /v1/messages HTTP/1.1\r\nContent-Length: 42\r\n\r\n"
	p.HandleWrite(WriteInfo{
		PID:  100,
		UID:  1000,
		Comm: comm("claude"),
		FD:   7,
		Buf:  MemoryFromBytes([]byte(payload)),
	})

	rec := drain(t, p)
	assert.Equal(t, uint32(EventHTTPRequest), rec.EventType)
	assert.Equal(t, "GET", rec.MethodString())
	assert.Equal(t, "/v1/messages", rec.URIString())
	assert.Equal(t, uint32(42), rec.ContentLength)
	assert.Equal(t, uint32(7), rec.SocketFD)
	assert.Equal(t, uint16(443), rec.TargetPort, "destination carried from correlation")
	wantAddr := binary.LittleEndian.Uint32([]byte{160, 79, 104, 10})
	assert.Equal(t, wantAddr, rec.TargetAddr)
	assert.Equal(t, uint64(1), p.Counters().Sum(CounterHTTPRequests))
}

func TestWriteGates(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)
	p.HandleConnect(ConnectInfo{PID: 100, FD: 7, Sockaddr: sockaddrIn(afInet, 443, [4]byte{1, 2, 3, 4})})
	drain(t, p)

	valid := "GET /v1/messages HTTP/1.1\r\n\r\n"

	t.Run("uncorrelated descriptor", func(t *testing.T) {
		p.HandleWrite(WriteInfo{PID: 100, FD: 9, Buf: MemoryFromBytes([]byte(valid))})
		assert.Equal(t, 0, p.Events().Pending())
	})
	t.Run("too short", func(t *testing.T) {
		p.HandleWrite(WriteInfo{PID: 100, FD: 7, Buf: MemoryFromBytes([]byte("GET / HTTP/1.1"))})
		assert.Equal(t, 0, p.Events().Pending())
	})
	t.Run("too long", func(t *testing.T) {
		big := make([]byte, HTTPHeaderWindow+1)
		copy(big, valid)
		p.HandleWrite(WriteInfo{PID: 100, FD: 7, Buf: MemoryFromBytes(big)})
		assert.Equal(t, 0, p.Events().Pending())
	})
	t.Run("no space in first eight bytes", func(t *testing.T) {
		p.HandleWrite(WriteInfo{PID: 100, FD: 7, Buf: MemoryFromBytes([]byte("BINARYJUNKBINARYJUNK"))})
		assert.Equal(t, 0, p.Events().Pending())
	})
	t.Run("method shorter than three bytes", func(t *testing.T) {
		p.HandleWrite(WriteInfo{PID: 100, FD: 7, Buf: MemoryFromBytes([]byte("AB /v1/messages HTTP/1.1"))})
		assert.Equal(t, 0, p.Events().Pending())
	})

	assert.Zero(t, p.Counters().Sum(CounterHTTPRequests))
}

func TestExitEmitsUnmarksAndIsIdempotent(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	drain(t, p)

	p.HandleExit(ExitInfo{PID: 100, ExitCode: 3, Comm: comm("claude")})

	rec := drain(t, p)
	assert.Equal(t, uint32(EventExit), rec.EventType)
	assert.Equal(t, int32(3), rec.ExitCode)
	assert.False(t, p.pids.IsTracked(100))

	// Second exit for the same pid: gated out, nothing emitted, no error.
	p.HandleExit(ExitInfo{PID: 100, ExitCode: 3})
	assert.Equal(t, 0, p.Events().Pending())
	assert.Equal(t, 0, p.pids.Len())
}

func TestExitUnmarksEvenWhenRingFull(t *testing.T) {
	p := testProbe(t, 1)
	execClaude(p, 100)
	// Ring now holds the exec record and is full.

	p.HandleExit(ExitInfo{PID: 100})

	assert.False(t, p.pids.IsTracked(100), "cleanup must not depend on reservation")
	assert.Equal(t, uint64(1), p.Counters().Sum(CounterEventsDropped))
}

func TestRingExhaustionCountsDrops(t *testing.T) {
	p := testProbe(t, 2)
	execClaude(p, 100)
	execClaude(p, 101)
	execClaude(p, 102) // no slot left

	assert.Equal(t, uint64(1), p.Counters().Sum(CounterEventsDropped))
	assert.Equal(t, uint64(2), p.Counters().Sum(CounterEventsProcessed))
	// The dropped exec still marked the pid? No: reservation failed before
	// Mark, so pid 102 is not tracked. Pin that ordering.
	assert.False(t, p.pids.IsTracked(102))
}

func TestEmittedRecordsAlwaysValid(t *testing.T) {
	p := testProbe(t, 16)
	execClaude(p, 100)
	p.HandleConnect(ConnectInfo{PID: 100, FD: 7, Sockaddr: sockaddrIn(afInet, 80, [4]byte{1, 2, 3, 4})})
	p.HandleWrite(WriteInfo{PID: 100, FD: 7, Buf: MemoryFromBytes([]byte("POST /v1/complete HTTP/1.1\r\n\r\n"))})
	p.HandleExit(ExitInfo{PID: 100})

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		rec, err := p.Events().Next(ctx)
		require.NoError(t, err)
		assert.NotZero(t, rec.Timestamp, "record %d", i)
		assert.GreaterOrEqual(t, rec.EventType, uint32(EventExec))
		assert.LessOrEqual(t, rec.EventType, uint32(EventHTTPRequest))
	}
}
