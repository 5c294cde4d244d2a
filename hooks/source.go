// Package hooks is the boundary to the kernel: it loads and attaches the
// tracepoint shims, drains their ring buffer, and dispatches each raw
// notification into the probe's handlers. The shims themselves do nothing
// but forward syscall arguments; all filtering and parsing happens in the
// probe.
package hooks

import (
	"bytes"
	"encoding/binary"

	"github.com/clitap/clitap/probe"
)

// Raw notification kinds as written by the shims.
const (
	rawExec    = 1
	rawConnect = 2
	rawExit    = 3
	rawWrite   = 4
)

// RawEvent mirrors the fixed record each shim pushes. Args carries the
// syscall arguments the shim saw: exec uses Args[0] as the filename pointer;
// connect uses fd, sockaddr pointer; write uses fd, buffer pointer, count;
// exit uses Args[0] as the exit code.
type RawEvent struct {
	Kind uint32
	PID  uint32
	PPID uint32
	UID  uint32
	Comm [probe.MaxCommLen]byte
	Args [3]uint64
}

// decodeRawEvent parses a ring buffer sample.
func decodeRawEvent(sample []byte) (RawEvent, error) {
	var ev RawEvent
	err := binary.Read(bytes.NewReader(sample), binary.LittleEndian, &ev)
	return ev, err
}

// sockaddrInLen is how much of the sockaddr structure the connect handler
// needs: family, port, and the IPv4 address.
const sockaddrInLen = 8

// dispatch routes one raw notification into the probe. Memory windows over
// the traced process's address space are bound here so the probe's safe
// reads resolve against the right pid.
func dispatch(p *probe.Probe, ev RawEvent, mem memoryOpener) {
	switch ev.Kind {
	case rawExec:
		var path probe.Memory
		if ev.Args[0] != 0 {
			path = mem.open(ev.PID, ev.Args[0], probe.MaxPathLen)
		}
		p.HandleExec(probe.ExecInfo{
			PID:  ev.PID,
			PPID: ev.PPID,
			UID:  ev.UID,
			Comm: ev.Comm,
			Path: path,
		})
	case rawConnect:
		var sa probe.Memory
		if ev.Args[1] != 0 {
			sa = mem.open(ev.PID, ev.Args[1], sockaddrInLen)
		}
		p.HandleConnect(probe.ConnectInfo{
			PID:      ev.PID,
			UID:      ev.UID,
			Comm:     ev.Comm,
			FD:       uint32(ev.Args[0]),
			Sockaddr: sa,
		})
	case rawWrite:
		var buf probe.Memory
		if ev.Args[1] != 0 {
			buf = mem.open(ev.PID, ev.Args[1], int(ev.Args[2]))
		}
		p.HandleWrite(probe.WriteInfo{
			PID:  ev.PID,
			UID:  ev.UID,
			Comm: ev.Comm,
			FD:   uint32(ev.Args[0]),
			Buf:  buf,
		})
	case rawExit:
		p.HandleExit(probe.ExitInfo{
			PID:      ev.PID,
			ExitCode: int32(ev.Args[0]),
			Comm:     ev.Comm,
		})
	}
}

// memoryOpener binds a window over a traced process's address space.
type memoryOpener interface {
	open(pid uint32, addr uint64, size int) probe.Memory
}
