//go:build linux

package hooks

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/clitap/clitap/probe"
)

// errReadFault marks traced memory that could not be read: unmapped pages, a
// process that exited between the notification and the read, or a buffer
// racing with the process's own writes.
var errReadFault = errors.New("hooks: traced process memory unreadable")

// snapWindow caps how much of a window is pulled in one transfer. Nothing in
// the probe reads past the HTTP header window.
const snapWindow = probe.HTTPHeaderWindow

type procMemoryOpener struct{}

func (procMemoryOpener) open(pid uint32, addr uint64, size int) probe.Memory {
	return &procMemory{pid: int(pid), addr: addr, size: size}
}

// procMemory is a lazily snapshotted window over another process's address
// space, read with process_vm_readv. The snapshot is taken on first access;
// bytes the kernel would not hand over fault on every read, which the
// probe's scans treat as an abort. A window is used by a single dispatch and
// is not safe for concurrent use.
type procMemory struct {
	pid  int
	addr uint64
	size int

	fetched bool
	snap    []byte
}

func (m *procMemory) Len() int { return m.size }

func (m *procMemory) ReadByte(off int) (byte, error) {
	if off < 0 || off >= m.size {
		return 0, probe.ErrOutOfRange
	}
	if !m.fetched {
		m.fetch()
	}
	if off >= len(m.snap) {
		return 0, errReadFault
	}
	return m.snap[off], nil
}

func (m *procMemory) fetch() {
	m.fetched = true

	n := m.size
	if n > snapWindow {
		n = snapWindow
	}
	if n <= 0 {
		return
	}

	buf := make([]byte, n)
	local := []unix.Iovec{{Base: &buf[0], Len: uint64(n)}}
	remote := []unix.RemoteIovec{{Base: uintptr(m.addr), Len: n}}

	nr, err := unix.ProcessVMReadv(m.pid, local, remote, 0)
	if err != nil || nr <= 0 {
		// Leave snap empty; every read will report a fault.
		return
	}
	m.snap = buf[:nr]
}
