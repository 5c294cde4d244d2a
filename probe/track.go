package probe

import "sync"

// PIDTracker maps a process id to its first-observed timestamp. An entry
// exists while the process's name matched the target at its most recent exec
// and it has not yet exited. Membership gates the connect, write, and exit
// handlers.
type PIDTracker struct {
	mu       sync.RWMutex
	firstTS  map[uint32]uint64
	capacity int
}

// NewPIDTracker returns a tracker bounded to capacity entries.
func NewPIDTracker(capacity int) *PIDTracker {
	return &PIDTracker{
		firstTS:  make(map[uint32]uint64, capacity),
		capacity: capacity,
	}
}

// Mark inserts or overwrites the entry for pid. At capacity, inserts of new
// pids fail silently; overwrites of existing pids still succeed.
func (t *PIDTracker) Mark(pid uint32, ts uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.firstTS[pid]; !ok && len(t.firstTS) >= t.capacity {
		return
	}
	t.firstTS[pid] = ts
}

// IsTracked reports whether pid currently has an entry.
func (t *PIDTracker) IsTracked(pid uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.firstTS[pid]
	return ok
}

// Unmark removes the entry for pid. Removing an absent pid is a no-op.
func (t *PIDTracker) Unmark(pid uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.firstTS, pid)
}

// Len returns the current entry count.
func (t *PIDTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.firstTS)
}

// SocketInfo is the correlation state recorded at connect time and read back
// when a write on the same descriptor is parsed as HTTP.
type SocketInfo struct {
	PID         uint32
	TargetAddr  uint32 // network byte order as captured
	TargetPort  uint16 // host byte order
	ConnectTime uint64
}

// SocketTracker maps a process-local socket descriptor to its destination.
// Entries are created only for destinations matching the interesting-port
// heuristic and are never removed: descriptor reuse overwrites, and an entry
// otherwise persists for the life of the program. The fixed capacity bounds
// the retention.
type SocketTracker struct {
	mu       sync.RWMutex
	byFD     map[uint32]SocketInfo
	capacity int
}

// NewSocketTracker returns a tracker bounded to capacity entries.
func NewSocketTracker(capacity int) *SocketTracker {
	return &SocketTracker{
		byFD:     make(map[uint32]SocketInfo, capacity),
		capacity: capacity,
	}
}

// Track inserts or overwrites the entry for fd. At capacity, inserts of new
// descriptors fail silently.
func (t *SocketTracker) Track(fd uint32, info SocketInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byFD[fd]; !ok && len(t.byFD) >= t.capacity {
		return
	}
	t.byFD[fd] = info
}

// Lookup returns the entry for fd, if any.
func (t *SocketTracker) Lookup(fd uint32) (SocketInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.byFD[fd]
	return info, ok
}

// Len returns the current entry count.
func (t *SocketTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byFD)
}

// DestinationIsInteresting is the heuristic deciding whether a connect
// destination is worth correlating for HTTP parsing. It is deliberately
// coarse: port 80 or 443, address accepted unexamined.
func DestinationIsInteresting(addr uint32, port uint16) bool {
	_ = addr
	return port == 80 || port == 443
}
