package probe

import "time"

// afInet is the IPv4 address family value in sockaddr.sin_family.
const afInet = 2

// minMethodLen rejects request lines whose method is shorter than "GET".
const minMethodLen = 3

// Config sets the probe's compile-time-style limits. Zero values take the
// package defaults.
type Config struct {
	// TargetComm is the process name the exec filter matches exactly.
	TargetComm string

	MaxProcs     int
	MaxSockets   int
	RingCapacity int

	// Clock supplies monotonic nanosecond timestamps. Defaults to wall
	// clock nanoseconds.
	Clock func() uint64
}

// Probe owns the capture state machine. Its four Handle methods are invoked
// by the hooks layer, potentially concurrently for distinct processes; each
// runs to completion without blocking and absorbs every failure locally.
// Nothing a handler does is ever surfaced to the traced process.
type Probe struct {
	targetComm string
	pids       *PIDTracker
	socks      *SocketTracker
	counters   *CounterBank
	ring       *EventRing
	now        func() uint64
}

// New builds a probe from cfg.
func New(cfg Config) *Probe {
	if cfg.MaxProcs <= 0 {
		cfg.MaxProcs = MaxTrackedProcs
	}
	if cfg.MaxSockets <= 0 {
		cfg.MaxSockets = MaxTrackedSockets
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = DefaultRingCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = func() uint64 { return uint64(time.Now().UnixNano()) }
	}
	return &Probe{
		targetComm: cfg.TargetComm,
		pids:       NewPIDTracker(cfg.MaxProcs),
		socks:      NewSocketTracker(cfg.MaxSockets),
		counters:   &CounterBank{},
		ring:       NewEventRing(cfg.RingCapacity),
		now:        cfg.Clock,
	}
}

// Events returns the ring the consumer drains.
func (p *Probe) Events() *EventRing { return p.ring }

// Counters returns the probe's counter bank.
func (p *Probe) Counters() *CounterBank { return p.counters }

// ExecInfo carries the raw arguments of a process-image-replacement
// notification.
type ExecInfo struct {
	PID  uint32
	PPID uint32
	UID  uint32
	Comm [MaxCommLen]byte

	// Path is a window over the executable path argument in the traced
	// process's address space. May be nil when the host could not map it.
	Path Memory
}

// ConnectInfo carries the raw arguments of a connect notification.
type ConnectInfo struct {
	PID  uint32
	UID  uint32
	Comm [MaxCommLen]byte
	FD   uint32

	// Sockaddr is a window over the destination sockaddr_in structure.
	Sockaddr Memory
}

// WriteInfo carries the raw arguments of a write notification.
type WriteInfo struct {
	PID  uint32
	UID  uint32
	Comm [MaxCommLen]byte
	FD   uint32

	// Buf is a window over the write buffer; Buf.Len() is the write count.
	Buf Memory
}

// ExitInfo carries the raw arguments of a process-termination notification.
type ExitInfo struct {
	PID      uint32
	ExitCode int32
	Comm     [MaxCommLen]byte
}

// HandleExec filters for the target process name, marks the pid as tracked,
// and emits an EXEC record.
func (p *Probe) HandleExec(info ExecInfo) {
	ts := p.now()

	if !p.matchesTarget(info.Comm) {
		return
	}
	p.counters.Inc(CounterExecCalls, info.PID)

	res := p.ring.Reserve()
	if res == nil {
		p.counters.Inc(CounterEventsDropped, info.PID)
		return
	}

	ev := res.Event
	ev.Timestamp = ts
	ev.PID = info.PID
	ev.PPID = info.PPID
	ev.UID = info.UID
	ev.EventType = EventExec
	ev.Comm = info.Comm
	if info.Path != nil {
		copyCString(ev.Path[:], info.Path)
	}

	// Repeated matching execs for the same pid overwrite the timestamp;
	// the map never holds two entries for one pid.
	p.pids.Mark(info.PID, ts)

	res.Submit()
	p.counters.Inc(CounterEventsProcessed, info.PID)
}

// HandleConnect emits a CONNECT record for tracked processes and, when the
// destination matches the interesting-port heuristic, correlates the socket
// descriptor for later HTTP parsing.
func (p *Probe) HandleConnect(info ConnectInfo) {
	if !p.pids.IsTracked(info.PID) {
		return
	}
	p.counters.Inc(CounterConnectCalls, info.PID)
	ts := p.now()

	if info.Sockaddr == nil {
		return
	}
	family, ok := readUint16LE(info.Sockaddr, 0)
	if !ok || family != afInet {
		return
	}

	res := p.ring.Reserve()
	if res == nil {
		p.counters.Inc(CounterEventsDropped, info.PID)
		return
	}

	ev := res.Event
	ev.Timestamp = ts
	ev.PID = info.PID
	ev.UID = info.UID
	ev.EventType = EventConnect
	ev.Comm = info.Comm

	// The address stays in network byte order as captured; the port is
	// converted to host order here. A fault on either read abandons the
	// reservation unpublished.
	addr, okAddr := readUint32LE(info.Sockaddr, 4)
	port, okPort := readUint16BE(info.Sockaddr, 2)
	if !okAddr || !okPort {
		res.Discard()
		return
	}
	ev.TargetAddr = addr
	ev.TargetPort = port

	if DestinationIsInteresting(addr, port) {
		p.socks.Track(info.FD, SocketInfo{
			PID:         info.PID,
			TargetAddr:  addr,
			TargetPort:  port,
			ConnectTime: ts,
		})
	}

	res.Submit()
	p.counters.Inc(CounterEventsProcessed, info.PID)
}

// HandleWrite attempts to parse an HTTP request line from a write on a
// correlated socket and emits an HTTP_REQUEST record on success. Parse
// failures are silent: no record, no counter beyond the gates already
// passed.
func (p *Probe) HandleWrite(info WriteInfo) {
	if !p.pids.IsTracked(info.PID) {
		return
	}
	sock, ok := p.socks.Lookup(info.FD)
	if !ok {
		return
	}
	if info.Buf == nil {
		return
	}
	n := info.Buf.Len()
	if n < MinHTTPWriteLen || n > HTTPHeaderWindow {
		return
	}
	ts := p.now()

	method, ok := ExtractMethod(info.Buf)
	if !ok || len(method) < minMethodLen {
		return
	}
	uri, ok := ExtractURI(info.Buf, len(method))
	if !ok {
		return
	}
	contentLength := ExtractContentLength(info.Buf)

	p.counters.Inc(CounterHTTPRequests, info.PID)

	res := p.ring.Reserve()
	if res == nil {
		p.counters.Inc(CounterEventsDropped, info.PID)
		return
	}

	ev := res.Event
	ev.Timestamp = ts
	ev.PID = info.PID
	ev.UID = info.UID
	ev.EventType = EventHTTPRequest
	ev.TargetAddr = sock.TargetAddr
	ev.TargetPort = sock.TargetPort
	ev.SocketFD = info.FD
	ev.ContentLength = contentLength
	ev.Comm = info.Comm
	copy(ev.HTTPMethod[:], method)
	copy(ev.HTTPURI[:], uri)

	res.Submit()
	p.counters.Inc(CounterEventsProcessed, info.PID)
}

// HandleExit emits an EXIT record and unmarks the pid. The unmark happens
// even when the ring is full so the identity map cannot leak entries.
func (p *Probe) HandleExit(info ExitInfo) {
	if !p.pids.IsTracked(info.PID) {
		return
	}

	res := p.ring.Reserve()
	if res == nil {
		p.pids.Unmark(info.PID)
		p.counters.Inc(CounterEventsDropped, info.PID)
		return
	}

	ev := res.Event
	ev.Timestamp = p.now()
	ev.PID = info.PID
	ev.EventType = EventExit
	ev.ExitCode = info.ExitCode
	ev.Comm = info.Comm

	p.pids.Unmark(info.PID)

	res.Submit()
	p.counters.Inc(CounterEventsProcessed, info.PID)
}

// matchesTarget compares the fixed comm field against the target literal,
// exact match up to the first NUL.
func (p *Probe) matchesTarget(comm [MaxCommLen]byte) bool {
	return cString(comm[:]) == p.targetComm
}

// copyCString copies bytes from src into dst until dst is one byte short of
// full, a NUL is seen, or a read faults, then NUL-terminates. Whatever was
// copied before a fault is kept.
func copyCString(dst []byte, src Memory) int {
	n := src.Len()
	i := 0
	for ; i < len(dst)-1; i++ {
		if i >= n {
			break
		}
		c, err := src.ReadByte(i)
		if err != nil || c == 0 {
			break
		}
		dst[i] = c
	}
	dst[i] = 0
	return i
}

func readUint16LE(m Memory, off int) (uint16, bool) {
	b0, err := m.ReadByte(off)
	if err != nil {
		return 0, false
	}
	b1, err := m.ReadByte(off + 1)
	if err != nil {
		return 0, false
	}
	return uint16(b0) | uint16(b1)<<8, true
}

func readUint16BE(m Memory, off int) (uint16, bool) {
	b0, err := m.ReadByte(off)
	if err != nil {
		return 0, false
	}
	b1, err := m.ReadByte(off + 1)
	if err != nil {
		return 0, false
	}
	return uint16(b0)<<8 | uint16(b1), true
}

func readUint32LE(m Memory, off int) (uint32, bool) {
	var v uint32
	for i := 0; i < 4; i++ {
		b, err := m.ReadByte(off + i)
		if err != nil {
			return 0, false
		}
		v |= uint32(b) << (8 * i)
	}
	return v, true
}
