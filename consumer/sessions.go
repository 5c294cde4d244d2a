package consumer

import (
	"sync"
	"time"
)

// session is the in-memory view of one open database session row.
type session struct {
	id           int64
	pid          uint32
	comm         string
	lastActivity time.Time
}

// sessionTracker maps live pids to their open session rows. A pid gets a
// fresh session on every exec; exit or inactivity closes it.
type sessionTracker struct {
	mu      sync.Mutex
	byPID   map[uint32]*session
	timeout time.Duration
}

func newSessionTracker(timeout time.Duration) *sessionTracker {
	return &sessionTracker{
		byPID:   make(map[uint32]*session),
		timeout: timeout,
	}
}

func (st *sessionTracker) open(pid uint32, comm string, id int64, at time.Time) {
	st.mu.Lock()
	st.byPID[pid] = &session{id: id, pid: pid, comm: comm, lastActivity: at}
	st.mu.Unlock()
}

// touch records activity for pid and returns the session id, or false if
// no session is open (events arriving before exec, or after expiry).
func (st *sessionTracker) touch(pid uint32, at time.Time) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byPID[pid]
	if !ok {
		return 0, false
	}
	if at.After(s.lastActivity) {
		s.lastActivity = at
	}
	return s.id, true
}

// close removes the session for pid and returns its id.
func (st *sessionTracker) close(pid uint32) (int64, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.byPID[pid]
	if !ok {
		return 0, false
	}
	delete(st.byPID, pid)
	return s.id, true
}

// expire removes every session idle past the timeout and returns them.
func (st *sessionTracker) expire(now time.Time) []*session {
	st.mu.Lock()
	defer st.mu.Unlock()
	var expired []*session
	for pid, s := range st.byPID {
		if now.Sub(s.lastActivity) >= st.timeout {
			expired = append(expired, s)
			delete(st.byPID, pid)
		}
	}
	return expired
}

func (st *sessionTracker) active() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.byPID)
}
