package probe

import "sync/atomic"

// Counter identifies one of the bank's monotonic health counters.
type Counter int

const (
	CounterEventsProcessed Counter = iota
	CounterEventsDropped
	CounterExecCalls
	CounterConnectCalls
	CounterHTTPRequests
	counterCount
)

func (c Counter) String() string {
	switch c {
	case CounterEventsProcessed:
		return "events_processed"
	case CounterEventsDropped:
		return "events_dropped"
	case CounterExecCalls:
		return "exec_calls"
	case CounterConnectCalls:
		return "connect_calls"
	case CounterHTTPRequests:
		return "http_requests"
	default:
		return "unknown"
	}
}

// counterShards stripes each counter so concurrent handler activations on
// different processes do not contend on one cache line. Must be a power of
// two.
const counterShards = 64

type counterCell struct {
	v uint64
	_ [56]byte // pad to a cache line
}

// CounterBank is a fixed set of monotonic counters incremented by the hook
// handlers and summed only on read. Increments are atomic; a reader may
// observe counters lagging tracker state, which is acceptable because no
// cross-key invariant exists.
type CounterBank struct {
	cells [counterCount][counterShards]counterCell
}

// Inc adds one to the counter. key selects the stripe; handlers pass the
// process id so activations for distinct processes land on distinct stripes.
func (b *CounterBank) Inc(c Counter, key uint32) {
	atomic.AddUint64(&b.cells[c][key&(counterShards-1)].v, 1)
}

// Sum returns the counter's value summed across stripes.
func (b *CounterBank) Sum(c Counter) uint64 {
	var total uint64
	for i := range b.cells[c] {
		total += atomic.LoadUint64(&b.cells[c][i].v)
	}
	return total
}

// Snapshot returns all counter values keyed by name.
func (b *CounterBank) Snapshot() map[string]uint64 {
	out := make(map[string]uint64, int(counterCount))
	for c := Counter(0); c < counterCount; c++ {
		out[c.String()] = b.Sum(c)
	}
	return out
}
