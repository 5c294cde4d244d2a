package probe

import "context"

// EventRing is the bounded channel between the hook handlers and the
// consumer. Producers reserve a slot, populate it in place, then submit or
// discard; none of those steps block. Records from one producer are seen by
// the consumer in submit order; interleaving across producers is
// unspecified. The sole consumer drains with Next.
type EventRing struct {
	slots []EventRecord
	free  chan uint32
	ready chan uint32
}

// NewEventRing returns a ring holding capacity records.
func NewEventRing(capacity int) *EventRing {
	r := &EventRing{
		slots: make([]EventRecord, capacity),
		free:  make(chan uint32, capacity),
		ready: make(chan uint32, capacity),
	}
	for i := 0; i < capacity; i++ {
		r.free <- uint32(i)
	}
	return r
}

// Reservation is a claimed, not yet published slot. Exactly one of Submit or
// Discard must be called on it.
type Reservation struct {
	ring *EventRing
	idx  uint32

	// Event is the slot to populate. Zeroed at reservation time.
	Event *EventRecord
}

// Reserve claims a slot, or returns nil immediately when the ring is full.
// A full ring is not an error: the caller counts the drop and moves on.
func (r *EventRing) Reserve() *Reservation {
	select {
	case idx := <-r.free:
		r.slots[idx] = EventRecord{}
		return &Reservation{ring: r, idx: idx, Event: &r.slots[idx]}
	default:
		return nil
	}
}

// Submit publishes the reserved record to the consumer.
func (res *Reservation) Submit() {
	res.ring.ready <- res.idx
}

// Discard releases the slot without publishing, for reservations whose
// population failed partway.
func (res *Reservation) Discard() {
	res.ring.free <- res.idx
}

// Next blocks until a record is published or ctx is done. The record is
// copied out and its slot recycled before returning.
func (r *EventRing) Next(ctx context.Context) (EventRecord, error) {
	select {
	case idx := <-r.ready:
		rec := r.slots[idx]
		r.free <- idx
		return rec, nil
	case <-ctx.Done():
		return EventRecord{}, ctx.Err()
	}
}

// Capacity returns the ring's fixed record capacity.
func (r *EventRing) Capacity() int { return len(r.slots) }

// Pending returns the number of published, not yet consumed records.
func (r *EventRing) Pending() int { return len(r.ready) }
