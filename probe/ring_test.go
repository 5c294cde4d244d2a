package probe

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingReserveSubmitNext(t *testing.T) {
	r := NewEventRing(2)

	res := r.Reserve()
	require.NotNil(t, res)
	res.Event.PID = 42
	res.Event.EventType = EventExec
	res.Submit()

	rec, err := r.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(42), rec.PID)
}

func TestRingReserveZeroesSlot(t *testing.T) {
	r := NewEventRing(1)

	res := r.Reserve()
	res.Event.PID = 42
	res.Event.ContentLength = 99
	res.Discard()

	res = r.Reserve()
	require.NotNil(t, res)
	assert.Equal(t, EventRecord{}, *res.Event, "recycled slots must come back zeroed")
}

func TestRingReserveFailsWhenFull(t *testing.T) {
	r := NewEventRing(2)
	a := r.Reserve()
	b := r.Reserve()
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Nil(t, r.Reserve(), "a full ring returns nil, it never blocks")

	a.Submit()
	b.Discard()
	assert.NotNil(t, r.Reserve(), "discard frees capacity without publishing")
}

func TestRingPreservesSubmitOrder(t *testing.T) {
	r := NewEventRing(8)
	for i := uint32(1); i <= 5; i++ {
		res := r.Reserve()
		require.NotNil(t, res)
		res.Event.PID = i
		res.Submit()
	}
	for i := uint32(1); i <= 5; i++ {
		rec, err := r.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, i, rec.PID)
	}
}

func TestRingNextHonorsContext(t *testing.T) {
	r := NewEventRing(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRingConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 100
	r := NewEventRing(producers * perProducer)

	var wg sync.WaitGroup
	for g := 0; g < producers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				res := r.Reserve()
				if res == nil {
					continue
				}
				res.Event.PID = uint32(g)
				res.Event.UID = uint32(i)
				res.Submit()
			}
		}(g)
	}
	wg.Wait()

	// Per-producer order must hold even under interleaving.
	lastSeen := make(map[uint32]int)
	for i := 0; i < producers; i++ {
		lastSeen[uint32(i)] = -1
	}
	for n := 0; n < producers*perProducer; n++ {
		rec, err := r.Next(context.Background())
		require.NoError(t, err)
		assert.Greater(t, int(rec.UID), lastSeen[rec.PID],
			"producer %d emitted out of order", rec.PID)
		lastSeen[rec.PID] = int(rec.UID)
	}
}
