package probe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterBankSumsAcrossStripes(t *testing.T) {
	var b CounterBank

	// Keys chosen to land on different stripes.
	for key := uint32(0); key < counterShards*2; key++ {
		b.Inc(CounterExecCalls, key)
	}
	assert.Equal(t, uint64(counterShards*2), b.Sum(CounterExecCalls))
	assert.Zero(t, b.Sum(CounterEventsDropped), "counters are independent")
}

func TestCounterBankConcurrent(t *testing.T) {
	var b CounterBank
	var wg sync.WaitGroup
	const workers = 16
	const perWorker = 1000

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				b.Inc(CounterEventsProcessed, uint32(w))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, uint64(workers*perWorker), b.Sum(CounterEventsProcessed))
}

func TestCounterSnapshot(t *testing.T) {
	var b CounterBank
	b.Inc(CounterEventsDropped, 1)
	b.Inc(CounterHTTPRequests, 1)
	b.Inc(CounterHTTPRequests, 2)

	snap := b.Snapshot()
	assert.Equal(t, uint64(1), snap["events_dropped"])
	assert.Equal(t, uint64(2), snap["http_requests"])
	assert.Equal(t, uint64(0), snap["exec_calls"])
	assert.Len(t, snap, 5)
}
