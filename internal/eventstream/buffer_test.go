package eventstream

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mrzor/proctree/internal/procevent"
)

func TestBuffer_DrainSortsBySequence(t *testing.T) {
	var b Buffer
	for _, seq := range []uint64{3, 1, 2, 0} {
		b.Add(procevent.Event{PID: uint32(seq + 100), Sequence: seq})
	}

	got := b.Drain()
	for i, ev := range got {
		assert.Equal(t, uint64(i), ev.Sequence)
	}
	assert.Zero(t, b.Len())
	assert.Empty(t, b.Drain())
}

func TestBuffer_TiesKeepArrivalOrder(t *testing.T) {
	var b Buffer
	b.Add(procevent.Event{PID: 1, Sequence: 5})
	b.Add(procevent.Event{PID: 2, Sequence: 4})
	b.Add(procevent.Event{PID: 3, Sequence: 5})

	got := b.Drain()
	assert.Equal(t, []uint32{2, 1, 3}, []uint32{got[0].PID, got[1].PID, got[2].PID})
}

func TestBuffer_ConcurrentAdd(t *testing.T) {
	var (
		b  Buffer
		wg sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				//nolint:gosec // small test values
				b.Add(procevent.Event{Sequence: uint64(w*50 + i)})
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 200, b.Len())
}
