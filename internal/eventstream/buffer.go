package eventstream

import (
	"cmp"
	"slices"
	"sync"

	"github.com/mrzor/proctree/internal/procevent"
)

// Buffer collects events that may arrive out of sequence order and releases
// them sorted, for sources that merge several producers.
type Buffer struct {
	mu     sync.Mutex
	events []procevent.Event
}

// Add appends ev. Safe for concurrent use.
func (b *Buffer) Add(ev procevent.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Drain returns the buffered events ordered by sequence and empties the
// buffer. Events sharing a sequence keep their arrival order so the engine
// can reject the later ones.
func (b *Buffer) Drain() []procevent.Event {
	b.mu.Lock()
	events := b.events
	b.events = nil
	b.mu.Unlock()

	slices.SortStableFunc(events, func(a, b procevent.Event) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return events
}
