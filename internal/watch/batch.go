package watch

import (
	"sync"
	"time"
)

// Batcher groups debounced events arriving within window into a single
// slice, flushing early once size reaches cap. Grounded on the same
// timer-driven collapsing idiom as Debouncer, one layer up.
type Batcher struct {
	window time.Duration
	cap    int
	onFlush func([]RawEvent)

	mu      sync.Mutex
	pending []RawEvent
	timer   *time.Timer
}

// NewBatcher constructs a Batcher. cap <= 0 disables the size trigger.
func NewBatcher(window time.Duration, cap int, onFlush func([]RawEvent)) *Batcher {
	return &Batcher{window: window, cap: cap, onFlush: onFlush}
}

// Add appends ev to the current batch, starting the flush timer on the
// first event and flushing immediately if cap is reached.
func (b *Batcher) Add(ev RawEvent) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.window, b.flush)
	}
	full := b.cap > 0 && len(b.pending) >= b.cap
	b.mu.Unlock()

	if full {
		b.flush()
	}
}

func (b *Batcher) flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) > 0 {
		b.onFlush(batch)
	}
}

// Stop flushes any remaining events and stops the timer.
func (b *Batcher) Stop() {
	b.flush()
}
