package watch

import (
	"sync"
	"time"
)

// EventKind discriminates a raw filesystem notification.
type EventKind int

const (
	EventWrite EventKind = iota
	EventCreate
	EventRemove
	EventRename
)

// RawEvent is one filesystem notification for a single path.
type RawEvent struct {
	Path string
	Kind EventKind
}

// Debouncer collapses repeated events for the same path that arrive
// within window of each other, keeping only the latest kind, and fires
// onFire once the path goes quiet. Grounded on the teacher's
// cmd/bd.Debouncer (Trigger/Cancel), generalized from a single timer to
// one timer per path so an unrelated path's churn never delays another.
type Debouncer struct {
	window time.Duration
	onFire func(RawEvent)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	pending map[string]RawEvent
}

// NewDebouncer constructs a Debouncer that calls onFire once per path
// after window has elapsed since that path's last event.
func NewDebouncer(window time.Duration, onFire func(RawEvent)) *Debouncer {
	return &Debouncer{
		window:  window,
		onFire:  onFire,
		timers:  make(map[string]*time.Timer),
		pending: make(map[string]RawEvent),
	}
}

// Trigger records ev and (re)starts that path's timer.
func (d *Debouncer) Trigger(ev RawEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending[ev.Path] = ev
	if t, ok := d.timers[ev.Path]; ok {
		t.Stop()
	}
	d.timers[ev.Path] = time.AfterFunc(d.window, func() { d.fire(ev.Path) })
}

func (d *Debouncer) fire(path string) {
	d.mu.Lock()
	ev, ok := d.pending[path]
	delete(d.pending, path)
	delete(d.timers, path)
	d.mu.Unlock()

	if ok {
		d.onFire(ev)
	}
}

// Cancel stops every pending timer without firing.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
	d.pending = make(map[string]RawEvent)
}
