package watch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDebouncerCollapsesRapidEventsToOne(t *testing.T) {
	var mu sync.Mutex
	var fired []RawEvent
	d := NewDebouncer(20*time.Millisecond, func(ev RawEvent) {
		mu.Lock()
		fired = append(fired, ev)
		mu.Unlock()
	})

	d.Trigger(RawEvent{Path: "a.go", Kind: EventWrite})
	d.Trigger(RawEvent{Path: "a.go", Kind: EventWrite})
	d.Trigger(RawEvent{Path: "a.go", Kind: EventRemove})

	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, fired, 1)
	require.Equal(t, EventRemove, fired[0].Kind)
}

func TestDebouncerFiresIndependentlyPerPath(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	d := NewDebouncer(10*time.Millisecond, func(ev RawEvent) {
		mu.Lock()
		fired = append(fired, ev.Path)
		mu.Unlock()
	})

	d.Trigger(RawEvent{Path: "a.go", Kind: EventWrite})
	d.Trigger(RawEvent{Path: "b.go", Kind: EventWrite})

	time.Sleep(40 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a.go", "b.go"}, fired)
}

func TestDebouncerCancelSuppressesFire(t *testing.T) {
	fired := false
	d := NewDebouncer(20*time.Millisecond, func(ev RawEvent) { fired = true })

	d.Trigger(RawEvent{Path: "a.go", Kind: EventWrite})
	d.Cancel()

	time.Sleep(40 * time.Millisecond)
	require.False(t, fired)
}
