package lockutil_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/untoldecay/treectx/internal/lockutil"
)

func TestLockSerializesSameKey(t *testing.T) {
	km := lockutil.NewKeyedMutex()
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := km.Lock("same")
			defer unlock()
			order = append(order, i)
			time.Sleep(time.Millisecond)
		}(i)
	}
	wg.Wait()
	require.Len(t, order, 5)
}

func TestLockAllowsDifferentKeysConcurrently(t *testing.T) {
	km := lockutil.NewKeyedMutex()
	unlockA := km.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB := km.Lock("b")
		defer unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("different keys should not block each other")
	}
}
