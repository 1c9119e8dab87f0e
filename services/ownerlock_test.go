package services

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestOwnerLocks_SerialisesSameOwner(t *testing.T) {
	locks := NewOwnerLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("12345678900")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("Expected at most 1 holder, got %d", maxInside)
	}
	if len(locks.locks) != 0 {
		t.Errorf("Expected lock table to drain, got %d entries", len(locks.locks))
	}
}

func TestOwnerLocks_IndependentOwners(t *testing.T) {
	locks := NewOwnerLocks()
	unlockA := locks.Lock("11111111111")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("22222222222")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected lock for a different owner not to block")
	}
}
