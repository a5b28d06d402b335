package services

import (
	"sync"
	"testing"
)

func TestKeyLockSerialisesSameKey(t *testing.T) {
	k := newKeyLock()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("d1")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 100 {
		t.Fatalf("counter = %d, want 100", counter)
	}
	if k.size() != 0 {
		t.Fatalf("lock entries leaked: %d", k.size())
	}
}

func TestKeyLockIndependentKeys(t *testing.T) {
	k := newKeyLock()
	unlockA := k.Lock("a")
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlock := k.Lock("b")
		unlock()
		close(done)
	}()
	<-done
}
