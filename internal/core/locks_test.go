package core

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	locks := newKeyedMutex()

	release := locks.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := locks.Lock("a")
		close(acquired)
		unlock()
	}()

	// Another key is independent.
	other := locks.Lock("b")
	other()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a locked key")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over")
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	locks := newKeyedMutex()

	var wg sync.WaitGroup
	counter := 0
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("conv")
			counter++
			unlock()
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Fatalf("expected no retained entries, got %d", len(locks.locks))
	}
}
