package pipeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestSlugLocks_BasicLockUnlock verifies basic lock/unlock operations.
func TestSlugLocks_BasicLockUnlock(t *testing.T) {
	locks := NewSlugLocks()

	locks.Lock("ai-in-retail")
	locks.Unlock("ai-in-retail")

	// Should be able to lock again after unlock
	locks.Lock("ai-in-retail")
	locks.Unlock("ai-in-retail")

	if n := locks.Len(); n != 0 {
		t.Errorf("Expected released slugs to be dropped, %d remain", n)
	}
}

// TestSlugLocks_SameSlugBlocks verifies that locking the same slug serializes callers.
func TestSlugLocks_SameSlugBlocks(t *testing.T) {
	locks := NewSlugLocks()
	orderChan := make(chan int, 2)

	// Goroutine A locks first
	go func() {
		locks.Lock("ai-in-retail")
		orderChan <- 1
		time.Sleep(50 * time.Millisecond) // Hold the lock briefly
		locks.Unlock("ai-in-retail")
	}()

	// Give goroutine A time to acquire the lock
	time.Sleep(10 * time.Millisecond)

	// Goroutine B tries the same slug - should block
	go func() {
		locks.Lock("ai-in-retail")
		orderChan <- 2
		locks.Unlock("ai-in-retail")
	}()

	first := <-orderChan
	second := <-orderChan

	if first != 1 || second != 2 {
		t.Errorf("Expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestSlugLocks_DifferentSlugsConcurrent verifies that different slugs don't block each other.
func TestSlugLocks_DifferentSlugsConcurrent(t *testing.T) {
	locks := NewSlugLocks()
	var wg sync.WaitGroup
	var aLocked, bLocked atomic.Bool

	wg.Add(2)

	go func() {
		defer wg.Done()
		locks.Lock("topic-a")
		aLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		locks.Unlock("topic-a")
	}()

	go func() {
		defer wg.Done()
		locks.Lock("topic-b")
		bLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		locks.Unlock("topic-b")
	}()

	// Give both goroutines time to acquire their locks
	time.Sleep(10 * time.Millisecond)

	if !aLocked.Load() || !bLocked.Load() {
		t.Error("Both goroutines should have acquired their locks concurrently")
	}

	wg.Wait()
}

// TestSlugLocks_UnlockUnknown verifies that unlocking an unknown slug is a no-op.
func TestSlugLocks_UnlockUnknown(t *testing.T) {
	locks := NewSlugLocks()

	// Should not panic
	locks.Unlock("never-locked")
}
