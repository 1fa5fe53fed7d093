package execution

import (
	"sync"
	"testing"
)

func TestLockSet_TryAcquireAndRelease(t *testing.T) {
	t.Parallel()

	locks := NewLockSet()

	if !locks.TryAcquire("polymarket:m1") {
		t.Fatal("first acquire failed")
	}
	if locks.TryAcquire("polymarket:m1") {
		t.Fatal("second acquire succeeded while held")
	}
	if !locks.Held("polymarket:m1") {
		t.Fatal("Held = false while held")
	}

	// Independent keys do not contend.
	if !locks.TryAcquire("kalshi:m2") {
		t.Fatal("unrelated key blocked")
	}

	locks.Release("polymarket:m1")
	if locks.Held("polymarket:m1") {
		t.Fatal("Held = true after release")
	}
	if !locks.TryAcquire("polymarket:m1") {
		t.Fatal("acquire failed after release")
	}
}

func TestLockSet_ReleaseUnheldIsNoop(t *testing.T) {
	t.Parallel()

	locks := NewLockSet()
	locks.Release("never-held")

	if !locks.TryAcquire("never-held") {
		t.Fatal("acquire failed after stray release")
	}
}

func TestLockSet_SingleWinnerUnderContention(t *testing.T) {
	t.Parallel()

	locks := NewLockSet()

	const workers = 32
	var won int32
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if locks.TryAcquire("pair") {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if won != 1 {
		t.Fatalf("winners = %d, want 1", won)
	}
}
