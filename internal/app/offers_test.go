package app

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestOfferTrackerMarkOnce(t *testing.T) {
	tr := NewOfferTracker(0)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tr.Mark("B") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if n := wins.Load(); n != 1 {
		t.Fatalf("marks won=%d, want 1", n)
	}
	if !tr.Has("B") {
		t.Fatalf("B not tracked")
	}
}

func TestOfferTrackerForgetAndReset(t *testing.T) {
	tr := NewOfferTracker(0)
	tr.Mark("B")
	tr.Mark("C")
	tr.Forget("B")
	if tr.Has("B") || !tr.Has("C") {
		t.Fatalf("forget removed the wrong peer")
	}
	if !tr.Mark("B") {
		t.Fatalf("re-mark after forget refused")
	}
	tr.Reset()
	if tr.Len() != 0 {
		t.Fatalf("len=%d after reset", tr.Len())
	}
}

func TestOfferTrackerLimit(t *testing.T) {
	tr := NewOfferTracker(2)
	tr.Mark("B")
	tr.Mark("C")
	if !tr.Full() {
		t.Fatalf("tracker not full at limit")
	}
	if tr.Mark("D") {
		t.Fatalf("mark past limit accepted")
	}
	tr.Forget("B")
	if !tr.Mark("D") {
		t.Fatalf("mark after forget refused")
	}
}
