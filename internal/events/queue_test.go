package events

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	for i := 0; i < 5; i++ {
		q.Push(New(KindClick, fmt.Sprintf("r%d", i), "1"))
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 queued, got %d", q.Len())
	}

	batch := q.Drain()
	for i, ev := range batch {
		if want := fmt.Sprintf("r%d", i); ev.BidRequestID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, ev.BidRequestID)
		}
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", q.Len())
	}
	if again := q.Drain(); len(again) != 0 {
		t.Errorf("expected empty second drain, got %d", len(again))
	}
}

// Every event pushed concurrently with a drain ends up in exactly one place
func TestQueue_DrainDuringConcurrentPush(t *testing.T) {
	const producers = 8
	const perProducer = 500
	const total = producers * perProducer

	q := NewQueue()

	var wg sync.WaitGroup
	start := make(chan struct{})
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			<-start
			for i := 0; i < perProducer; i++ {
				q.Push(New(KindClick, fmt.Sprintf("%d-%d", p, i), "1"))
			}
		}(p)
	}

	close(start)
	// Drain while producers are still running
	batch := q.Drain()
	wg.Wait()
	rest := q.Drain()

	seen := make(map[string]int, total)
	for _, ev := range append(batch, rest...) {
		seen[ev.BidRequestID]++
	}
	if len(seen) != total {
		t.Fatalf("expected %d distinct events, got %d", total, len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("event %s seen %d times", id, n)
		}
	}
}

func TestEvent_Stamped(t *testing.T) {
	ev := New(KindConversion, "r1", "1")
	if ev.Timestamp != 0 {
		t.Errorf("expected unstamped event, got %v", ev.Timestamp)
	}

	at := time.Unix(1700000000, 500_000_000)
	stamped := ev.Stamped(at)
	if stamped.Timestamp != 1700000000.5 {
		t.Errorf("expected 1700000000.5, got %v", stamped.Timestamp)
	}
	if ev.Timestamp != 0 {
		t.Error("Stamped must not modify the original")
	}
	if stamped.Kind != KindConversion || stamped.BidRequestID != "r1" {
		t.Errorf("unexpected stamped event %+v", stamped)
	}
}
