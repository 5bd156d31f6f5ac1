package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	fail   map[string]bool
}

func (r *recorder) handle(ctx context.Context, ev Event) error {
	if r.fail[ev.BidRequestID] {
		return errors.New("endpoint unavailable")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.events))
	for i, ev := range r.events {
		ids[i] = ev.BidRequestID
	}
	return ids
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorker_DeliversOnInterval(t *testing.T) {
	q := NewQueue()
	rec := &recorder{}
	w := NewWorker(KindClick, q, 20*time.Millisecond, 0, rec.handle)

	w.Start(context.Background())
	defer w.Stop()

	for i := 0; i < 3; i++ {
		q.Push(New(KindClick, fmt.Sprintf("r%d", i), "1"))
	}

	waitFor(t, time.Second, func() bool { return len(rec.ids()) == 3 })

	for i, id := range rec.ids() {
		if want := fmt.Sprintf("r%d", i); id != want {
			t.Errorf("position %d: expected %s, got %s", i, want, id)
		}
	}
}

func TestWorker_FailedEventDoesNotAbortBatch(t *testing.T) {
	q := NewQueue()
	rec := &recorder{fail: map[string]bool{"bad": true}}
	w := NewWorker(KindClick, q, time.Hour, 0, rec.handle)

	q.Push(New(KindClick, "a", "1"))
	q.Push(New(KindClick, "bad", "1"))
	q.Push(New(KindClick, "b", "1"))

	if n := w.Flush(context.Background()); n != 2 {
		t.Errorf("expected 2 delivered, got %d", n)
	}
	if got := rec.ids(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected deliveries %v", got)
	}
}

func TestWorker_StopDeliversRemaining(t *testing.T) {
	q := NewQueue()
	rec := &recorder{}
	// Interval and settle long enough that only the shutdown drain can deliver
	w := NewWorker(KindConversion, q, time.Hour, time.Hour, rec.handle)

	w.Start(context.Background())
	q.Push(New(KindConversion, "r1", "1"))
	q.Push(New(KindConversion, "r2", "1"))

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if got := rec.ids(); len(got) != 2 {
		t.Errorf("expected both events delivered on stop, got %v", got)
	}
	if q.Len() != 0 {
		t.Errorf("expected empty queue, got %d", q.Len())
	}
}

func TestWorker_SettleDelay(t *testing.T) {
	q := NewQueue()
	rec := &recorder{}
	settle := 100 * time.Millisecond
	w := NewWorker(KindClick, q, 10*time.Millisecond, settle, rec.handle)

	pushed := time.Now()
	q.Push(New(KindClick, "r1", "1"))
	w.Start(context.Background())
	defer w.Stop()

	waitFor(t, 2*time.Second, func() bool { return len(rec.ids()) == 1 })
	if elapsed := time.Since(pushed); elapsed < settle {
		t.Errorf("delivered after %v, before the %v settle delay", elapsed, settle)
	}
}

func TestWorker_StopIdempotent(t *testing.T) {
	w := NewWorker(KindClick, NewQueue(), time.Second, 0, (&recorder{}).handle)
	w.Stop()
	w.Start(context.Background())
	w.Stop()
	w.Stop()
}
