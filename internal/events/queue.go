package events

import "sync"

// Queue is a FIFO of pending events shared by many producers and drained by
// a single worker.
type Queue struct {
	mu     sync.Mutex
	events []Event
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends ev. It never blocks on delivery.
func (q *Queue) Push(ev Event) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Drain detaches everything queued so far in arrival order, leaving the queue empty
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	batch := q.events
	q.events = nil
	q.mu.Unlock()
	return batch
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
