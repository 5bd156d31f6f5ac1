package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
)

// Handler delivers a single event
type Handler func(ctx context.Context, ev Event) error

// Worker periodically drains a queue and hands each event to its handler
type Worker struct {
	kind     Kind
	queue    *Queue
	interval time.Duration
	settle   time.Duration
	handle   Handler
	log      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWorker creates a worker that drains q every interval and waits settle
// between detaching a batch and delivering it.
func NewWorker(kind Kind, q *Queue, interval, settle time.Duration, handle Handler) *Worker {
	return &Worker{
		kind:     kind,
		queue:    q,
		interval: interval,
		settle:   settle,
		handle:   handle,
		log:      logger.Events(string(kind)),
	}
}

// Start launches the worker goroutine. Calling Start on a running worker is a no-op.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.run(ctx, w.done)

	w.log.Debug().Dur("interval", w.interval).Dur("settle", w.settle).Msg("Event worker started")
}

// Stop cancels the worker and waits for it to deliver what is still queued
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel, w.done = nil, nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Flush drains the queue and delivers the batch on the calling goroutine,
// returning how many events were delivered
func (w *Worker) Flush(ctx context.Context) int {
	return w.deliver(ctx, w.queue.Drain())
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Detached batches are delivered even after cancellation
	deliverCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			// No settle delay here: events still queued at shutdown go out immediately
			if n := w.Flush(deliverCtx); n > 0 {
				w.log.Info().Int("events", n).Msg("Delivered remaining events on shutdown")
			}
			return
		case <-ticker.C:
			batch := w.queue.Drain()
			if len(batch) == 0 {
				continue
			}
			if w.settle > 0 {
				timer := time.NewTimer(w.settle)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
				}
			}
			w.deliver(deliverCtx, batch)
		}
	}
}

// deliver sends batch in order; a failed event never stops the rest
func (w *Worker) deliver(ctx context.Context, batch []Event) int {
	delivered := 0
	for _, ev := range batch {
		if err := w.handle(ctx, ev); err != nil {
			w.log.Warn().
				Err(err).
				Str("request_id", ev.BidRequestID).
				Msg("Event delivery failed")
			continue
		}
		delivered++
	}
	if len(batch) > 0 {
		w.log.Debug().Int("batch", len(batch)).Int("delivered", delivered).Msg("Flushed event batch")
	}
	return delivered
}
