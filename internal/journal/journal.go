// Package journal records every successful delivery to an append-only
// operational log. Nothing in the replayer reads it back.
package journal

import (
	"context"
	"errors"
	"time"
)

// Entry is one successful delivery
type Entry struct {
	Kind      string    `json:"kind"`
	RequestID string    `json:"bidRequestId"`
	ImpID     string    `json:"impid"`
	Price     float64   `json:"price,omitempty"`
	Target    string    `json:"target"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal is a delivery sink
type Journal interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Multi fans an entry out to every sink
type Multi []Journal

// Record writes e to all sinks, returning the joined errors of those that failed
func (m Multi) Record(ctx context.Context, e Entry) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink
func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
