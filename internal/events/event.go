// Package events queues post-auction events and delivers them from
// background workers on a fixed schedule.
package events

import "time"

// Kind is the lifecycle stage an event reports
type Kind string

const (
	KindWin        Kind = "WIN"
	KindClick      Kind = "CLICK"
	KindConversion Kind = "CONVERSION"
)

// Event is one post-auction notification. Timestamp is seconds since the
// epoch and is stamped when the event is sent.
type Event struct {
	Timestamp    float64 `json:"timestamp"`
	BidRequestID string  `json:"bidRequestId"`
	ImpID        string  `json:"impid"`
	Kind         Kind    `json:"type"`
}

// New creates an unstamped event
func New(kind Kind, requestID, impID string) Event {
	return Event{
		BidRequestID: requestID,
		ImpID:        impID,
		Kind:         kind,
	}
}

// Stamped returns a copy of e carrying t as its timestamp
func (e Event) Stamped(t time.Time) Event {
	e.Timestamp = EpochSeconds(t)
	return e
}

// EpochSeconds converts t to fractional seconds since the Unix epoch
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
