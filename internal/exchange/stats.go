package exchange

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Stats is a snapshot of the replay counters
type Stats struct {
	Sent         int64 `json:"sent"`
	Filtered     int64 `json:"filtered"`
	Malformed    int64 `json:"malformed"`
	Restarts     int64 `json:"restarts"`
	Bids         int64 `json:"bids"`
	NoBids       int64 `json:"no_bids"`
	BadResponses int64 `json:"bad_responses"`
	Late         int64 `json:"late"`
	Wins         int64 `json:"wins"`

	ClicksQueued      int64 `json:"clicks_queued"`
	ConversionsQueued int64 `json:"conversions_queued"`
	EventsDelivered   int64 `json:"events_delivered"`
	NotifyFailures    int64 `json:"notify_failures"`

	TotalLatency time.Duration `json:"total_latency_ns"`
}

// AverageLatency is the mean round trip of the requests sent so far
func (s Stats) AverageLatency() time.Duration {
	if s.Sent == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Sent)
}

func (s Stats) String() string {
	return fmt.Sprintf("sent=%d filtered=%d malformed=%d restarts=%d bids=%d no_bids=%d wins=%d avg_latency=%s",
		s.Sent, s.Filtered, s.Malformed, s.Restarts, s.Bids, s.NoBids, s.Wins, s.AverageLatency())
}

// counters are updated by the replay loop and both workers, and read by the
// status endpoint while a run is in progress
type counters struct {
	sent, filtered, malformed, restarts   atomic.Int64
	bids, noBids, badResponses, late      atomic.Int64
	wins, clicksQueued, conversionsQueued atomic.Int64
	eventsDelivered, notifyFailures       atomic.Int64
	latencyNanos                          atomic.Int64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:              c.sent.Load(),
		Filtered:          c.filtered.Load(),
		Malformed:         c.malformed.Load(),
		Restarts:          c.restarts.Load(),
		Bids:              c.bids.Load(),
		NoBids:            c.noBids.Load(),
		BadResponses:      c.badResponses.Load(),
		Late:              c.late.Load(),
		Wins:              c.wins.Load(),
		ClicksQueued:      c.clicksQueued.Load(),
		ConversionsQueued: c.conversionsQueued.Load(),
		EventsDelivered:   c.eventsDelivered.Load(),
		NotifyFailures:    c.notifyFailures.Load(),
		TotalLatency:      time.Duration(c.latencyNanos.Load()),
	}
}

// FatalError ends a run. It carries the counters at the time of failure and
// the last two bid requests sent or attempted.
type FatalError struct {
	Err      error
	Stats    Stats
	Previous []byte
	Last     []byte
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
