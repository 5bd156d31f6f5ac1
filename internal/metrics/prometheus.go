// Package metrics provides Prometheus metrics for the replayer
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes
const (
	OutcomeSent      = "sent"
	OutcomeFiltered  = "filtered"
	OutcomeMalformed = "malformed"
)

// Auction response results
const (
	ResultBid              = "bid"
	ResultNoBid            = "no_bid"
	ResultBadResponse      = "bad_response"
	ResultUnexpectedStatus = "unexpected_status"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Replay metrics
	RequestsTotal    *prometheus.CounterVec
	AuctionResponses *prometheus.CounterVec
	AuctionLatency   prometheus.Histogram
	LateResponses    prometheus.Counter
	Restarts         prometheus.Counter

	// Lifecycle metrics
	Wins           prometheus.Counter
	ClearingPrice  prometheus.Histogram
	EventsEnqueued *prometheus.CounterVec
	Notifications  *prometheus.CounterVec
	QueueDepth     *prometheus.GaugeVec

	// Ops endpoint metrics
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg, or with the
// default registry when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "rtbreplay"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bid_requests_total",
				Help:      "Log records processed, by outcome (sent, filtered, malformed)",
			},
			[]string{"outcome"},
		),
		AuctionResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_responses_total",
				Help:      "Auction responses received, by result",
			},
			[]string{"result"},
		),
		AuctionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "auction_latency_seconds",
				Help:      "Round trip time of one auction exchange",
				Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		LateResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_late_responses_total",
				Help:      "Auction responses that arrived after tmax",
			},
		),
		Restarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auction_connection_restarts_total",
				Help:      "Times the auction connection was reset after a transient fault",
			},
		),
		Wins: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "wins_total",
				Help:      "Simulated auction wins",
			},
		),
		ClearingPrice: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "clearing_price",
				Help:      "Clearing price of simulated wins",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 50, 100},
			},
		),
		EventsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_enqueued_total",
				Help:      "Post-auction events queued for delivery",
			},
			[]string{"kind"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Win notices and events sent, by kind and status",
			},
			[]string{"kind", "status"},
		),
		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Events waiting in a delivery queue",
			},
			[]string{"kind"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Requests served by the ops listener",
			},
			[]string{"method", "path", "status"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.AuctionResponses,
		m.AuctionLatency,
		m.LateResponses,
		m.Restarts,
		m.Wins,
		m.ClearingPrice,
		m.EventsEnqueued,
		m.Notifications,
		m.QueueDepth,
		m.HTTPRequests,
	)

	return m
}

// Handler returns the Prometheus HTTP handler for g, or for the default
// gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware returns HTTP middleware that records request metrics
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		m.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RecordRequest counts a processed log record
func (m *Metrics) RecordRequest(outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordExchange records one auction round trip
func (m *Metrics) RecordExchange(result string, latency time.Duration, late bool) {
	if m == nil {
		return
	}
	m.AuctionResponses.WithLabelValues(result).Inc()
	m.AuctionLatency.Observe(latency.Seconds())
	if late {
		m.LateResponses.Inc()
	}
}

// RecordRestarts adds n connection restarts
func (m *Metrics) RecordRestarts(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Restarts.Add(float64(n))
}

// RecordWin records a simulated win at the given clearing price
func (m *Metrics) RecordWin(price float64) {
	if m == nil {
		return
	}
	m.Wins.Inc()
	m.ClearingPrice.Observe(price)
}

// RecordEnqueued counts an event queued for later delivery
func (m *Metrics) RecordEnqueued(kind string) {
	if m == nil {
		return
	}
	m.EventsEnqueued.WithLabelValues(kind).Inc()
}

// RecordNotification records the outcome of one win notice or event delivery
func (m *Metrics) RecordNotification(kind string, err error) {
	if m == nil {
		return
	}
	status := "delivered"
	if err != nil {
		status = "failed"
	}
	m.Notifications.WithLabelValues(kind, status).Inc()
}

// SetQueueDepth sets the current depth of a delivery queue
func (m *Metrics) SetQueueDepth(kind string, depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(kind).Set(float64(depth))
}
