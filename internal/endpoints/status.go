// Package endpoints serves the replayer's ops listener
package endpoints

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/exchange"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/metrics"
)

// StatsProvider exposes the live counters of a run
type StatsProvider interface {
	Stats() exchange.Stats
	QueueDepths() (clicks, conversions int)
}

// StatusHandler handles /status requests
type StatusHandler struct {
	runID    string
	started  time.Time
	provider StatsProvider
}

// NewStatusHandler creates a new status handler. provider may be nil before
// the run starts.
func NewStatusHandler(runID string, provider StatsProvider) *StatusHandler {
	return &StatusHandler{
		runID:    runID,
		started:  time.Now(),
		provider: provider,
	}
}

// ServeHTTP handles status requests
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"run_id":    h.runID,
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	}
	if h.provider != nil {
		stats := h.provider.Stats()
		clicks, conversions := h.provider.QueueDepths()
		resp["stats"] = stats
		resp["avg_latency_ms"] = float64(stats.AverageLatency()) / float64(time.Millisecond)
		resp["queues"] = map[string]int{
			"click":      clicks,
			"conversion": conversions,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// NewMux routes /status and /metrics, recording request metrics through m
func NewMux(status http.Handler, m *metrics.Metrics, g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/status", status)
	mux.Handle("/metrics", metrics.Handler(g))
	return m.Middleware(mux)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
