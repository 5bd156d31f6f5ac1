package journal

import (
	"context"

	"github.com/rs/zerolog"
)

// LogJournal writes entries as structured log lines
type LogJournal struct {
	log zerolog.Logger
}

// NewLogJournal creates a journal writing to l
func NewLogJournal(l zerolog.Logger) *LogJournal {
	return &LogJournal{log: l}
}

func (j *LogJournal) Record(_ context.Context, e Entry) error {
	ev := j.log.Info().
		Str("kind", e.Kind).
		Str("request_id", e.RequestID).
		Str("imp_id", e.ImpID).
		Str("target", e.Target).
		Time("delivered_at", e.Timestamp)
	if e.Price != 0 {
		ev = ev.Float64("price", e.Price)
	}
	ev.Msg("Delivered")
	return nil
}

func (j *LogJournal) Close() error { return nil }
