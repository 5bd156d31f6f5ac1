package journal

import (
	"context"
	"strconv"
	"time"
)

// StreamAdder appends a field map to a Redis stream
type StreamAdder interface {
	XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error)
	Close() error
}

// defaultStreamMaxLen is the approximate cap on stream length
const defaultStreamMaxLen = 1_000_000

// RedisJournal appends entries to a Redis stream
type RedisJournal struct {
	client StreamAdder
	stream string
	maxLen int64
}

// NewRedisJournal creates a journal writing to stream through client
func NewRedisJournal(client StreamAdder, stream string) *RedisJournal {
	return &RedisJournal{client: client, stream: stream, maxLen: defaultStreamMaxLen}
}

func (j *RedisJournal) Record(ctx context.Context, e Entry) error {
	values := map[string]interface{}{
		"kind":         e.Kind,
		"bidRequestId": e.RequestID,
		"impid":        e.ImpID,
		"target":       e.Target,
		"timestamp":    e.Timestamp.Format(time.RFC3339Nano),
	}
	if e.Price != 0 {
		values["price"] = strconv.FormatFloat(e.Price, 'f', -1, 64)
	}
	_, err := j.client.XAdd(ctx, j.stream, j.maxLen, values)
	return err
}

func (j *RedisJournal) Close() error {
	return j.client.Close()
}
