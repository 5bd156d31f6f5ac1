package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the journal needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaJournal publishes entries to a Kafka topic keyed by request id
type KafkaJournal struct {
	writer MessageWriter
}

// NewKafkaWriter builds the producer used by KafkaJournal
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:            kafka.TCP(brokers...),
		Topic:           topic,
		Balancer:        &kafka.Hash{},
		BatchSize:       100,
		BatchTimeout:    10 * time.Millisecond,
		RequiredAcks:    kafka.RequireOne,
		MaxAttempts:     3,
		WriteBackoffMin: 100 * time.Millisecond,
		WriteBackoffMax: time.Second,
	}
}

// NewKafkaJournal creates a journal publishing through w
func NewKafkaJournal(w MessageWriter) *KafkaJournal {
	return &KafkaJournal{writer: w}
}

func (j *KafkaJournal) Record(ctx context.Context, e Entry) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	return j.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.RequestID),
		Value: value,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	})
}

func (j *KafkaJournal) Close() error {
	return j.writer.Close()
}
