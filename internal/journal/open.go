package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/StreetsDigital/thenexusengine/rtbreplay/internal/config"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/logger"
	"github.com/StreetsDigital/thenexusengine/rtbreplay/pkg/redis"
)

// Open builds the journal described by cfg. The log sink is always present;
// Redis and Kafka sinks are added when configured.
func Open(ctx context.Context, cfg *config.Config) (Journal, error) {
	sinks := Multi{NewLogJournal(logger.Journal())}

	if cfg.Journal.RedisURL != "" {
		client, err := redis.New(cfg.Journal.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("journal redis: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = client.Ping(pingCtx)
		cancel()
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("journal redis ping %s: %w", client.Address(), err)
		}
		sinks = append(sinks, NewRedisJournal(client, cfg.Journal.RedisStream))
	}

	if len(cfg.Journal.KafkaBrokers) > 0 {
		w := NewKafkaWriter(cfg.Journal.KafkaBrokers, cfg.Journal.KafkaTopic)
		sinks = append(sinks, NewKafkaJournal(w))
	}

	log := logger.Journal()
	log.Info().
		Int("sinks", len(sinks)).
		Bool("redis", cfg.Journal.RedisURL != "").
		Bool("kafka", len(cfg.Journal.KafkaBrokers) > 0).
		Msg("Delivery journal ready")

	return sinks, nil
}
