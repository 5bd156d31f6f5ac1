// Package redis provides the Redis client used by the delivery journal
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Client wraps a go-redis connection pool
type Client struct {
	rdb     *goredis.Client
	address string
}

// New creates a new Redis client from a URL (redis://[:password@]host[:port][/db])
func New(redisURL string) (*Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is empty")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second
	// The journal writes from the main loop and two workers
	opts.PoolSize = 4

	client := &Client{
		rdb:     goredis.NewClient(opts),
		address: opts.Addr,
	}

	log.Info().Str("addr", opts.Addr).Int("db", opts.DB).Msg("Redis client created")
	return client, nil
}

// Address returns the host:port the client dials
func (c *Client) Address() string {
	return c.address
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// XAdd appends values to stream, trimming it to roughly maxLen entries when
// maxLen is positive. It returns the id Redis assigned to the entry.
func (c *Client) XAdd(ctx context.Context, stream string, maxLen int64, values map[string]interface{}) (string, error) {
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: values,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	id, err := c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

// Close closes the connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}
