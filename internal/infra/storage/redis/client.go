// Package redis persists transaction history and the error log in Redis.
//
// History lives in one sorted set per network scored by submission time in
// unix milliseconds; members are JSON records. The error log is a single
// list trimmed to the configured bound on every append.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/txwatch/internal/infra/storage"
)

const DefaultPrefix = "txwatch"

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Prefix   string `yaml:"prefix"`
}

// Client wraps the Redis connection shared by both repositories.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient parses cfg.URL, connects and pings the server.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newClient(rdb, cfg.Prefix), nil
}

func newClient(rdb *redis.Client, prefix string) *Client {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Client{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Repositories returns the history and error repositories backed by c.
func (c *Client) Repositories(maxErrors int) (storage.HistoryRepository, storage.ErrorRepository) {
	return NewHistoryRepo(c), NewErrorRepo(c, maxErrors)
}

// Key helpers
func (c *Client) historyKey(network string) string {
	return fmt.Sprintf("%s:history:%s", c.prefix, network)
}

func (c *Client) networksKey() string {
	return c.prefix + ":networks"
}

func (c *Client) errorsKey() string {
	return c.prefix + ":errors"
}
