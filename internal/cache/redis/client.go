// Package redis carries bot state to dashboards over go-redis/v9 and holds
// the single-instance trading lock.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Kingsleysam1/polymarket-trading-bot/internal/domain"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client is the shared connection pool behind the state bus, the trading
// lock and the API rate limiter.
type Client struct {
	rdb  *redis.Client
	addr string
}

func (cfg ClientConfig) options() *redis.Options {
	o := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		o.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return o
}

// New dials cfg.Addr and pings it. A failed ping closes the pool again and
// is reported as transient.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	c := &Client{rdb: redis.NewClient(cfg.options()), addr: cfg.Addr}
	if err := c.Ping(ctx); err != nil {
		_ = c.rdb.Close()
		return nil, err
	}
	return c, nil
}

// Ping round-trips to the server.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return domain.Transient(fmt.Errorf("redis: ping %s: %w", c.addr, err))
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error { return c.rdb.Close() }
