// Package hotstore is the Redis-backed hot K/V layer: voice transcript
// lists, the active-task registry, rate-limit buckets, and cost
// counters, per the hot-store layout. Grounded on the teacher's
// pkg/database Config/constructor/health shape, adapted onto
// github.com/redis/go-redis/v9 (the driver used throughout
// jordigilh-kubernaut's gateway deduplication/rate-limit tests).
package hotstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Client wraps a Redis connection and exposes the hot-store
// sub-surfaces (transcripts, active tasks, rate limits, cost
// counters) over it.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis and verifies connectivity with a PING.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  nonZero(cfg.DialTimeout, 5*time.Second),
		ReadTimeout:  nonZero(cfg.ReadTimeout, 3*time.Second),
		WriteTimeout: nonZero(cfg.WriteTimeout, 3*time.Second),
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// NewClientFromRedis wraps an already-constructed *redis.Client,
// used by tests to point the hot store at a miniredis instance.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close releases the underlying connection.
func (c *Client) Close() error { return c.rdb.Close() }

// HealthStatus reports Redis connectivity.
type HealthStatus struct {
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time_ms"`
}

// Health pings Redis and reports round-trip latency.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}
	return &HealthStatus{Status: "healthy", ResponseTime: time.Since(start)}, nil
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
