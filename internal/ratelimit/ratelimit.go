// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package ratelimit provides echo rate limiter stores for issue admission
// control.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ErrUnknownStore indicates an unsupported rate limit backend.
var ErrUnknownStore = errors.New("ratelimit: unknown store")

// Config describes a budget of Limit requests per Window for each client.
type Config struct {
	Window time.Duration
	Limit  int
}

// New returns the store for the named backend. client is only used by the
// redis backend.
func New(name string, cfg Config, client *redis.Client) (middleware.RateLimiterStore, error) {
	switch strings.ToLower(name) {
	case StoreMemory:
		return NewMemory(cfg), nil
	case StoreRedis:
		if client == nil {
			return nil, errors.New("ratelimit: redis store needs a client")
		}
		return NewRedis(client, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, name)
	}
}

// NewMemory returns echo's in-process token bucket store refilled at
// Limit per Window with a burst of Limit.
func NewMemory(cfg Config) middleware.RateLimiterStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(float64(cfg.Limit) / cfg.Window.Seconds()),
		Burst:     cfg.Limit,
		ExpiresIn: cfg.Window,
	})
}

// windowScript counts a hit and makes sure the counter expires. A key left
// without a TTL by an older writer is given one on the next hit.
var windowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Redis is a fixed window counter shared by every instance.
type Redis struct {
	client  *redis.Client
	prefix  string
	cfg     Config
	timeout time.Duration
}

// NewRedis returns a store counting hits under the "ratelimit:issue:" prefix.
func NewRedis(client *redis.Client, cfg Config) *Redis {
	return &Redis{
		client:  client,
		prefix:  "ratelimit:issue:",
		cfg:     cfg,
		timeout: 2 * time.Second,
	}
}

// Allow counts a request for identifier and reports whether it fits the
// current window. Counting and expiry happen in one script, so a counter
// can never outlive its window.
func (r *Redis) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	count, err := windowScript.Run(ctx, r.client, []string{r.prefix + identifier}, r.cfg.Window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit window: %w", err)
	}

	return count <= int64(r.cfg.Limit), nil
}
