// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "otp:"

var (
	// KEYS[1] record key; ARGV id, email, code, attempts, created_at_ms,
	// expires_at_ms, ttl_ms.
	createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], "id", ARGV[1], "email", ARGV[2], "code", ARGV[3],
  "attempts", ARGV[4], "created_at_ms", ARGV[5], "expires_at_ms", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ARGV[7])
return 1
`)

	putScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "id", ARGV[1], "email", ARGV[2], "code", ARGV[3],
  "attempts", ARGV[4], "created_at_ms", ARGV[5], "expires_at_ms", ARGV[6])
redis.call("PEXPIRE", KEYS[1], ARGV[7])
return 1
`)

	// ARGV id, limit. Returns the new count, -1 for a missing or replaced
	// record, -2 when the limit is reached. HINCRBY keeps the key TTL.
	incrementScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") ~= ARGV[1] then
  return -1
end
local attempts = tonumber(redis.call("HGET", KEYS[1], "attempts"))
if attempts >= tonumber(ARGV[2]) then
  return -2
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`)

	// ARGV id.
	deleteIfScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "id") == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
)

// Redis stores each record as a hash whose key TTL matches the record
// expiry. An expired record is removed by Redis itself and reads as absent.
// Every conditional write runs as a script, so instances sharing the server
// never interleave inside one update.
type Redis struct {
	client *redis.Client
	clock  clock.Clock
}

// redisRow is the hash layout of a record.
type redisRow struct {
	ID          string `redis:"id"`
	Email       string `redis:"email"`
	Code        string `redis:"code"`
	Attempts    int    `redis:"attempts"`
	CreatedAtMs int64  `redis:"created_at_ms"`
	ExpiresAtMs int64  `redis:"expires_at_ms"`
}

// NewRedis creates a store on top of an existing client.
func NewRedis(client *redis.Client, clk clock.Clock) *Redis {
	return &Redis{client: client, clock: clk}
}

func redisKey(email string) string {
	return redisKeyPrefix + email
}

func recordArgs(rec *models.OTPRecord, ttl time.Duration) []any {
	return []any{
		rec.ID,
		rec.Email,
		rec.Code,
		rec.Attempts,
		rec.CreatedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		ttl.Milliseconds(),
	}
}

// Create writes rec unless the key exists. Expired records have already
// been dropped by Redis.
func (s *Redis) Create(ctx context.Context, rec *models.OTPRecord) error {
	ttl := rec.TTL(s.clock.Now())
	if ttl <= 0 {
		return fmt.Errorf("create otp record: already expired")
	}

	created, err := createScript.Run(ctx, s.client, []string{redisKey(rec.Email)}, recordArgs(rec, ttl)...).Int()
	if err != nil {
		return fmt.Errorf("create otp record: %w", err)
	}
	if created == 0 {
		return ErrExists
	}
	return nil
}

// Put replaces the record keeping its expiry. A record that is already
// past its expiry is deleted instead.
func (s *Redis) Put(ctx context.Context, rec *models.OTPRecord) error {
	ttl := rec.TTL(s.clock.Now())
	if ttl <= 0 {
		return s.Delete(ctx, rec.Email)
	}

	if err := putScript.Run(ctx, s.client, []string{redisKey(rec.Email)}, recordArgs(rec, ttl)...).Err(); err != nil {
		return fmt.Errorf("put otp record: %w", err)
	}
	return nil
}

// Get reads the record hash for email.
func (s *Redis) Get(ctx context.Context, email string) (*models.OTPRecord, error) {
	cmd := s.client.HGetAll(ctx, redisKey(email))
	fields, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("get otp record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	var row redisRow
	if err := cmd.Scan(&row); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &models.OTPRecord{
		ID:        row.ID,
		Email:     row.Email,
		Code:      row.Code,
		Attempts:  row.Attempts,
		CreatedAt: time.UnixMilli(row.CreatedAtMs).UTC(),
		ExpiresAt: time.UnixMilli(row.ExpiresAtMs).UTC(),
	}, nil
}

// Delete removes the key for email.
func (s *Redis) Delete(ctx context.Context, email string) error {
	if err := s.client.Del(ctx, redisKey(email)).Err(); err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter in place.
func (s *Redis) IncrementAttempts(ctx context.Context, email, id string, limit int) (int, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{redisKey(email)}, id, limit).Int()
	if err != nil {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	switch n {
	case -1:
		return 0, ErrNotFound
	case -2:
		return limit, ErrAttemptsExhausted
	default:
		return n, nil
	}
}

// DeleteIfMatch removes the key only while it still holds record id.
func (s *Redis) DeleteIfMatch(ctx context.Context, email, id string) (bool, error) {
	n, err := deleteIfScript.Run(ctx, s.client, []string{redisKey(email)}, id).Int()
	if err != nil {
		return false, fmt.Errorf("delete otp record: %w", err)
	}
	return n > 0, nil
}

// SweepExpired is a no-op; Redis expires keys natively.
func (s *Redis) SweepExpired(_ context.Context) (int, error) {
	return 0, nil
}

// Count scans the key space for record keys.
func (s *Redis) Count(ctx context.Context) (int, error) {
	count := 0
	iter := s.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("count otp records: %w", err)
	}
	return count, nil
}

// Close is a no-op; the client is owned by the caller.
func (s *Redis) Close() error {
	return nil
}
