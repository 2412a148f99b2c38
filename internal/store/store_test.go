// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store_test

import (
	"context"
	"testing"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/store"
	"codeberg.org/oliverandrich/mailotp/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 5 * time.Minute

type harness struct {
	store  store.Store
	clock  *clock.Fake
	mr     *miniredis.Miniredis
	native bool // backend expires records on its own
}

// advance moves both the fake clock and, for Redis, the server clock.
func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	if h.mr != nil {
		h.mr.FastForward(d)
	}
}

func newHarnesses(t *testing.T) map[string]*harness {
	t.Helper()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	memClock := clock.NewFake(start)
	sqlClock := clock.NewFake(start)
	redisClock := clock.NewFake(start)

	_, repo := testutil.NewTestDB(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]*harness{
		store.DriverMemory: {store: store.NewMemory(memClock), clock: memClock},
		store.DriverSQLite: {store: store.NewSQLite(repo, sqlClock), clock: sqlClock},
		store.DriverRedis:  {store: store.NewRedis(client, redisClock), clock: redisClock, mr: mr, native: true},
	}
}

func newRecord(now time.Time, email, code string) *models.OTPRecord {
	return &models.OTPRecord{
		ID:        email + "-" + code,
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := newRecord(h.clock.Now(), "alice@example.com", "1234")

			require.NoError(t, h.store.Create(ctx, rec))

			got, err := h.store.Get(ctx, "alice@example.com")
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.Equal(t, "1234", got.Code)
			assert.Equal(t, 0, got.Attempts)
			assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestStore_CreateLiveRecordReturnsErrExists(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := newRecord(h.clock.Now(), "bob@example.com", "1111")
			require.NoError(t, h.store.Create(ctx, first))

			h.advance(time.Minute)
			second := newRecord(h.clock.Now(), "bob@example.com", "2222")
			err := h.store.Create(ctx, second)
			require.ErrorIs(t, err, store.ErrExists)

			got, err := h.store.Get(ctx, "bob@example.com")
			require.NoError(t, err)
			assert.Equal(t, "1111", got.Code)
		})
	}
}

func TestStore_CreateReplacesExpiredRecord(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "carol@example.com", "1111")))

			h.advance(ttl + time.Second)
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "carol@example.com", "2222")))

			got, err := h.store.Get(ctx, "carol@example.com")
			require.NoError(t, err)
			assert.Equal(t, "2222", got.Code)
		})
	}
}

func TestStore_GetMissing(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			_, err := h.store.Get(context.Background(), "nobody@example.com")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_GetExpired(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "dave@example.com", "1234")))

			h.advance(ttl + time.Second)
			got, err := h.store.Get(ctx, "dave@example.com")
			if h.native {
				require.ErrorIs(t, err, store.ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.IsExpired(h.clock.Now()))
		})
	}
}

func TestStore_PutKeepsExpiry(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := newRecord(h.clock.Now(), "erin@example.com", "1234")
			require.NoError(t, h.store.Create(ctx, rec))

			h.advance(time.Minute)
			rec.Attempts = 2
			require.NoError(t, h.store.Put(ctx, rec))

			got, err := h.store.Get(ctx, "erin@example.com")
			require.NoError(t, err)
			assert.Equal(t, 2, got.Attempts)
			assert.Equal(t, "1234", got.Code)
			assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "frank@example.com", "1234")))

			require.NoError(t, h.store.Delete(ctx, "frank@example.com"))
			require.NoError(t, h.store.Delete(ctx, "frank@example.com"))

			_, err := h.store.Get(ctx, "frank@example.com")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_IncrementAttempts(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := newRecord(h.clock.Now(), "ivy@example.com", "1234")
			require.NoError(t, h.store.Create(ctx, rec))

			for want := 1; want <= 3; want++ {
				n, err := h.store.IncrementAttempts(ctx, "ivy@example.com", rec.ID, 3)
				require.NoError(t, err)
				assert.Equal(t, want, n)
			}

			_, err := h.store.IncrementAttempts(ctx, "ivy@example.com", rec.ID, 3)
			require.ErrorIs(t, err, store.ErrAttemptsExhausted)

			got, err := h.store.Get(ctx, "ivy@example.com")
			require.NoError(t, err)
			assert.Equal(t, 3, got.Attempts)
			assert.Equal(t, "1234", got.Code)
			assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
		})
	}
}

func TestStore_IncrementAttemptsReplacedOrMissing(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := h.store.IncrementAttempts(ctx, "jack@example.com", "gone", 3)
			require.ErrorIs(t, err, store.ErrNotFound)

			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "jack@example.com", "1234")))
			_, err = h.store.IncrementAttempts(ctx, "jack@example.com", "older-id", 3)
			require.ErrorIs(t, err, store.ErrNotFound)

			got, err := h.store.Get(ctx, "jack@example.com")
			require.NoError(t, err)
			assert.Equal(t, 0, got.Attempts)
		})
	}
}

func TestStore_DeleteIfMatch(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := newRecord(h.clock.Now(), "kim@example.com", "1234")
			require.NoError(t, h.store.Create(ctx, rec))

			deleted, err := h.store.DeleteIfMatch(ctx, "kim@example.com", "other-id")
			require.NoError(t, err)
			assert.False(t, deleted)
			_, err = h.store.Get(ctx, "kim@example.com")
			require.NoError(t, err)

			deleted, err = h.store.DeleteIfMatch(ctx, "kim@example.com", rec.ID)
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = h.store.DeleteIfMatch(ctx, "kim@example.com", rec.ID)
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = h.store.Get(ctx, "kim@example.com")
			require.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_SweepAndCount(t *testing.T) {
	for name, h := range newHarnesses(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "old@example.com", "1111")))

			h.advance(3 * time.Minute)
			require.NoError(t, h.store.Create(ctx, newRecord(h.clock.Now(), "new@example.com", "2222")))

			count, err := h.store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 2, count)

			h.advance(3 * time.Minute)

			count, err = h.store.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			removed, err := h.store.SweepExpired(ctx)
			require.NoError(t, err)
			if h.native {
				assert.Equal(t, 0, removed)
			} else {
				assert.Equal(t, 1, removed)
			}

			_, err = h.store.Get(ctx, "old@example.com")
			require.ErrorIs(t, err, store.ErrNotFound)
			_, err = h.store.Get(ctx, "new@example.com")
			require.NoError(t, err)
		})
	}
}

func TestMemory_ReturnsCopies(t *testing.T) {
	clk := clock.NewFake(time.Now())
	s := store.NewMemory(clk)
	ctx := context.Background()

	rec := newRecord(clk.Now(), "gina@example.com", "1234")
	require.NoError(t, s.Create(ctx, rec))
	rec.Attempts = 3

	got, err := s.Get(ctx, "gina@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Attempts)

	got.Code = "0000"
	again, err := s.Get(ctx, "gina@example.com")
	require.NoError(t, err)
	assert.Equal(t, "1234", again.Code)
}

func TestRedis_PutExpiredDeletes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFake(time.Now())
	s := store.NewRedis(client, clk)
	ctx := context.Background()

	rec := newRecord(clk.Now(), "hank@example.com", "1234")
	require.NoError(t, s.Create(ctx, rec))
	assert.True(t, mr.Exists("otp:hank@example.com"))

	clk.Advance(ttl + time.Second)
	require.NoError(t, s.Put(ctx, rec))
	assert.False(t, mr.Exists("otp:hank@example.com"))
}

func TestRedis_IncrementKeepsTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clk := clock.NewFake(time.Now())
	s := store.NewRedis(client, clk)
	ctx := context.Background()

	rec := newRecord(clk.Now(), "ian@example.com", "1234")
	require.NoError(t, s.Create(ctx, rec))
	assert.Equal(t, ttl, mr.TTL("otp:ian@example.com"))

	mr.FastForward(time.Minute)
	_, err := s.IncrementAttempts(ctx, "ian@example.com", rec.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, ttl-time.Minute, mr.TTL("otp:ian@example.com"))
	assert.Equal(t, "1", mr.HGet("otp:ian@example.com", "attempts"))
}

func TestNewFromDriver(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts := store.Options{Repo: repo, Redis: client}

	s, err := store.NewFromDriver("memory", opts)
	require.NoError(t, err)
	assert.IsType(t, &store.Memory{}, s)

	s, err = store.NewFromDriver("SQLite", opts)
	require.NoError(t, err)
	assert.IsType(t, &store.SQLite{}, s)

	s, err = store.NewFromDriver("redis", opts)
	require.NoError(t, err)
	assert.IsType(t, &store.Redis{}, s)

	_, err = store.NewFromDriver("etcd", opts)
	require.ErrorIs(t, err, store.ErrUnknownDriver)

	_, err = store.NewFromDriver("redis", store.Options{})
	require.Error(t, err)
}
