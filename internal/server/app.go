// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/config"
	"codeberg.org/oliverandrich/mailotp/internal/database"
	"codeberg.org/oliverandrich/mailotp/internal/ratelimit"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
	"codeberg.org/oliverandrich/mailotp/internal/services/directory"
	"codeberg.org/oliverandrich/mailotp/internal/services/notifier"
	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"codeberg.org/oliverandrich/mailotp/internal/store"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/vinovest/sqlx"
)

// App owns every long-lived dependency of the server.
type App struct {
	db       *sqlx.DB
	redis    *redis.Client
	store    store.Store
	notifier notifier.Notifier
	limiter  middleware.RateLimiterStore
	sweeper  *store.Sweeper
	service  *otp.Service
}

// newApp opens the configured backends. On error everything opened so far
// is closed again.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	var err error

	var repo *repository.Repository
	if cfg.NeedsDatabase() {
		app.db, err = database.Open(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		repo = repository.New(app.db)
	}

	if cfg.NeedsRedis() {
		opts, perr := redis.ParseURL(cfg.Store.RedisURL)
		if perr != nil {
			return nil, fmt.Errorf("invalid redis url: %w", perr)
		}
		app.redis = redis.NewClient(opts)
		if err = app.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	clk := clock.New()

	app.store, err = store.NewFromDriver(cfg.Store.Driver, store.Options{
		Clock: clk,
		Repo:  repo,
		Redis: app.redis,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	app.sweeper = store.NewSweeper(app.store, cfg.OTP.SweepInterval)

	app.notifier, err = notifier.NewFromConfig(&cfg.Notifier, cfg.OTP.TTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	dir, err := directory.NewFromDriver(cfg.Directory.Driver, directory.Options{
		Repo:    repo,
		URL:     cfg.Directory.URL,
		Timeout: cfg.Directory.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	app.limiter, err = ratelimit.New(cfg.RateLimit.Store, ratelimit.Config{
		Window: cfg.RateLimit.Window,
		Limit:  cfg.RateLimit.Limit,
	}, app.redis)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}

	opts := []otp.Option{otp.WithClock(clk)}
	if dir != nil {
		opts = append(opts, otp.WithDirectory(dir))
	}
	app.service = otp.NewService(app.store, app.notifier, otp.Config{
		TTL:            cfg.OTP.TTL,
		MaxAttempts:    cfg.OTP.MaxAttempts,
		CodeMin:        cfg.OTP.CodeMin,
		CodeMax:        cfg.OTP.CodeMax,
		RevealAttempts: cfg.OTP.RevealAttempts,
	}, opts...)

	ok = true
	return app, nil
}

// Close stops the sweeper and releases every backend.
func (a *App) Close() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}

	var errs []error
	if a.notifier != nil {
		errs = append(errs, a.notifier.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Error("failed to close resources", "error", err)
	}
}
