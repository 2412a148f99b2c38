// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"errors"
	"fmt"
	"strings"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
	"github.com/redis/go-redis/v9"
)

const (
	// DriverMemory keeps records in process memory.
	DriverMemory = "memory"
	// DriverSQLite keeps records in the SQLite database.
	DriverSQLite = "sqlite"
	// DriverRedis keeps records in Redis with native key expiry.
	DriverRedis = "redis"
)

// Drivers lists the supported driver names.
var Drivers = []string{DriverMemory, DriverSQLite, DriverRedis}

// ErrUnknownDriver indicates an unsupported store driver.
var ErrUnknownDriver = errors.New("store: unknown driver")

// Options groups the dependencies each driver may need.
type Options struct {
	Clock clock.Clock
	Repo  *repository.Repository
	Redis *redis.Client
}

// NewFromDriver constructs a Store by driver name.
func NewFromDriver(driver string, opts Options) (Store, error) {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	switch strings.ToLower(driver) {
	case DriverMemory:
		return NewMemory(opts.Clock), nil
	case DriverSQLite:
		if opts.Repo == nil {
			return nil, errors.New("store: sqlite driver needs a repository")
		}
		return NewSQLite(opts.Repo, opts.Clock), nil
	case DriverRedis:
		if opts.Redis == nil {
			return nil, errors.New("store: redis driver needs a client")
		}
		return NewRedis(opts.Redis, opts.Clock), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
