// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package directory resolves email addresses to user profiles.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
)

const (
	// DriverNone disables the directory.
	DriverNone = "none"
	// DriverSQLite looks users up in the users table.
	DriverSQLite = "sqlite"
	// DriverHTTP looks users up through an HTTP endpoint.
	DriverHTTP = "http"
)

// Drivers lists the supported driver names.
var Drivers = []string{DriverNone, DriverSQLite, DriverHTTP}

var (
	// ErrNotFound is returned by Lookup for unknown emails.
	ErrNotFound = errors.New("directory: user not found")
	// ErrUnknownDriver indicates an unsupported directory driver.
	ErrUnknownDriver = errors.New("directory: unknown driver")
)

// Directory resolves an email to a user.
type Directory interface {
	Lookup(ctx context.Context, email string) (*models.User, error)
}

// Options groups the dependencies each driver may need.
type Options struct {
	Repo    *repository.Repository
	URL     string
	Timeout time.Duration
}

// NewFromDriver constructs a Directory by driver name. DriverNone returns a
// nil Directory and no error.
func NewFromDriver(driver string, opts Options) (Directory, error) {
	switch strings.ToLower(driver) {
	case "", DriverNone:
		return nil, nil //nolint:nilnil // no directory configured
	case DriverSQLite:
		if opts.Repo == nil {
			return nil, errors.New("directory: sqlite driver needs a repository")
		}
		return NewSQLite(opts.Repo), nil
	case DriverHTTP:
		d, err := NewHTTP(opts.URL, opts.Timeout)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
