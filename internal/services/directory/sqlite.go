// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package directory

import (
	"context"
	"errors"
	"fmt"

	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
)

// SQLite looks users up in the local users table.
type SQLite struct {
	repo *repository.Repository
}

func NewSQLite(repo *repository.Repository) *SQLite {
	return &SQLite{repo: repo}
}

// Lookup reads the users table.
func (d *SQLite) Lookup(ctx context.Context, email string) (*models.User, error) {
	user, err := d.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
