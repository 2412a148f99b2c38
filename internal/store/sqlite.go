// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"context"
	"errors"
	"fmt"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
)

// SQLite stores records in the otp_records table. Each operation is a
// single statement, so SQLite's own locking makes it atomic per row.
type SQLite struct {
	repo  *repository.Repository
	clock clock.Clock
}

// NewSQLite creates a store on top of the repository.
func NewSQLite(repo *repository.Repository, clk clock.Clock) *SQLite {
	return &SQLite{repo: repo, clock: clk}
}

// Create inserts rec unless a live row exists for the same email.
func (s *SQLite) Create(ctx context.Context, rec *models.OTPRecord) error {
	created, err := s.repo.CreateOTPRecord(ctx, rec, s.clock.Now())
	if err != nil {
		return fmt.Errorf("create otp record: %w", err)
	}
	if !created {
		return ErrExists
	}
	return nil
}

// Put upserts rec.
func (s *SQLite) Put(ctx context.Context, rec *models.OTPRecord) error {
	if err := s.repo.UpsertOTPRecord(ctx, rec); err != nil {
		return fmt.Errorf("put otp record: %w", err)
	}
	return nil
}

// Get returns the row for email, expired or not.
func (s *SQLite) Get(ctx context.Context, email string) (*models.OTPRecord, error) {
	rec, err := s.repo.GetOTPRecord(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get otp record: %w", err)
	}
	return rec, nil
}

// Delete removes the row for email, if any.
func (s *SQLite) Delete(ctx context.Context, email string) error {
	if err := s.repo.DeleteOTPRecord(ctx, email); err != nil {
		return fmt.Errorf("delete otp record: %w", err)
	}
	return nil
}

// IncrementAttempts bumps the attempt counter with a single guarded UPDATE.
func (s *SQLite) IncrementAttempts(ctx context.Context, email, id string, limit int) (int, error) {
	n, err := s.repo.IncrementOTPAttempts(ctx, email, id, limit)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}

	// Nothing was updated: tell a replaced or consumed record apart from an
	// exhausted one.
	cur, err := s.repo.GetOTPRecord(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return 0, ErrNotFound
	case err != nil:
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	case cur.ID != id:
		return 0, ErrNotFound
	default:
		return cur.Attempts, ErrAttemptsExhausted
	}
}

// DeleteIfMatch removes the row only while it still holds record id.
func (s *SQLite) DeleteIfMatch(ctx context.Context, email, id string) (bool, error) {
	deleted, err := s.repo.DeleteOTPRecordIfID(ctx, email, id)
	if err != nil {
		return false, fmt.Errorf("delete otp record: %w", err)
	}
	return deleted, nil
}

// SweepExpired deletes every expired row in one statement.
func (s *SQLite) SweepExpired(ctx context.Context) (int, error) {
	n, err := s.repo.DeleteExpiredOTPRecords(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep otp records: %w", err)
	}
	return int(n), nil
}

// Count returns the number of unexpired rows.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	n, err := s.repo.CountLiveOTPRecords(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("count otp records: %w", err)
	}
	return int(n), nil
}

// Close is a no-op; the database is owned by the caller.
func (s *SQLite) Close() error {
	return nil
}
