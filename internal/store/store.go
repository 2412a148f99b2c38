// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package store holds outstanding OTP records keyed by normalized email.
package store

import (
	"context"
	"errors"

	"codeberg.org/oliverandrich/mailotp/internal/models"
)

var (
	// ErrNotFound is returned by Get when no record exists for the email.
	ErrNotFound = errors.New("store: record not found")
	// ErrExists is returned by Create when a live record already exists.
	ErrExists = errors.New("store: live record exists")
	// ErrAttemptsExhausted is returned by IncrementAttempts when the record
	// has already used up its attempts.
	ErrAttemptsExhausted = errors.New("store: attempts exhausted")
)

// Store is the backing table for OTP records.
//
// Create inserts rec unless a record for the same email is still live, and
// replaces an expired one. Put replaces unconditionally. Get may return a
// record whose ExpiresAt has passed when the backend has no native expiry;
// callers check expiry themselves.
//
// IncrementAttempts and DeleteIfMatch are compare-and-swap operations on the
// record ID. They are atomic in the backend itself, so they stay correct
// when several processes share one store.
type Store interface {
	Create(ctx context.Context, rec *models.OTPRecord) error
	Put(ctx context.Context, rec *models.OTPRecord) error
	Get(ctx context.Context, email string) (*models.OTPRecord, error)
	Delete(ctx context.Context, email string) error
	// IncrementAttempts adds one attempt to the record for email if its ID
	// is id and it has fewer than limit attempts. It returns the new count,
	// ErrNotFound when the record is gone or was replaced, and
	// ErrAttemptsExhausted when the limit was already reached.
	IncrementAttempts(ctx context.Context, email, id string, limit int) (int, error)
	// DeleteIfMatch removes the record for email only if its ID is id and
	// reports whether it did.
	DeleteIfMatch(ctx context.Context, email, id string) (bool, error)
	SweepExpired(ctx context.Context) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
