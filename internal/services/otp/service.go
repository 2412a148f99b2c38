// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package otp issues and verifies one-time passcodes bound to an email
// address.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/services/directory"
	"codeberg.org/oliverandrich/mailotp/internal/store"
	"github.com/google/uuid"
)

// Notifier delivers a code to an email address.
type Notifier interface {
	Send(ctx context.Context, email, code string) error
}

// UserDirectory resolves an email to a user profile. It returns an error
// matching directory.ErrNotFound when the email is unknown.
type UserDirectory interface {
	Lookup(ctx context.Context, email string) (*models.User, error)
}

// Config holds the lifecycle policy.
type Config struct {
	TTL            time.Duration
	MaxAttempts    int
	CodeMin        int
	CodeMax        int
	RevealAttempts bool
}

// DefaultConfig returns the stock policy: 4-digit codes, 5 minutes, 3 tries.
func DefaultConfig() Config {
	return Config{
		TTL:         5 * time.Minute,
		MaxAttempts: 3,
		CodeMin:     1000,
		CodeMax:     9999,
	}
}

// Verification is the result of a successful Verify.
type Verification struct {
	// User is set when a directory is configured.
	User *models.User
}

// Service is the OTP lifecycle controller.
type Service struct {
	store     store.Store
	notifier  Notifier
	directory UserDirectory
	clock     clock.Clock
	locks     *keyLock
	config    Config
}

// rollbackTimeout bounds the cleanup after a failed delivery.
const rollbackTimeout = 5 * time.Second

// Option configures optional collaborators.
type Option func(*Service)

// WithDirectory requires issued and verified emails to be known to dir.
func WithDirectory(dir UserDirectory) Option {
	return func(s *Service) {
		s.directory = dir
	}
}

// WithClock replaces the system clock.
func WithClock(clk clock.Clock) Option {
	return func(s *Service) {
		s.clock = clk
	}
}

// NewService creates the controller on top of st. The notifier is called
// outside any lock.
func NewService(st store.Store, notifier Notifier, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:    st,
		notifier: notifier,
		clock:    clock.New(),
		locks:    newKeyLock(),
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue creates a code for email and delivers it. The code is never
// returned to the caller.
func (s *Service) Issue(ctx context.Context, rawEmail string) error {
	email := NormalizeEmail(rawEmail)
	if err := ValidateEmail(email); err != nil {
		return newError(KindInvalidInput, "A valid email address is required")
	}

	rec, err := s.create(ctx, email)
	if err != nil {
		return err
	}

	if err := s.notifier.Send(ctx, email, rec.Code); err != nil {
		s.rollback(ctx, rec)
		slog.Error("otp_notify_failed", "email", email, "record_id", rec.ID, "error", err)
		return wrapError(KindNotifierFailure, err, "send code to %s", email)
	}

	slog.Info("otp_issued", "email", email, "record_id", rec.ID)
	return nil
}

// create runs the locked part of Issue: throttle check, directory check
// and the conditional insert.
func (s *Service) create(ctx context.Context, email string) (*models.OTPRecord, error) {
	unlock := s.locks.Lock(email)
	defer unlock()

	now := s.clock.Now()

	cur, err := s.store.Get(ctx, email)
	switch {
	case err == nil && cur.IsLive(now):
		return nil, newError(KindThrottled, "")
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return nil, s.internal(err, "load record for %s", email)
	}

	if s.directory != nil {
		if _, err := s.directory.Lookup(ctx, email); err != nil {
			if errors.Is(err, directory.ErrNotFound) {
				return nil, newError(KindNotFound, "")
			}
			return nil, s.internal(err, "look up %s", email)
		}
	}

	code, err := GenerateCode(s.config.CodeMin, s.config.CodeMax)
	if err != nil {
		return nil, s.internal(err, "generate code")
	}

	rec := &models.OTPRecord{
		ID:        uuid.NewString(),
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.config.TTL),
	}

	if err := s.store.Create(ctx, rec); err != nil {
		if errors.Is(err, store.ErrExists) {
			return nil, newError(KindThrottled, "")
		}
		return nil, s.internal(err, "store record for %s", email)
	}
	return rec, nil
}

// rollback removes rec unless it has already been replaced. It runs detached
// from the request so a caller that hung up during delivery does not leave
// the email throttled for the whole TTL.
func (s *Service) rollback(ctx context.Context, rec *models.OTPRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	unlock := s.locks.Lock(rec.Email)
	defer unlock()

	if _, err := s.store.DeleteIfMatch(ctx, rec.Email, rec.ID); err != nil {
		slog.Error("otp_rollback_failed", "email", rec.Email, "record_id", rec.ID, "error", err)
	}
}

// Verify checks code against the outstanding record for email. A matching
// code consumes the record.
func (s *Service) Verify(ctx context.Context, rawEmail, rawCode string) (*Verification, error) {
	email := NormalizeEmail(rawEmail)
	code := strings.TrimSpace(rawCode)
	if email == "" || code == "" {
		return nil, MissingFields()
	}

	if err := s.consume(ctx, email, code); err != nil {
		return nil, err
	}

	v := &Verification{}
	if s.directory != nil {
		user, err := s.directory.Lookup(ctx, email)
		if err != nil {
			if !errors.Is(err, directory.ErrNotFound) {
				slog.Error("otp_profile_lookup_failed", "email", email, "error", err)
			}
			return nil, newError(KindVerifiedButProfileMissing, "")
		}
		v.User = user
	}

	slog.Info("otp_verified", "email", email)
	return v, nil
}

// consume runs the locked part of Verify. The lock only orders requests
// inside this process; every write is conditional on the record ID, so
// instances sharing a store cannot overspend attempts or revive a consumed
// record.
func (s *Service) consume(ctx context.Context, email, code string) error {
	unlock := s.locks.Lock(email)
	defer unlock()

	rec, err := s.store.Get(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return newError(KindNotFoundOrExpired, "")
	}
	if err != nil {
		return s.internal(err, "load record for %s", email)
	}

	if rec.IsExpired(s.clock.Now()) {
		if _, err := s.store.DeleteIfMatch(ctx, email, rec.ID); err != nil {
			return s.internal(err, "delete expired record for %s", email)
		}
		return newError(KindExpired, "")
	}

	if rec.Attempts >= s.config.MaxAttempts {
		return s.exhaust(ctx, rec)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) != 1 {
		attempts, err := s.store.IncrementAttempts(ctx, email, rec.ID, s.config.MaxAttempts)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return newError(KindNotFoundOrExpired, "")
		case errors.Is(err, store.ErrAttemptsExhausted):
			return s.exhaust(ctx, rec)
		case err != nil:
			return s.internal(err, "record attempt for %s", email)
		}

		e := newError(KindMismatch, "")
		if s.config.RevealAttempts {
			remaining := max(s.config.MaxAttempts-attempts, 0)
			e.Remaining = &remaining
		}
		return e
	}

	consumed, err := s.store.DeleteIfMatch(ctx, email, rec.ID)
	if err != nil {
		return s.internal(err, "consume record for %s", email)
	}
	if !consumed {
		return newError(KindNotFoundOrExpired, "")
	}
	return nil
}

// exhaust deletes a record that has used up its attempts.
func (s *Service) exhaust(ctx context.Context, rec *models.OTPRecord) error {
	if _, err := s.store.DeleteIfMatch(ctx, rec.Email, rec.ID); err != nil {
		return s.internal(err, "delete exhausted record for %s", rec.Email)
	}
	slog.Warn("otp_exhausted", "email", rec.Email, "record_id", rec.ID)
	return newError(KindExhausted, "")
}

// ActiveRecords returns the number of live records.
func (s *Service) ActiveRecords(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Service) internal(err error, format string, args ...any) *Error {
	e := wrapError(KindInternal, err, format, args...)
	slog.Error("otp_internal_error", "error", e)
	return e
}
