// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package store

import (
	"context"
	"sync"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/models"
)

// Memory is an in-process Store. All access goes through one mutex, so a
// reader sees either the whole record or nothing.
type Memory struct { //nolint:govet // fieldalignment not critical
	mu      sync.Mutex
	records map[string]*models.OTPRecord
	clock   clock.Clock
}

// NewMemory creates an empty in-process store.
func NewMemory(clk clock.Clock) *Memory {
	return &Memory{
		records: make(map[string]*models.OTPRecord),
		clock:   clk,
	}
}

// Create inserts rec unless a live record exists for the same email.
func (m *Memory) Create(_ context.Context, rec *models.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.records[rec.Email]; ok && cur.IsLive(m.clock.Now()) {
		return ErrExists
	}
	m.records[rec.Email] = rec.Clone()
	return nil
}

// Put stores a copy of rec, replacing any record for the same email.
func (m *Memory) Put(_ context.Context, rec *models.OTPRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Email] = rec.Clone()
	return nil
}

// Get returns a copy of the record for email.
func (m *Memory) Get(_ context.Context, email string) (*models.OTPRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[email]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// Delete removes the record for email, if any.
func (m *Memory) Delete(_ context.Context, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, email)
	return nil
}

// IncrementAttempts adds one attempt to the record if it is still the one
// identified by id.
func (m *Memory) IncrementAttempts(_ context.Context, email, id string, limit int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[email]
	if !ok || rec.ID != id {
		return 0, ErrNotFound
	}
	if rec.Attempts >= limit {
		return rec.Attempts, ErrAttemptsExhausted
	}
	rec.Attempts++
	return rec.Attempts, nil
}

// DeleteIfMatch removes the record if it is still the one identified by id.
func (m *Memory) DeleteIfMatch(_ context.Context, email, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[email]
	if !ok || rec.ID != id {
		return false, nil
	}
	delete(m.records, email)
	return true, nil
}

// SweepExpired removes every record whose current ExpiresAt has passed.
func (m *Memory) SweepExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for email, rec := range m.records {
		if rec.IsExpired(now) {
			delete(m.records, email)
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of records that are not yet expired.
func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	live := 0
	for _, rec := range m.records {
		if rec.IsLive(now) {
			live++
		}
	}
	return live, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
