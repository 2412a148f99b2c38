// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package models

import "time"

// OTPRecord is the outstanding one-time passcode for an email address.
type OTPRecord struct { //nolint:govet // fieldalignment: readability over optimization
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Code      string    `db:"code" json:"code"`
	Attempts  int       `db:"attempts" json:"attempts"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
}

// IsExpired reports whether the record is past its expiry at now.
func (r *OTPRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsLive reports whether the record still blocks a reissue at now.
func (r *OTPRecord) IsLive(now time.Time) bool {
	return !r.IsExpired(now)
}

// TTL returns the time left until expiry, never negative.
func (r *OTPRecord) TTL(now time.Time) time.Duration {
	return max(r.ExpiresAt.Sub(now), 0)
}

// Clone returns a copy so stores never hand out their own pointers.
func (r *OTPRecord) Clone() *OTPRecord {
	c := *r
	return &c
}
