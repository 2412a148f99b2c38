// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package notifier

import (
	"context"
	"log/slog"
)

// Log writes codes to the log instead of delivering them. Development only.
type Log struct{}

// NewLog creates the log notifier and warns that it leaks codes.
func NewLog() *Log {
	slog.Warn("notifier driver 'log' writes codes to the log, do not use in production")
	return &Log{}
}

// Send logs code at info level.
func (Log) Send(_ context.Context, email, code string) error {
	slog.Info("otp_code", "email", email, "code", code)
	return nil
}

// Close is a no-op.
func (Log) Close() error {
	return nil
}
