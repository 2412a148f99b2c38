// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package repository

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/models"
)

// otpRow stores timestamps as unix milliseconds so range comparisons in SQL
// stay numeric.
type otpRow struct {
	ID          string `db:"id"`
	Email       string `db:"email"`
	Code        string `db:"code"`
	Attempts    int    `db:"attempts"`
	CreatedAtMs int64  `db:"created_at_ms"`
	ExpiresAtMs int64  `db:"expires_at_ms"`
}

func toRow(rec *models.OTPRecord) otpRow {
	return otpRow{
		ID:          rec.ID,
		Email:       rec.Email,
		Code:        rec.Code,
		Attempts:    rec.Attempts,
		CreatedAtMs: rec.CreatedAt.UnixMilli(),
		ExpiresAtMs: rec.ExpiresAt.UnixMilli(),
	}
}

func (row otpRow) record() *models.OTPRecord {
	return &models.OTPRecord{
		ID:        row.ID,
		Email:     row.Email,
		Code:      row.Code,
		Attempts:  row.Attempts,
		CreatedAt: time.UnixMilli(row.CreatedAtMs).UTC(),
		ExpiresAt: time.UnixMilli(row.ExpiresAtMs).UTC(),
	}
}

// CreateOTPRecord inserts rec unless a record for the same email is still
// live at now. An expired record is replaced. Reports whether rec was written.
func (r *Repository) CreateOTPRecord(ctx context.Context, rec *models.OTPRecord, now time.Time) (bool, error) {
	row := toRow(rec)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_records (email, id, code, attempts, created_at_ms, expires_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
		   id = excluded.id,
		   code = excluded.code,
		   attempts = excluded.attempts,
		   created_at_ms = excluded.created_at_ms,
		   expires_at_ms = excluded.expires_at_ms
		 WHERE otp_records.expires_at_ms < ?`,
		row.Email, row.ID, row.Code, row.Attempts, row.CreatedAtMs, row.ExpiresAtMs, now.UnixMilli())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertOTPRecord inserts or replaces the record for rec.Email.
func (r *Repository) UpsertOTPRecord(ctx context.Context, rec *models.OTPRecord) error {
	row := toRow(rec)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otp_records (email, id, code, attempts, created_at_ms, expires_at_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (email) DO UPDATE SET
		   id = excluded.id,
		   code = excluded.code,
		   attempts = excluded.attempts,
		   created_at_ms = excluded.created_at_ms,
		   expires_at_ms = excluded.expires_at_ms`,
		row.Email, row.ID, row.Code, row.Attempts, row.CreatedAtMs, row.ExpiresAtMs)
	return err
}

// GetOTPRecord retrieves the record for an email.
func (r *Repository) GetOTPRecord(ctx context.Context, email string) (*models.OTPRecord, error) {
	var row otpRow
	err := r.db.GetContext(ctx, &row,
		`SELECT email, id, code, attempts, created_at_ms, expires_at_ms FROM otp_records WHERE email = ?`, email)
	if err != nil {
		return nil, wrapError(err)
	}
	return row.record(), nil
}

// DeleteOTPRecord deletes the record for an email. Deleting a missing record is not an error.
func (r *Repository) DeleteOTPRecord(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otp_records WHERE email = ?`, email)
	return err
}

// IncrementOTPAttempts adds one attempt to the record for email when its ID
// is id and it has fewer than limit attempts. It returns the new count, or
// ErrNotFound when no row qualified.
func (r *Repository) IncrementOTPAttempts(ctx context.Context, email, id string, limit int) (int, error) {
	var attempts int
	err := r.db.GetContext(ctx, &attempts,
		`UPDATE otp_records SET attempts = attempts + 1
		 WHERE email = ? AND id = ? AND attempts < ?
		 RETURNING attempts`,
		email, id, limit)
	if err != nil {
		return 0, wrapError(err)
	}
	return attempts, nil
}

// DeleteOTPRecordIfID deletes the record for email only if its ID is id.
// Reports whether a row was deleted.
func (r *Repository) DeleteOTPRecordIfID(ctx context.Context, email, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_records WHERE email = ? AND id = ?`, email, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpiredOTPRecords deletes records that expired before now.
func (r *Repository) DeleteExpiredOTPRecords(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM otp_records WHERE expires_at_ms < ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountLiveOTPRecords returns the number of records not yet expired at now.
func (r *Repository) CountLiveOTPRecords(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.GetContext(ctx, &count, `SELECT count(*) FROM otp_records WHERE expires_at_ms >= ?`, now.UnixMilli())
	return count, err
}
