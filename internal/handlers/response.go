// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/mailotp/internal/i18n"
	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"github.com/labstack/echo/v4"
)

// Response is the JSON envelope of the OTP endpoints.
type Response struct {
	User              any    `json:"user,omitempty"`
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	Message           string `json:"message,omitempty"`
	Success           bool   `json:"success"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind otp.Kind) int {
	switch kind {
	case otp.KindInvalidInput,
		otp.KindNotFoundOrExpired,
		otp.KindExpired,
		otp.KindExhausted,
		otp.KindMismatch:
		return http.StatusBadRequest
	case otp.KindThrottled, otp.KindRateLimited:
		return http.StatusTooManyRequests
	case otp.KindNotFound, otp.KindVerifiedButProfileMissing:
		return http.StatusNotFound
	case otp.KindNotifierFailure:
		return http.StatusBadGateway
	case otp.KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as a failed Response in the request locale.
func writeError(c echo.Context, err error) error {
	var oe *otp.Error
	if !errors.As(err, &oe) {
		slog.Error("unexpected handler error", "error", err)
		oe = &otp.Error{Kind: otp.KindInternal}
	}

	ctx := c.Request().Context()
	msg := i18n.T(ctx, oe.MessageID())
	if msg == oe.MessageID() {
		msg = oe.Message()
	}

	return c.JSON(StatusFor(oe.Kind), Response{
		Success:           false,
		Message:           msg,
		RemainingAttempts: oe.Remaining,
	})
}

// RateLimited is the deny handler of the issue rate limiter. A store error
// is reported as internal.
func RateLimited(c echo.Context, identifier string, err error) error {
	if err != nil {
		slog.Error("rate limiter failed", "identifier", identifier, "error", err)
		return writeError(c, &otp.Error{Kind: otp.KindInternal})
	}
	slog.Warn("otp_rate_limited", "identifier", identifier)
	return writeError(c, &otp.Error{Kind: otp.KindRateLimited})
}

// ErrorHandler renders echo's own errors (404 route, body limit, bad JSON)
// in the Response shape.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		slog.Error("unhandled error", "error", err)
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, Response{Success: false, Message: msg})
	}
	if err != nil {
		slog.Error("failed to write error response", "error", err)
	}
}
