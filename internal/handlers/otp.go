// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"net/http"

	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"github.com/labstack/echo/v4"
)

// IssueRequest is the request body for issuing a code.
type IssueRequest struct {
	Email string `json:"email" validate:"required"`
}

// VerifyRequest is the request body for verifying a code.
type VerifyRequest struct {
	Email string `json:"email" validate:"required"`
	Code  string `json:"code" validate:"required"`
}

// Issue sends a new code to the requested address.
func (h *Handlers) Issue(c echo.Context) error {
	var req IssueRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, &otp.Error{Kind: otp.KindInvalidInput})
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, &otp.Error{Kind: otp.KindInvalidInput})
	}

	if err := h.otp.Issue(c.Request().Context(), req.Email); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, Response{Success: true})
}

// Verify checks a submitted code.
func (h *Handlers) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, otp.MissingFields())
	}
	if err := c.Validate(&req); err != nil {
		return writeError(c, otp.MissingFields())
	}

	v, err := h.otp.Verify(c.Request().Context(), req.Email, req.Code)
	if err != nil {
		return writeError(c, err)
	}

	resp := Response{Success: true}
	if v.User != nil {
		resp.User = v.User
	}
	return c.JSON(http.StatusOK, resp)
}
