// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers

import (
	"log/slog"
	"net/http"

	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"github.com/labstack/echo/v4"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	otp *otp.Service
}

// New creates a new Handlers instance.
func New(svc *otp.Service) *Handlers {
	return &Handlers{otp: svc}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string `json:"status"`
	ActiveRecords *int   `json:"activeRecords,omitempty"`
}

// Health reports the number of live codes.
func (h *Handlers) Health(c echo.Context) error {
	n, err := h.otp.ActiveRecords(c.Request().Context())
	if err != nil {
		slog.Error("health check failed", "error", err)
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "healthy", ActiveRecords: &n})
}
