// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"io"
	"log/slog"
	"strings"

	"codeberg.org/oliverandrich/mailotp/internal/config"
	"github.com/lmittmann/tint"
)

// newLogger builds the process logger. Every record carries the service name
// so log lines stay attributable when several services share a sink.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{Level: level, TimeFormat: "15:04:05.000"})
	}

	return slog.New(handler).With("service", "mailotp")
}
