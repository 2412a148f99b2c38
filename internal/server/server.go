// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/config"
	"codeberg.org/oliverandrich/mailotp/internal/handlers"
	"codeberg.org/oliverandrich/mailotp/internal/i18n"
	"github.com/labstack/echo/v4"
	"github.com/rs/cors"
	"github.com/urfave/cli/v3"
)

// Run starts the server with the given CLI command.
func Run(ctx context.Context, cmd *cli.Command) error {
	cfg := config.NewFromCLI(cmd)
	slog.SetDefault(newLogger(cfg.Log, os.Stdout))

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"store", cfg.Store.Driver,
		"notifier", cfg.Notifier.Driver,
		"directory", cfg.Directory.Driver,
	)

	// i18n
	if err := i18n.Init(); err != nil {
		return fmt.Errorf("failed to init i18n: %w", err)
	}

	// Store, notifier, directory, rate limiter
	app, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	// Sweeper
	app.sweeper.Start(ctx)

	// Echo
	e := newEcho(cfg, app)

	// Start server
	return startWithGracefulShutdown(e, cfg, app)
}

// newEcho builds the echo instance with middleware and routes.
func newEcho(cfg *config.Config, app *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(cfg.Server.TrustedProxies)
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = handlers.ErrorHandler

	setupMiddleware(e, cfg)
	setupRoutes(e, cfg, app)

	return e
}

func setupRoutes(e *echo.Echo, cfg *config.Config, app *App) {
	h := handlers.New(app.service)
	limit := issueRateLimiter(app.limiter)

	e.GET("/health", h.Health)
	e.POST("/issue", h.Issue, limit)
	e.POST("/send-code", h.Issue, limit)
	e.POST("/verify", h.Verify)

	slog.Debug("routes registered", "issue_limit", cfg.RateLimit.Limit, "issue_window", cfg.RateLimit.Window)
}

// ipExtractor decides which address identifies the client. Without trusted
// proxies the TCP peer is used and forwarding headers are ignored. With
// them, X-Forwarded-For is walked from the right and only hops inside the
// trusted ranges are skipped.
func ipExtractor(trusted []string) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			opts = append(opts, echo.TrustIPRange(ipNet))
		}
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// wrapCORS puts the CORS handler in front of echo so preflight requests
// are answered before routing.
func wrapCORS(e *echo.Echo, origins []string) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept-Language", echo.HeaderXRequestID},
		MaxAge:         300,
	}).Handler(e)
}

func startWithGracefulShutdown(e *echo.Echo, cfg *config.Config, app *App) error {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           wrapCORS(e, cfg.Server.CORSAllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	// Channel for server errors
	errChan := make(chan error, 1)

	go func() {
		slog.Info("Server running", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Wait for interrupt signal or error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		slog.Info("shutting down server")
	case err := <-errChan:
		slog.Error("server error", "error", err)
		return err
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shutdown server", "error", err)
	}
	app.sweeper.Stop()

	slog.Info("server stopped")
	return nil
}
