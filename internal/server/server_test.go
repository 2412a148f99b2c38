// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/clock"
	"codeberg.org/oliverandrich/mailotp/internal/config"
	"codeberg.org/oliverandrich/mailotp/internal/i18n"
	"codeberg.org/oliverandrich/mailotp/internal/ratelimit"
	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"codeberg.org/oliverandrich/mailotp/internal/store"
	"codeberg.org/oliverandrich/mailotp/internal/testutil"
	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "localhost", Port: 3000, MaxBodySize: 16, CORSAllowedOrigins: []string{"https://app.example"}},
		Log:      config.LogConfig{Level: "info", Format: "text"},
		Database: config.DatabaseConfig{DSN: ":memory:"},
		OTP: config.OTPConfig{
			TTL:           5 * time.Minute,
			MaxAttempts:   3,
			CodeMin:       1000,
			CodeMax:       9999,
			SweepInterval: time.Minute,
		},
		RateLimit: config.RateLimitConfig{Window: 15 * time.Minute, Limit: 5, Store: "memory"},
		Store:     config.StoreConfig{Driver: "memory"},
		Notifier:  config.NotifierConfig{Driver: "log"},
		Directory: config.DirectoryConfig{Driver: "none"},
	}
}

// newTestApp wires the app by hand so the notifier can be inspected.
func newTestApp(t *testing.T, cfg *config.Config) (*App, *testutil.Notifier) {
	t.Helper()
	require.NoError(t, i18n.Init())

	st := store.NewMemory(clock.New())
	n := testutil.NewNotifier()
	app := &App{
		store:   st,
		limiter: ratelimit.NewMemory(ratelimit.Config{Window: cfg.RateLimit.Window, Limit: cfg.RateLimit.Limit}),
		sweeper: store.NewSweeper(st, cfg.OTP.SweepInterval),
		service: otp.NewService(st, n, otp.DefaultConfig()),
	}
	t.Cleanup(app.Close)
	return app, n
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return doFrom(t, h, "", method, path, body, header)
}

// doFrom sends the request from the given TCP peer address.
func doFrom(t *testing.T, h http.Handler, peer, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if peer != "" {
		req.RemoteAddr = peer
	}
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_IssueVerifyRoundTrip(t *testing.T) {
	cfg := testConfig()
	app, n := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	rec := do(t, e, http.MethodPost, "/issue", `{"email":"Alice@Example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	code, ok := n.LastCode("alice@example.com")
	require.True(t, ok)

	rec = do(t, e, http.MethodGet, "/health", "", nil)
	assert.JSONEq(t, `{"status":"healthy","activeRecords":1}`, rec.Body.String())

	rec = do(t, e, http.MethodPost, "/verify", `{"email":"alice@example.com","code":"`+code+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())

	rec = do(t, e, http.MethodGet, "/health", "", nil)
	assert.JSONEq(t, `{"status":"healthy","activeRecords":0}`, rec.Body.String())
}

func TestRoutes_SendCodeAlias(t *testing.T) {
	cfg := testConfig()
	app, n := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	rec := do(t, e, http.MethodPost, "/send-code", `{"email":"bob@example.com"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, n.Sent(), 1)
}

func TestRoutes_IssueRateLimited(t *testing.T) {
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	const peer = "203.0.113.7:51000"
	for i := range 5 {
		rec := doFrom(t, e, peer, http.MethodPost, "/issue", `{"email":"user`+string(rune('a'+i))+`@example.com"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doFrom(t, e, peer, http.MethodPost, "/issue", `{"email":"late@example.com"}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, false, resp["success"])
}

func TestRoutes_IssueRateLimitIgnoresForwardedHeaders(t *testing.T) {
	cfg := testConfig()
	app, n := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	const peer = "203.0.113.8:51000"
	accepted := 0
	for i := range 20 {
		spoof := map[string]string{
			echo.HeaderXForwardedFor: fmt.Sprintf("198.51.100.%d", i+1),
			echo.HeaderXRealIP:       fmt.Sprintf("198.51.100.%d", i+1),
		}
		rec := doFrom(t, e, peer, http.MethodPost, "/issue", fmt.Sprintf(`{"email":"spoof%d@example.com"}`, i), spoof)
		if rec.Code == http.StatusOK {
			accepted++
		}
	}

	assert.Equal(t, 5, accepted)
	assert.Len(t, n.Sent(), 5)
}

func TestRoutes_IssueRateLimitBehindTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	app, _ := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	const proxy = "10.0.0.2:51000"
	from := func(client string) map[string]string {
		return map[string]string{echo.HeaderXForwardedFor: client}
	}

	for i := range 5 {
		rec := doFrom(t, e, proxy, http.MethodPost, "/issue", fmt.Sprintf(`{"email":"p%d@example.com"}`, i), from("198.51.100.1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := doFrom(t, e, proxy, http.MethodPost, "/issue", `{"email":"p9@example.com"}`, from("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	rec = doFrom(t, e, proxy, http.MethodPost, "/issue", `{"email":"other@example.com"}`, from("198.51.100.2"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_GermanErrors(t *testing.T) {
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	rec := do(t, e, http.MethodPost, "/verify", `{"email":"a@example.com","code":"1234"}`, map[string]string{"Accept-Language": "de"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Kein Code gefunden")
}

func TestRoutes_UnknownRoute(t *testing.T) {
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	rec := do(t, e, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestRoutes_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Server.MaxBodySize = 1
	app, _ := newTestApp(t, cfg)
	e := newEcho(cfg, app)

	body := `{"email":"` + strings.Repeat("a", 2048) + `@example.com"}`
	rec := do(t, e, http.MethodPost, "/issue", body, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestWrapCORS(t *testing.T) {
	cfg := testConfig()
	app, _ := newTestApp(t, cfg)
	h := wrapCORS(newEcho(cfg, app), cfg.Server.CORSAllowedOrigins)

	req := httptest.NewRequest(http.MethodOptions, "/issue", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/issue", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewApp_Memory(t *testing.T) {
	require.NoError(t, i18n.Init())

	app, err := newApp(context.Background(), testConfig())
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.db)
	assert.Nil(t, app.redis)
	assert.IsType(t, &store.Memory{}, app.store)
}

func TestNewApp_SQLiteAndRedis(t *testing.T) {
	require.NoError(t, i18n.Init())
	mr := miniredis.RunT(t)

	cfg := testConfig()
	cfg.Store.Driver = "sqlite"
	cfg.Directory.Driver = "sqlite"
	cfg.RateLimit.Store = "redis"
	cfg.Store.RedisURL = "redis://" + mr.Addr() + "/0"

	app, err := newApp(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.db)
	assert.NotNil(t, app.redis)
	assert.IsType(t, &store.SQLite{}, app.store)
	assert.IsType(t, &ratelimit.Redis{}, app.limiter)
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := testConfig()
	cfg.Store.Driver = "redis"
	cfg.Store.RedisURL = "redis://" + addr + "/0"

	_, err := newApp(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis")
}
