// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package testutil provides test helpers and fixtures.
package testutil

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"sync"
	"testing"

	"codeberg.org/oliverandrich/mailotp/internal/database"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/repository"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/vinovest/sqlx"
)

// NewTestDB creates an in-memory SQLite database for tests.
// Returns both the database connection and the repository for convenience.
func NewTestDB(t *testing.T) (*sqlx.DB, *repository.Repository) {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, repository.New(db)
}

// NewTestUser creates a test user in the database.
func NewTestUser(t *testing.T, repo *repository.Repository, email string) *models.User {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), email, "Test User")
	require.NoError(t, err)
	return user
}

// NewEchoContext creates an Echo context for handler tests.
func NewEchoContext(e *echo.Echo, method, path string, body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	return c, rec
}

// ErrDelivery is returned by a Notifier set to fail.
var ErrDelivery = errors.New("delivery failed")

// Sent is one captured notification.
type Sent struct {
	Email string
	Code  string
}

// Notifier records every code it is asked to deliver.
type Notifier struct {
	mu   sync.Mutex
	sent []Sent
	fail bool
	hook func()
}

// NewNotifier returns a notifier double that succeeds.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Send records the code or fails when configured to.
func (n *Notifier) Send(_ context.Context, email, code string) error {
	n.mu.Lock()
	hook := n.hook
	fail := n.fail
	n.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return ErrDelivery
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Sent{Email: email, Code: code})
	return nil
}

// Fail makes subsequent sends fail.
func (n *Notifier) Fail(fail bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail = fail
}

// OnSend runs fn at the start of every Send, before it succeeds or fails.
func (n *Notifier) OnSend(fn func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.hook = fn
}

// Sent returns a copy of all delivered notifications.
func (n *Notifier) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// LastCode returns the code most recently delivered to email.
func (n *Notifier) LastCode(email string) (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Email == email {
			return n.sent[i].Code, true
		}
	}
	return "", false
}
