// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package handlers_test

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/i18n"
	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/services/directory"
	"codeberg.org/oliverandrich/mailotp/internal/services/otp"
	"codeberg.org/oliverandrich/mailotp/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func testRecord(now time.Time) *models.OTPRecord {
	return &models.OTPRecord{
		ID:        "rec-1",
		Email:     "seed@x.io",
		Code:      "1234",
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func (env *env) issue(t *testing.T, body string) (int, verifyResponse) {
	t.Helper()
	c, rec := testutil.NewEchoContext(env.e, http.MethodPost, "/issue", strings.NewReader(body))
	require.NoError(t, env.h.Issue(c))
	return rec.Code, decode(t, rec.Body.Bytes())
}

func (env *env) verify(t *testing.T, body string) (int, verifyResponse) {
	t.Helper()
	c, rec := testutil.NewEchoContext(env.e, http.MethodPost, "/verify", strings.NewReader(body))
	require.NoError(t, env.h.Verify(c))
	return rec.Code, decode(t, rec.Body.Bytes())
}

type verifyResponse struct {
	User              map[string]any `json:"user"`
	RemainingAttempts *int           `json:"remaining_attempts"`
	Message           string         `json:"message"`
	Success           bool           `json:"success"`
}

func decode(t *testing.T, body []byte) verifyResponse {
	t.Helper()
	var r verifyResponse
	require.NoError(t, json.Unmarshal(body, &r))
	return r
}

func verifyBody(email, code string) string {
	b, _ := json.Marshal(map[string]string{"email": email, "code": code})
	return string(b)
}

func TestIssue(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())

	status, resp := env.issue(t, `{"email":"a@x.io"}`)

	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.Message)

	code, ok := env.notifier.LastCode("a@x.io")
	require.True(t, ok)
	assert.Len(t, code, 4)
}

func TestIssue_DoesNotEchoCode(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())

	c, rec := testutil.NewEchoContext(env.e, http.MethodPost, "/issue", strings.NewReader(`{"email":"a@x.io"}`))
	require.NoError(t, env.h.Issue(c))

	code, _ := env.notifier.LastCode("a@x.io")
	assert.NotContains(t, rec.Body.String(), code)
}

func TestIssue_InvalidInput(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())

	for _, body := range []string{`{}`, `{"email":""}`, `{"email":"nope"}`, `not json`} {
		status, resp := env.issue(t, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.False(t, resp.Success)
		assert.Equal(t, "A valid email address is required", resp.Message)
	}
	assert.Empty(t, env.notifier.Sent())
}

func TestIssue_Throttled(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.issue(t, `{"email":"a@x.io"}`)

	status, resp := env.issue(t, `{"email":"a@x.io"}`)

	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.False(t, resp.Success)
	assert.Len(t, env.notifier.Sent(), 1)
}

func TestIssue_NotifierFailure(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.notifier.Fail(true)

	status, resp := env.issue(t, `{"email":"a@x.io"}`)

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "Failed to send the verification code", resp.Message)
}

func TestIssue_UnknownUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	env := newEnv(t, otp.DefaultConfig(), otp.WithDirectory(directory.NewSQLite(repo)))

	status, resp := env.issue(t, `{"email":"stranger@x.io"}`)

	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, resp.Success)
}

func TestVerify(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.issue(t, `{"email":"a@x.io"}`)
	code, _ := env.notifier.LastCode("a@x.io")

	status, resp := env.verify(t, verifyBody("a@x.io", code))
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Success)
	assert.Nil(t, resp.User)

	status, resp = env.verify(t, verifyBody("a@x.io", code))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "No code found or it has expired", resp.Message)
}

func TestVerify_WithUser(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	testutil.NewTestUser(t, repo, "member@x.io")
	env := newEnv(t, otp.DefaultConfig(), otp.WithDirectory(directory.NewSQLite(repo)))

	env.issue(t, `{"email":"member@x.io"}`)
	code, _ := env.notifier.LastCode("member@x.io")

	status, resp := env.verify(t, verifyBody("member@x.io", code))
	assert.Equal(t, http.StatusOK, status)
	require.NotNil(t, resp.User)
	assert.Equal(t, "member@x.io", resp.User["email"])
}

func TestVerify_ProfileMissing(t *testing.T) {
	_, repo := testutil.NewTestDB(t)
	testutil.NewTestUser(t, repo, "leaver@x.io")
	env := newEnv(t, otp.DefaultConfig(), otp.WithDirectory(directory.NewSQLite(repo)))

	env.issue(t, `{"email":"leaver@x.io"}`)
	code, _ := env.notifier.LastCode("leaver@x.io")
	require.NoError(t, repo.DeleteUser(t.Context(), "leaver@x.io"))

	status, _ := env.verify(t, verifyBody("leaver@x.io", code))
	assert.Equal(t, http.StatusNotFound, status)
}

func TestVerify_MissingFields(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())

	for _, body := range []string{`{}`, `{"email":"a@x.io"}`, `{"code":"1234"}`, `{"email":"a@x.io","code":"  "}`} {
		status, resp := env.verify(t, body)
		assert.Equal(t, http.StatusBadRequest, status, body)
		assert.Equal(t, "Email and code are required", resp.Message, body)
	}
}

func TestVerify_MismatchHidesRemaining(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.issue(t, `{"email":"a@x.io"}`)
	code, _ := env.notifier.LastCode("a@x.io")

	status, resp := env.verify(t, verifyBody("a@x.io", wrongCode(code)))

	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid code", resp.Message)
	assert.Nil(t, resp.RemainingAttempts)
}

func TestVerify_MismatchRevealsRemaining(t *testing.T) {
	cfg := otp.DefaultConfig()
	cfg.RevealAttempts = true
	env := newEnv(t, cfg)
	env.issue(t, `{"email":"a@x.io"}`)
	code, _ := env.notifier.LastCode("a@x.io")

	_, resp := env.verify(t, verifyBody("a@x.io", wrongCode(code)))

	require.NotNil(t, resp.RemainingAttempts)
	assert.Equal(t, 2, *resp.RemainingAttempts)
}

func TestVerify_Exhausted(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.issue(t, `{"email":"a@x.io"}`)
	code, _ := env.notifier.LastCode("a@x.io")

	for range 3 {
		env.verify(t, verifyBody("a@x.io", wrongCode(code)))
	}

	status, resp := env.verify(t, verifyBody("a@x.io", code))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Too many failed attempts. Please request a new code", resp.Message)
}

func TestVerify_Expired(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())
	env.issue(t, `{"email":"a@x.io"}`)
	code, _ := env.notifier.LastCode("a@x.io")

	env.clock.Advance(10 * time.Minute)

	status, resp := env.verify(t, verifyBody("a@x.io", code))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "The code has expired", resp.Message)
}

func TestVerify_GermanMessages(t *testing.T) {
	env := newEnv(t, otp.DefaultConfig())

	c, rec := testutil.NewEchoContext(env.e, http.MethodPost, "/verify", strings.NewReader(verifyBody("a@x.io", "1234")))
	req := c.Request()
	c.SetRequest(req.WithContext(i18n.WithLocale(req.Context(), language.German)))
	require.NoError(t, env.h.Verify(c))

	resp := decode(t, rec.Body.Bytes())
	assert.Equal(t, "Kein Code gefunden oder er ist abgelaufen", resp.Message)
}

func wrongCode(code string) string {
	if code == "1000" {
		return "1001"
	}
	return "1000"
}
