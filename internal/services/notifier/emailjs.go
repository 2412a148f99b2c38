// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/config"
	"codeberg.org/oliverandrich/mailotp/internal/retryhttp"
)

const emailJSMaxRetries = 2

// EmailJS delivers codes through the EmailJS REST API. The template
// receives to_email, user_code, subject and message.
type EmailJS struct {
	cfg      *config.EmailJSConfig
	composer *Composer
	client   *retryhttp.Client
}

type emailJSRequest struct {
	ServiceID      string            `json:"service_id"`
	TemplateID     string            `json:"template_id"`
	UserID         string            `json:"user_id"`
	AccessToken    string            `json:"accessToken,omitempty"`
	TemplateParams map[string]string `json:"template_params"`
}

// NewEmailJS creates an EmailJS notifier.
func NewEmailJS(cfg *config.EmailJSConfig, composer *Composer, timeout time.Duration) (*EmailJS, error) {
	if cfg.Endpoint == "" || cfg.ServiceID == "" || cfg.TemplateID == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("EmailJS endpoint, service, template and user IDs are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &EmailJS{
		cfg:      cfg,
		composer: composer,
		client:   retryhttp.New(timeout, emailJSMaxRetries),
	}, nil
}

// Client exposes the retrying client so tests can tune it.
func (e *EmailJS) Client() *retryhttp.Client {
	return e.client
}

// Send posts the code to EmailJS. Anything but 200 is a failure.
func (e *EmailJS) Send(ctx context.Context, email, code string) error {
	subject, body := e.composer.Compose(ctx, code)
	payload, err := json.Marshal(emailJSRequest{
		ServiceID:   e.cfg.ServiceID,
		TemplateID:  e.cfg.TemplateID,
		UserID:      e.cfg.UserID,
		AccessToken: e.cfg.AccessToken,
		TemplateParams: map[string]string{
			"to_email":  email,
			"user_code": code,
			"subject":   subject,
			"message":   body,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding emailjs request: %w", err)
	}

	resp, err := e.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("sending emailjs request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emailjs responded %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close is a no-op.
func (e *EmailJS) Close() error {
	return nil
}
