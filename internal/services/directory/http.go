// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/models"
	"codeberg.org/oliverandrich/mailotp/internal/retryhttp"
)

const httpMaxRetries = 2

// HTTP queries a remote user service with GET <url>?email=<email>. A 200
// response carries the profile as JSON, 404 means the user is unknown.
type HTTP struct {
	client *retryhttp.Client
	url    *url.URL
}

type httpProfile struct {
	ID          int64  `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}

// NewHTTP validates rawURL and returns a directory client.
func NewHTTP(rawURL string, timeout time.Duration) (*HTTP, error) {
	if rawURL == "" {
		return nil, errors.New("directory: http driver needs a url")
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("directory: invalid url %q", rawURL)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTP{client: retryhttp.New(timeout, httpMaxRetries), url: u}, nil
}

// Client exposes the retrying client so tests can tune it.
func (d *HTTP) Client() *retryhttp.Client {
	return d.client
}

// Lookup fetches the profile for email. A 404 maps to ErrNotFound.
func (d *HTTP) Lookup(ctx context.Context, email string) (*models.User, error) {
	u := *d.url
	q := u.Query()
	q.Set("email", email)
	u.RawQuery = q.Encode()

	resp, err := d.client.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf("lookup user: unexpected status %d", resp.StatusCode)
	}

	var p httpProfile
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if p.Email == "" {
		p.Email = email
	}
	return &models.User{ID: p.ID, Email: p.Email, DisplayName: p.DisplayName}, nil
}
