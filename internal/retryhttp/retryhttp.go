// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package retryhttp sends HTTP requests with bounded retries on transport
// errors and 5xx responses.
package retryhttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// Client wraps http.Client with a retry policy.
type Client struct {
	http       *http.Client
	base       time.Duration
	maxRetries uint64
}

// New returns a client that gives up after maxRetries retries. Each attempt
// is bounded by timeout.
func New(timeout time.Duration, maxRetries uint64) *Client {
	return &Client{
		http:       &http.Client{Timeout: timeout},
		base:       100 * time.Millisecond,
		maxRetries: maxRetries,
	}
}

// WithHTTPClient replaces the underlying client and backoff base, mainly
// for tests.
func (c *Client) WithHTTPClient(hc *http.Client, base time.Duration) *Client {
	c.http = hc
	c.base = base
	return c
}

// StatusError is returned for a 5xx response that survived all retries.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server responded %d: %s", e.StatusCode, e.Body)
}

// Do builds a request with newReq and sends it until it gets a non-5xx
// response, the retry budget runs out or ctx ends. The caller closes the
// returned body.
func (c *Client) Do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	b := retry.NewExponential(c.base)
	b = retry.WithCappedDuration(2*time.Second, b)
	b = retry.WithMaxRetries(c.maxRetries, b)

	var resp *http.Response
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		req, err := newReq(ctx)
		if err != nil {
			return err
		}

		r, err := c.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		if r.StatusCode >= http.StatusInternalServerError {
			body, _ := io.ReadAll(io.LimitReader(r.Body, 512))
			_ = r.Body.Close()
			return retry.RetryableError(&StatusError{StatusCode: r.StatusCode, Body: string(body)})
		}

		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}
