// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package notifier delivers issued codes to their recipients.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/config"
	"codeberg.org/oliverandrich/mailotp/internal/i18n"
	"github.com/nats-io/nats.go"
)

const (
	DriverSMTP    = "smtp"
	DriverEmailJS = "emailjs"
	DriverNATS    = "nats"
	DriverLog     = "log"
)

// ErrUnknownDriver indicates an unsupported notifier driver.
var ErrUnknownDriver = errors.New("notifier: unknown driver")

// Notifier delivers a code to an email address.
type Notifier interface {
	Send(ctx context.Context, email, code string) error
	Close() error
}

// NewFromConfig constructs the configured notifier. ttl is quoted in the
// message text.
func NewFromConfig(cfg *config.NotifierConfig, ttl time.Duration) (Notifier, error) {
	composer := NewComposer(cfg.Locale, ttl)

	switch strings.ToLower(cfg.Driver) {
	case DriverSMTP:
		n, err := NewSMTP(&cfg.SMTP, composer, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return n, nil
	case DriverEmailJS:
		n, err := NewEmailJS(&cfg.EmailJS, composer, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		return n, nil
	case DriverNATS:
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("mailotp"),
			nats.Timeout(cfg.Timeout),
		)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		return NewNATS(nc, cfg.NATS.Subject, composer), nil
	case DriverLog:
		return NewLog(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// Composer renders the localized subject and body of a code message.
type Composer struct {
	locale string
	ttl    time.Duration
}

// NewComposer renders messages in locale, falling back to English.
func NewComposer(locale string, ttl time.Duration) *Composer {
	if locale == "" {
		locale = "en"
	}
	return &Composer{locale: locale, ttl: ttl}
}

// Compose returns subject and plain-text body for code.
func (c *Composer) Compose(ctx context.Context, code string) (subject, body string) {
	ctx = i18n.WithLocale(ctx, i18n.MatchLanguage(c.locale))
	subject = i18n.T(ctx, "email_code_subject")
	body = i18n.TData(ctx, "email_code_body", map[string]any{
		"Code":    code,
		"Minutes": int(c.ttl.Round(time.Minute) / time.Minute),
	})
	return subject, body
}
