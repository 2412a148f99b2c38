// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package notifier

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/mailotp/internal/config"
	"github.com/wneessen/go-mail"
)

// SMTP sends codes as plain-text email.
type SMTP struct {
	cfg      *config.SMTPConfig
	composer *Composer
	timeout  time.Duration
}

// NewSMTP creates an SMTP notifier.
func NewSMTP(cfg *config.SMTPConfig, composer *Composer, timeout time.Duration) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &SMTP{cfg: cfg, composer: composer, timeout: timeout}, nil
}

// Send delivers code to email.
func (s *SMTP) Send(ctx context.Context, email, code string) error {
	msg, err := s.message(ctx, email, code)
	if err != nil {
		return err
	}

	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	return nil
}

// Close is a no-op; every Send dials its own connection.
func (s *SMTP) Close() error {
	return nil
}

func (s *SMTP) message(ctx context.Context, to, code string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	subject, body := s.composer.Compose(ctx, code)
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	return msg, nil
}

func (s *SMTP) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(s.timeout),
	}

	// Implicit TLS on 465, STARTTLS elsewhere
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	return opts
}
