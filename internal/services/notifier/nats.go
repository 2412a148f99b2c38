// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// publisher is the subset of *nats.Conn the notifier needs.
type publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// Message is the JSON document published for each code. A downstream
// mailer consumes it.
type Message struct {
	Email    string    `json:"email"`
	Code     string    `json:"code"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	IssuedAt time.Time `json:"issued_at"`
}

// NATS hands codes to a mailer service over a NATS subject.
type NATS struct {
	nc       publisher
	subject  string
	composer *Composer
}

// NewNATS creates a NATS notifier on an open connection. The notifier owns
// the connection and closes it on Close.
func NewNATS(nc publisher, subject string, composer *Composer) *NATS {
	return &NATS{nc: nc, subject: subject, composer: composer}
}

// Send publishes the code and waits for the server to acknowledge the flush.
func (n *NATS) Send(ctx context.Context, email, code string) error {
	subject, body := n.composer.Compose(ctx, code)
	data, err := json.Marshal(Message{
		Email:    email,
		Code:     code,
		Subject:  subject,
		Body:     body,
		IssuedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal code message: %w", err)
	}

	if err := n.nc.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish code message: %w", err)
	}
	if err := n.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush code message: %w", err)
	}
	return nil
}

// Close closes the owned connection.
func (n *NATS) Close() error {
	n.nc.Close()
	return nil
}
