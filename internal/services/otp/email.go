// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"errors"
	"strings"
	"unicode"
)

// ErrInvalidEmail is returned by ValidateEmail for malformed addresses.
var ErrInvalidEmail = errors.New("invalid email format")

// NormalizeEmail trims surrounding whitespace and lower-cases the address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks the address shape: one @, a non-empty local part and
// a dotted domain without empty labels. Whitespace is not allowed.
func ValidateEmail(email string) error {
	if email == "" || strings.IndexFunc(email, unicode.IsSpace) >= 0 {
		return ErrInvalidEmail
	}

	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" || strings.Contains(domain, "@") {
		return ErrInvalidEmail
	}

	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return ErrInvalidEmail
	}
	for _, label := range labels {
		if label == "" {
			return ErrInvalidEmail
		}
	}
	return nil
}
