// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"errors"
	"fmt"
)

// Kind classifies the outcome of an Issue or Verify call.
type Kind int

const (
	// KindInternal covers store and directory transport failures.
	KindInternal Kind = iota
	// KindInvalidInput means the email or code is missing or malformed.
	KindInvalidInput
	// KindThrottled means a live code already exists for the email.
	KindThrottled
	// KindRateLimited means the caller exceeded the admission budget.
	KindRateLimited
	// KindNotFound means the directory does not know the email.
	KindNotFound
	// KindNotifierFailure means the code could not be delivered.
	KindNotifierFailure
	// KindNotFoundOrExpired means there is no outstanding code.
	KindNotFoundOrExpired
	// KindExpired means the outstanding code outlived its TTL.
	KindExpired
	// KindExhausted means the attempt budget was used up.
	KindExhausted
	// KindMismatch means the submitted code was wrong.
	KindMismatch
	// KindVerifiedButProfileMissing means the code matched but no profile exists.
	KindVerifiedButProfileMissing
)

// String returns the snake-case name used in logs.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindThrottled:
		return "throttled"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindNotifierFailure:
		return "notifier_failure"
	case KindNotFoundOrExpired:
		return "not_found_or_expired"
	case KindExpired:
		return "expired"
	case KindExhausted:
		return "exhausted"
	case KindMismatch:
		return "mismatch"
	case KindVerifiedButProfileMissing:
		return "verified_but_profile_missing"
	default:
		return "internal"
	}
}

// Message is the caller-facing text for the kind.
func (k Kind) Message() string {
	switch k {
	case KindInvalidInput:
		return "A valid email address is required"
	case KindThrottled:
		return "A code was already sent. Please wait before requesting a new one"
	case KindRateLimited:
		return "Too many requests. Please try again later"
	case KindNotFound:
		return "No account is registered for this email address"
	case KindNotifierFailure:
		return "Failed to send the verification code"
	case KindNotFoundOrExpired:
		return "No code found or it has expired"
	case KindExpired:
		return "The code has expired"
	case KindExhausted:
		return "Too many failed attempts. Please request a new code"
	case KindMismatch:
		return "Invalid code"
	case KindVerifiedButProfileMissing:
		return "Code verified but no user profile was found"
	default:
		return "Internal server error"
	}
}

// Error is the error type returned by Service.
type Error struct {
	err  error
	msg  string
	id   string
	Kind Kind
	// Remaining is the number of attempts left after a mismatch. It is nil
	// unless attempt disclosure is enabled.
	Remaining *int
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, msg: msg}
}

// MissingFields is the input error for an incomplete verify request.
func MissingFields() *Error {
	return newError(KindInvalidInput, "Email and code are required").withMessageID("error_missing_fields")
}

// withMessageID overrides the translation key used for the caller message.
func (e *Error) withMessageID(id string) *Error {
	e.id = id
	return e
}

func wrapError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.msg != "" {
		return e.msg
	}
	return e.Kind.Message()
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.err
}

// Message is the text safe to show to callers. Internal details stay in
// Error and are only logged.
func (e *Error) Message() string {
	if e.Kind == KindInvalidInput && e.msg != "" {
		return e.msg
	}
	return e.Kind.Message()
}

// MessageID is the translation key for Message.
func (e *Error) MessageID() string {
	if e.id != "" {
		return e.id
	}
	return "error_" + e.Kind.String()
}

// KindOf classifies any error. Errors not produced by Service are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
