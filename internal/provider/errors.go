package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a provider failure. The split drives retry policy: only
// transient kinds are worth another attempt, a fatal failure (bad key,
// malformed request) will fail identically on every retry.
type Kind int

const (
	// KindRateLimited is an HTTP 429 from the provider.
	KindRateLimited Kind = iota

	// KindTimeout is a request deadline or network timeout.
	KindTimeout

	// KindConnectionFailed is a failure to reach the provider at all.
	KindConnectionFailed

	// KindServerError is an HTTP 5xx from the provider.
	KindServerError

	// KindOther is an unexpected failure outside the retryable set:
	// malformed response bodies, shape mismatches. Deterministic, so a
	// retry would only repeat the same failure.
	KindOther

	// KindFatal is a non-retryable failure: authentication, bad request,
	// unknown model. Retrying cannot change the outcome.
	KindFatal
)

// String implements Stringer for log output.
func (k Kind) String() string {
	switch k {
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection_failed"
	case KindServerError:
		return "server_error"
	case KindFatal:
		return "fatal"
	default:
		return "other"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind    Kind
	Status  int // HTTP status, 0 when the request never completed
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider: %s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Transient reports whether another attempt could plausibly succeed.
// Only the four kinds caused by provider-side or network conditions
// qualify; decode and shape failures repeat identically on retry.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindTimeout, KindConnectionFailed, KindServerError:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a provider error worth retrying.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Transient()
}

// statusError classifies an HTTP error status from the provider.
func statusError(status int, body string) *Error {
	e := &Error{Status: status, Message: body}
	switch {
	case status == 429:
		e.Kind = KindRateLimited
	case status >= 500:
		e.Kind = KindServerError
	case status >= 400:
		e.Kind = KindFatal
	default:
		e.Kind = KindOther
	}
	return e
}

// transportError classifies a failure that happened before any HTTP status
// arrived.
func transportError(err error) *Error {
	e := &Error{Message: err.Error(), cause: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		e.Kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		e.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		// Caller gave up; not the provider's fault, but not retryable either.
		e.Kind = KindFatal
	default:
		e.Kind = KindConnectionFailed
	}
	return e
}
