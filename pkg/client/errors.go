package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the client.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// Kind classifies a fetch failure. Transient kinds (RateLimited, Network) are
// absorbed by retry logic and only surface once the retry budget is spent.
type Kind string

const (
	// KindNotFound means the player or match is absent, or the profile is
	// private (403). Never retried.
	KindNotFound Kind = "not_found"

	// KindUnauthorized means the bearer token is invalid or expired. Never
	// retried here; the token provider needs attention.
	KindUnauthorized Kind = "unauthorized"

	// KindRateLimited means the API signalled a rate limit (429). Retried
	// with exponential backoff before surfacing.
	KindRateLimited Kind = "rate_limited"

	// KindNetwork covers transport failures, timeouts and 5xx responses.
	// Retried before surfacing.
	KindNetwork Kind = "network"

	// KindDegraded means too many individual match fetches failed for the
	// aggregate to be trustworthy. Produced by the batch processor.
	KindDegraded Kind = "degraded"
)

// FetchError is the error type surfaced by the fetch client and everything
// built on top of it.
type FetchError struct {
	Kind       Kind
	StatusCode int
	Endpoint   string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("halo %s error (status %d) on %s: %s: %v",
			e.Kind, e.StatusCode, e.Endpoint, e.Message, e.Err)
	}
	return fmt.Sprintf("halo %s error (status %d) on %s: %s",
		e.Kind, e.StatusCode, e.Endpoint, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsPrivate reports whether the failure is a private-profile rejection rather
// than a missing player or match.
func (e *FetchError) IsPrivate() bool {
	return e.Kind == KindNotFound && e.StatusCode == http.StatusForbidden
}

// KindOf extracts the failure kind from an error chain. Returns KindNetwork
// for errors that did not originate from the fetch client.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}

// IsKind reports whether err carries the given failure kind.
func IsKind(err error, kind Kind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// classifyStatus maps an HTTP status code to a failure kind.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusNotFound || status == http.StatusForbidden:
		return KindNotFound
	case status >= 500:
		return KindNetwork
	default:
		// Remaining 4xx responses indicate a request the API rejected;
		// retrying cannot help.
		return KindNotFound
	}
}

// shouldRetry determines if an error should be retried based on its kind.
func shouldRetry(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindNetwork:
		return true
	default:
		// NotFound and Unauthorized must propagate immediately.
		return false
	}
}
