package chat

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for request validation and admission.
// These errors are part of the Service's public API and should be checked
// using errors.Is(). Session lookups additionally surface
// session.ErrSessionNotFound and session.ErrSessionExpired unchanged.
//
// Example:
//
//	res, err := svc.Handle(ctx, id, query)
//	if errors.Is(err, chat.ErrRateLimited) {
//	    // respond 429 with a Retry-After header
//	}
var (
	// ErrEmptyQuery indicates the query was empty or whitespace only.
	// Rejected before the rate limiter, so it never consumes a slot.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrQueryTooLong indicates the query exceeded the configured maximum
	// length. Rejected before the rate limiter.
	ErrQueryTooLong = errors.New("query exceeds maximum length")

	// ErrRateLimited indicates the session used up its request window.
	// The concrete error is a *RateLimitError carrying the window state.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError reports a rejected request along with the window state the
// transport layer needs for Retry-After headers and response fields.
type RateLimitError struct {
	RetryAfter time.Duration
	Count      int
	Limit      int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d requests", e.Count, e.Limit)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
