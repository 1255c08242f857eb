package market

import (
	"errors"
	"fmt"
)

// Sentinel errors for market data operations.
// These errors are part of the Client's public API and should be checked
// using errors.Is().
//
// Example:
//
//	price, err := client.Price(ctx, "AAPL")
//	if errors.Is(err, market.ErrUnreachable) {
//	    // serve stale cache or a degraded answer
//	}
var (
	// ErrUnreachable indicates the market data server could not be reached:
	// connection refused, DNS failure, or the per-call timeout elapsed before
	// a response arrived. The client drops its session on this error and
	// re-dials on the next call.
	ErrUnreachable = errors.New("market data server unreachable")

	// ErrInvalidSymbol indicates the upstream rejected the requested symbol.
	// Detected from the upstream error message, so it wraps the original text.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// UpstreamError reports a failure produced by the market data server itself:
// a tool call that returned an error result, a protocol-level rejection, or a
// payload that could not be decoded. Code carries the upstream status code
// when one was provided, zero otherwise.
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("upstream error %d: %s", e.Code, e.Message)
	}
	return "upstream error: " + e.Message
}
