package agent

import "errors"

// Sentinel errors for agent runs. Check with errors.Is().
//
// Example:
//
//	res, err := ag.Run(ctx, query, history, nil)
//	if errors.Is(err, agent.ErrModelUnavailable) {
//	    // degrade to a friendly failure answer
//	}
var (
	// ErrModelUnavailable indicates both the primary and the fallback model
	// failed after their retry budgets were spent.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrCircuitOpen is returned while the circuit breaker is rejecting
	// requests after repeated provider failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)
