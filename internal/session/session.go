// Package session provides the in-memory conversation session store:
// identity, bounded follow-up history, and per-session rate-limit windows.
//
// Sessions expire lazily after an inactivity timeout; any lookup that finds
// an expired session removes it, and a background janitor sweeps the rest.
// All snapshots handed to callers are defensive copies; the store never
// leaks its internal structs.
package session

import "time"

// Role constants for history turns.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one history entry. User turns carry the resolved intent and
// symbols (follow-up queries inherit symbols from these); assistant turns
// carry the answer and, in agent mode, the model that produced it.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
	Intent    string
	Symbols   []string
	Model     string
}

func (t Turn) clone() Turn {
	if t.Symbols != nil {
		symbols := make([]string, len(t.Symbols))
		copy(symbols, t.Symbols)
		t.Symbols = symbols
	}
	return t
}

// Session is a snapshot of one conversation session.
type Session struct {
	ID           string
	Title        string
	CreatedAt    time.Time
	LastActivity time.Time
	History      []Turn
	RequestCount int
	WindowStart  time.Time
}

// RateStatus is the outcome of one rate-limit check. Count includes the
// request being checked; ResetIn is the time until the current window rolls
// over.
type RateStatus struct {
	Allowed bool
	Count   int
	Limit   int
	ResetIn time.Duration
}
