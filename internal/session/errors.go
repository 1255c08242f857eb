package session

import "errors"

// Sentinel errors for session operations.
// These errors are part of the Store's public API and should be checked using errors.Is().
//
// Example:
//
//	sess, err := store.Get(id)
//	if errors.Is(err, session.ErrSessionNotFound) {
//	    // ask the client to create a new session
//	}
var (
	// ErrSessionNotFound indicates the session does not exist (never created,
	// deleted, or already reaped after expiry).
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired indicates the session existed but exceeded the
	// inactivity timeout. The lookup that detects this also removes the
	// session, so subsequent calls report ErrSessionNotFound.
	ErrSessionExpired = errors.New("session expired")
)
