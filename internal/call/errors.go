package call

import "errors"

var (
	// ErrDuplicateLink is returned when a link already exists for a
	// participant. The caller must close the existing link first.
	ErrDuplicateLink = errors.New("peer link already exists for participant")

	// ErrInvalidNegotiationState marks a logic race, not a transient
	// fault. Callers must not retry blindly.
	ErrInvalidNegotiationState = errors.New("invalid negotiation state")

	ErrNoLink           = errors.New("no peer link for participant")
	ErrRetriesExhausted = errors.New("link retries exhausted")
	ErrSessionClosed    = errors.New("session closed")
)
