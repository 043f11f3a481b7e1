package sxm

import "errors"

// Error taxonomy for the relay engine. Handlers map everything except
// ErrSessionExpired (which is always recovered internally) to a 404.
var (
	// ErrAuth means a credential exchange failed: bad credentials or an
	// unparseable login response. Fatal to that login attempt only.
	ErrAuth = errors.New("authentication failed")

	// ErrSessionExpired is the application-level expiry signal carried in an
	// otherwise successful HTTP 200 envelope. Always retried internally,
	// never surfaced past the package that observed it.
	ErrSessionExpired = errors.New("session expired")

	// ErrUpstream covers any other non-success HTTP status or malformed
	// response from the backend.
	ErrUpstream = errors.New("upstream request failed")

	// ErrChannelNotFound means an identifier did not resolve to a lineup
	// entry. Not retryable.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrPlaylistUnavailable means playlist resolution or fetching exhausted
	// its retry budget.
	ErrPlaylistUnavailable = errors.New("playlist unavailable")
)
