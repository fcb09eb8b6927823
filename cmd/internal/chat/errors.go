package chat

import "errors"

var (
	// ErrStopped is returned by Manager methods once Run has returned.
	ErrStopped = errors.New("chat: manager stopped")

	// ErrAlreadyRunning is returned by a second concurrent Run call.
	ErrAlreadyRunning = errors.New("chat: manager already running")

	// ErrUnauthorized marks a rejected credential. REST clients wrap it so the
	// Manager can expire the session the same way an unauthorized close does.
	ErrUnauthorized = errors.New("chat: unauthorized")

	// ErrNoHistory is returned by LoadHistory when no HistoryFetcher is configured.
	ErrNoHistory = errors.New("chat: history fetcher not configured")

	// ErrNoReadMarker is returned by MarkRead when no ReadMarker is configured.
	ErrNoReadMarker = errors.New("chat: read marker not configured")
)
