// Package domain holds errors shared between the transport and infrastructure
// layers. It has no HTTP, Redis or browser dependencies.
package domain

import "errors"

var (
	// ErrInvalidAPIKey signals that the provided API key is not known.
	ErrInvalidAPIKey = errors.New("invalid api key")
	// ErrTokenStoreNotReady signals that the token store has not been loaded yet.
	// This can happen during startup when the DB isn't ready.
	ErrTokenStoreNotReady = errors.New("token store not ready")
	// ErrScopeDenied signals a known key without the scope a route needs.
	ErrScopeDenied = errors.New("api key not allowed for this operation")
)
