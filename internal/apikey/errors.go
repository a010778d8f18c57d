package apikey

import "errors"

// Common errors for API key operations.
var (
	// ErrNotFound indicates that no matching key record exists.
	ErrNotFound = errors.New("API key not found")

	// ErrNoActiveKey indicates that the store holds no active, unexpired key.
	ErrNoActiveKey = errors.New("no active API key")

	// ErrEmptyName indicates a key creation request with an empty name.
	ErrEmptyName = errors.New("key name must not be empty")

	// ErrExpiryOutOfRange indicates a key creation request with an expiry
	// outside the accepted 1..365 day range.
	ErrExpiryOutOfRange = errors.New("expires_in_days must be between 1 and 365")
)
