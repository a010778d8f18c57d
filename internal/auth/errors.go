// Package auth provides request authentication for the news portal backend:
// an API key middleware for protected routes, a bearer-token middleware for
// the admin surface, and an authentication failure tracker.
package auth

import "errors"

// ErrStoreUnavailable indicates that the credential store could not be
// reached (circuit open or connection failure).
var ErrStoreUnavailable = errors.New("credential store unavailable")
