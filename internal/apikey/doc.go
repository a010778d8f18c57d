// Package apikey implements the API key lifecycle for the news portal backend.
//
// Keys are high-entropy tokens persisted in a relational table. The Manager
// mints, rotates, expires, and retires keys; the Store abstracts persistence.
//
// # Rotation policy
//
// Rotation always inserts a fresh key. In the single-active policy the same
// transaction deactivates every other active key, so a reader never observes
// zero active keys. In the overlap policy the predecessor stays active and is
// retired by DeactivateSuperseded after a grace period.
//
// # Validation
//
// A key authenticates a request iff it is active and unexpired:
//
//	rec, err := manager.FindValid(ctx, key)
//	if err != nil {
//	    // uniform rejection, reason is not exposed to callers
//	}
package apikey
