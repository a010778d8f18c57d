package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/observability"
)

// BreakerFinder wraps a KeyFinder with a circuit breaker so that a hung or
// failing credential store rejects requests quickly instead of queueing
// them. Credential misses do not trip the breaker; only store errors count.
type BreakerFinder struct {
	finder  KeyFinder
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerFinder creates a breaker-protected finder.
func NewBreakerFinder(finder KeyFinder, logger observability.Logger) *BreakerFinder {
	if logger == nil {
		logger = observability.NopLogger()
	}

	settings := gobreaker.Settings{
		Name:    "credential-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("credential store breaker state changed",
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}

	return &BreakerFinder{
		finder:  finder,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// FindValid resolves the key through the breaker. When the circuit is open
// the store is not touched and ErrStoreUnavailable is returned.
func (b *BreakerFinder) FindValid(ctx context.Context, key string) (*apikey.Record, error) {
	result, err := b.breaker.Execute(func() (interface{}, error) {
		rec, err := b.finder.FindValid(ctx, key)
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				// A miss is a successful lookup as far as the store is
				// concerned; report it outside the breaker error path.
				return (*apikey.Record)(nil), nil
			}
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		return nil, err
	}

	rec, _ := result.(*apikey.Record)
	if rec == nil {
		return nil, apikey.ErrNotFound
	}
	return rec, nil
}

// Ensure BreakerFinder implements KeyFinder.
var _ KeyFinder = (*BreakerFinder)(nil)
