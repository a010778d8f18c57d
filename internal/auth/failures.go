package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pressgate/pressgate/internal/observability"
)

// failureBucket is the granularity of failure counting. Counts are kept in
// per-minute Redis keys that expire on their own, so the lookback window is
// a sum over recent buckets.
const failureBucket = time.Minute

// incrementWithExpiryScript atomically increments a bucket and sets its TTL
// on first write.
// KEYS[1] = bucket key, ARGV[1] = delta, ARGV[2] = expiration in seconds.
var incrementWithExpiryScript = redis.NewScript(`
	local current = redis.call('INCRBY', KEYS[1], ARGV[1])
	if current == tonumber(ARGV[1]) then
		redis.call('EXPIRE', KEYS[1], ARGV[2])
	end
	return current
`)

// FailureCounter reports recent authentication failures.
type FailureCounter interface {
	Count(ctx context.Context) (int64, error)
}

// FailureTracker counts authentication failures in Redis over a sliding
// lookback window.
type FailureTracker struct {
	client   *redis.Client
	prefix   string
	lookback time.Duration
	logger   observability.Logger
	now      func() time.Time
}

// FailureTrackerOption is a functional option for the FailureTracker.
type FailureTrackerOption func(*FailureTracker)

// WithFailureClock sets the time source.
func WithFailureClock(now func() time.Time) FailureTrackerOption {
	return func(t *FailureTracker) {
		t.now = now
	}
}

// NewFailureTracker creates a Redis-backed failure tracker.
func NewFailureTracker(client *redis.Client, lookback time.Duration, logger observability.Logger, opts ...FailureTrackerOption) *FailureTracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if lookback <= 0 {
		lookback = time.Hour
	}

	t := &FailureTracker{
		client:   client,
		prefix:   "auth:failures:",
		lookback: lookback,
		logger:   logger,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Record counts one authentication failure. Errors are logged and swallowed;
// failure tracking must never affect the request path.
func (t *FailureTracker) Record(ctx context.Context) {
	key := t.bucketKey(t.now())
	// Buckets outlive the lookback window slightly so a sweep at the
	// window edge still sees them.
	ttl := int64((t.lookback + failureBucket).Seconds())

	if err := incrementWithExpiryScript.Run(ctx, t.client, []string{key}, 1, ttl).Err(); err != nil {
		t.logger.Warn("failed to record auth failure", observability.Error(err))
	}
}

// Count sums the failure buckets inside the lookback window.
func (t *FailureTracker) Count(ctx context.Context) (int64, error) {
	now := t.now()
	buckets := int(t.lookback / failureBucket)
	keys := make([]string, 0, buckets+1)
	for i := 0; i <= buckets; i++ {
		keys = append(keys, t.bucketKey(now.Add(-time.Duration(i)*failureBucket)))
	}

	values, err := t.client.MGet(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("count auth failures: %w", err)
	}

	var total int64
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var n int64
		if _, err := fmt.Sscanf(s, "%d", &n); err == nil {
			total += n
		}
	}
	return total, nil
}

// bucketKey returns the Redis key for the minute containing ts.
func (t *FailureTracker) bucketKey(ts time.Time) string {
	return fmt.Sprintf("%s%d", t.prefix, ts.Truncate(failureBucket).Unix())
}

// NopFailureTracker is used when Redis is disabled: Record is a no-op and
// Count always reports zero.
type NopFailureTracker struct{}

// Record does nothing.
func (NopFailureTracker) Record(ctx context.Context) {}

// Count reports zero failures.
func (NopFailureTracker) Count(ctx context.Context) (int64, error) {
	return 0, nil
}

// Interface checks.
var (
	_ FailureRecorder = (*FailureTracker)(nil)
	_ FailureCounter  = (*FailureTracker)(nil)
	_ FailureRecorder = NopFailureTracker{}
	_ FailureCounter  = NopFailureTracker{}
)
