package apikey

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pressgate/pressgate/internal/observability"
)

// Policy holds the rotation policy constants.
type Policy struct {
	// KeyTTL is the lifetime of a rotated key. In the overlap variant the
	// stored expiry is KeyTTL+OverlapWindow so the key outlives its grace
	// period as a valid credential.
	KeyTTL time.Duration

	// OverlapWindow selects the rotation variant. Zero: rotation deactivates
	// all predecessors in the same transaction. Positive: predecessors stay
	// valid until DeactivateSuperseded runs after the window.
	OverlapWindow time.Duration
}

// Manager implements the key lifecycle operations.
//
// Rotations within one process are serialized through a mutex; across
// processes the store's transactional insert-then-supersede keeps the
// outcome at last-write-wins without corruption.
type Manager struct {
	store   Store
	policy  Policy
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time
	mu      sync.Mutex
}

// ManagerOption is a functional option for the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock sets the time source. Used by tests to simulate expiry.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a key lifecycle manager.
func NewManager(store Store, policy Policy, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:  store,
		policy: policy,
		logger: observability.NopLogger(),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.metrics == nil {
		m.metrics = NewMetrics("pressgate")
	}

	return m
}

// Rotate mints a new active key and, in the single-active policy, deactivates
// every other active key in the same transaction. The returned record carries
// the plaintext token; this is the only place it leaves the manager besides
// Create.
func (m *Manager) Rotate(ctx context.Context, description string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := NewToken()
	if err != nil {
		m.metrics.RecordRotation("error")
		return nil, err
	}

	now := m.now().UTC()
	ttl := m.policy.KeyTTL + m.policy.OverlapWindow
	rec := &Record{
		ID:          uuid.NewString(),
		Key:         token,
		Description: description,
		IsActive:    true,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	supersede := m.policy.OverlapWindow == 0
	if err := m.store.InsertAndSupersede(ctx, rec, supersede); err != nil {
		m.metrics.RecordRotation("error")
		return nil, fmt.Errorf("rotate: %w", err)
	}

	m.metrics.RecordRotation("success")
	m.logger.Info("API key rotated",
		observability.String("key_id", rec.ID),
		observability.Time("expires_at", rec.ExpiresAt),
		observability.Bool("superseded_previous", supersede),
	)

	return rec, nil
}

// Create mints a key from an administrative request with an explicit expiry
// in days. Unlike Rotate it never deactivates other keys.
func (m *Manager) Create(ctx context.Context, name string, expiresInDays int) (*Record, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if expiresInDays < 1 || expiresInDays > 365 {
		return nil, ErrExpiryOutOfRange
	}

	token, err := NewToken()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	rec := &Record{
		ID:          uuid.NewString(),
		Key:         token,
		Description: name,
		IsActive:    true,
		ExpiresAt:   now.Add(time.Duration(expiresInDays) * 24 * time.Hour),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := m.store.InsertAndSupersede(ctx, rec, false); err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	m.logger.Info("API key created",
		observability.String("key_id", rec.ID),
		observability.String("name", name),
		observability.Time("expires_at", rec.ExpiresAt),
	)

	return rec, nil
}

// DeactivateSuperseded deactivates all active keys except the most recently
// created one. Used by the overlap policy after the grace period.
func (m *Manager) DeactivateSuperseded(ctx context.Context) error {
	now := m.now().UTC()
	current, err := m.store.CurrentActive(ctx, now)
	if err != nil {
		if errors.Is(err, ErrNoActiveKey) {
			return nil
		}
		return fmt.Errorf("deactivate superseded: %w", err)
	}

	count, err := m.store.DeactivateAllExcept(ctx, current.ID, now)
	if err != nil {
		return fmt.Errorf("deactivate superseded: %w", err)
	}
	if count > 0 {
		m.logger.Info("superseded API keys deactivated",
			observability.Int64("count", count),
			observability.String("kept_key_id", current.ID),
		)
	}
	return nil
}

// DeleteExpired irreversibly removes expired records and returns the count.
func (m *Manager) DeleteExpired(ctx context.Context) (int64, error) {
	count, err := m.store.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, err
	}
	m.metrics.RecordDeleted("expired", count)
	if count > 0 {
		m.logger.Info("expired API keys deleted", observability.Int64("count", count))
	}
	return count, nil
}

// PurgeStaleInactive removes keys that have been inactive longer than the
// retention window, independent of expiry.
func (m *Manager) PurgeStaleInactive(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := m.now().UTC().Add(-retention)
	count, err := m.store.DeleteInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	m.metrics.RecordDeleted("stale_inactive", count)
	if count > 0 {
		m.logger.Info("stale inactive API keys purged", observability.Int64("count", count))
	}
	return count, nil
}

// FindValid returns the record matching key iff it is active and unexpired.
func (m *Manager) FindValid(ctx context.Context, key string) (*Record, error) {
	// The validity cutoff follows the injectable clock; the duration
	// metric measures wall time.
	start := time.Now()
	rec, err := m.store.FindValid(ctx, key, m.now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			m.metrics.RecordValidation("error", "not_found", time.Since(start))
			return nil, ErrNotFound
		}
		m.metrics.RecordValidation("error", "store_error", time.Since(start))
		return nil, err
	}
	m.metrics.RecordValidation("success", "valid", time.Since(start))
	return rec, nil
}

// Revoke sets is_active=false on a specific record.
func (m *Manager) Revoke(ctx context.Context, id string) error {
	if err := m.store.Deactivate(ctx, id, m.now().UTC()); err != nil {
		return err
	}
	m.logger.Info("API key revoked", observability.String("key_id", id))
	return nil
}

// Get returns a record by id.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	return m.store.Get(ctx, id)
}

// List returns all records, newest first.
func (m *Manager) List(ctx context.Context) ([]*Record, error) {
	return m.store.List(ctx)
}

// Current returns the newest active, unexpired record.
func (m *Manager) Current(ctx context.Context) (*Record, error) {
	return m.store.CurrentActive(ctx, m.now().UTC())
}

// CountExpiringWithin counts active keys expiring within the window.
func (m *Manager) CountExpiringWithin(ctx context.Context, window time.Duration) (int64, error) {
	return m.store.CountExpiringWithin(ctx, m.now().UTC(), window)
}

// Now returns the manager's current time. Exposed for callers that derive
// values like days-remaining from the same clock.
func (m *Manager) Now() time.Time {
	return m.now()
}
