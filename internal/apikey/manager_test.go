package apikey

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testSchema = `
CREATE TABLE api_keys (
	id          TEXT PRIMARY KEY,
	key         TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	is_active   INTEGER NOT NULL DEFAULT 0,
	expires_at  INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);`

// fakeClock is a settable time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{t: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)

	return NewSQLStore(db)
}

func newTestManager(t *testing.T, policy Policy) (*Manager, *fakeClock) {
	t.Helper()

	clock := newFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	m := NewManager(newTestStore(t), policy, WithClock(clock.Now))
	return m, clock
}

func TestManager_RotateEmptyTable(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	rec, err := m.Rotate(ctx, "initial")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Len(t, rec.Key, 64)
	assert.True(t, rec.IsActive)
	assert.Equal(t, clock.Now().Add(time.Hour), rec.ExpiresAt)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsActive)
}

func TestManager_RotateSupersedesPrevious(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	first, err := m.Rotate(ctx, "first")
	require.NoError(t, err)
	second, err := m.Rotate(ctx, "second")
	require.NoError(t, err)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	active := 0
	for _, rec := range all {
		if rec.IsActive {
			active++
			assert.Equal(t, second.ID, rec.ID)
		}
	}
	assert.Equal(t, 1, active)

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestManager_RotateOverlapKeepsPreviousActive(t *testing.T) {
	t.Parallel()

	overlap := 10 * time.Minute
	m, clock := newTestManager(t, Policy{KeyTTL: time.Hour, OverlapWindow: overlap})
	ctx := context.Background()

	first, err := m.Rotate(ctx, "first")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := m.Rotate(ctx, "second")
	require.NoError(t, err)

	// Both keys stay valid during the grace period.
	_, err = m.FindValid(ctx, first.Key)
	require.NoError(t, err)
	_, err = m.FindValid(ctx, second.Key)
	require.NoError(t, err)

	// The delayed deactivation retires only the predecessor.
	require.NoError(t, m.DeactivateSuperseded(ctx))

	_, err = m.FindValid(ctx, first.Key)
	assert.ErrorIs(t, err, ErrNotFound)
	got, err := m.FindValid(ctx, second.Key)
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	// Expiry accounts for the overlap window.
	assert.Equal(t, time.Hour+overlap, second.ExpiresAt.Sub(second.CreatedAt))
}

func TestManager_FindValid(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	rec, err := m.Rotate(ctx, "round trip")
	require.NoError(t, err)

	got, err := m.FindValid(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	// Unknown key.
	_, err = m.FindValid(ctx, "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)

	// Expired key.
	clock.Advance(2 * time.Hour)
	_, err = m.FindValid(ctx, rec.Key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_FindValidDurationMetricUsesWallClock(t *testing.T) {
	t.Parallel()

	// A simulated clock pinned years away from wall time must not leak
	// into the validation duration histogram.
	clock := newFakeClock(time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC))
	metrics := NewMetrics("test")
	m := NewManager(newTestStore(t), Policy{KeyTTL: time.Hour},
		WithClock(clock.Now),
		WithMetrics(metrics),
	)
	ctx := context.Background()

	rec, err := m.Rotate(ctx, "metric check")
	require.NoError(t, err)
	_, err = m.FindValid(ctx, rec.Key)
	require.NoError(t, err)

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_apikey_validation_duration_seconds" {
			continue
		}
		require.Len(t, mf.GetMetric(), 1)
		hist := mf.GetMetric()[0].GetHistogram()
		assert.Equal(t, uint64(1), hist.GetSampleCount())
		assert.Less(t, hist.GetSampleSum(), 60.0)
		return
	}
	t.Fatal("validation duration histogram not collected")
}

func TestManager_ExpiryNeverExtended(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	first, err := m.Rotate(ctx, "first")
	require.NoError(t, err)
	expiry := first.ExpiresAt

	_, err = m.Rotate(ctx, "second")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, first.ID))

	got, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, expiry, got.ExpiresAt)
}

func TestManager_DeleteExpired(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	_, err := m.Rotate(ctx, "old-1")
	require.NoError(t, err)
	_, err = m.Rotate(ctx, "old-2")
	require.NoError(t, err)

	// Both previous keys expire; the third stays fresh.
	clock.Advance(2 * time.Hour)
	active, err := m.Rotate(ctx, "fresh")
	require.NoError(t, err)

	count, err := m.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, active.ID, all[0].ID)

	// Idempotent: a second sweep deletes nothing.
	count, err = m.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestManager_PurgeStaleInactive(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, Policy{KeyTTL: 30 * 24 * time.Hour})
	ctx := context.Background()

	stale, err := m.Rotate(ctx, "stale")
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, stale.ID))

	clock.Advance(8 * 24 * time.Hour)
	fresh, err := m.Rotate(ctx, "fresh")
	require.NoError(t, err)

	count, err := m.PurgeStaleInactive(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	all, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, fresh.ID, all[0].ID)
}

func TestManager_Revoke(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	rec, err := m.Rotate(ctx, "to revoke")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, rec.ID))
	_, err = m.FindValid(ctx, rec.Key)
	assert.ErrorIs(t, err, ErrNotFound)

	// Revoking a missing id reports not found.
	err = m.Revoke(ctx, "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Create(t *testing.T) {
	t.Parallel()

	m, clock := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	tests := []struct {
		name          string
		keyName       string
		days          int
		expectedError error
	}{
		{name: "valid", keyName: "ci key", days: 30},
		{name: "empty name", keyName: "", days: 30, expectedError: ErrEmptyName},
		{name: "zero days", keyName: "k", days: 0, expectedError: ErrExpiryOutOfRange},
		{name: "too many days", keyName: "k", days: 366, expectedError: ErrExpiryOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := m.Create(ctx, tt.keyName, tt.days)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Nil(t, rec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.keyName, rec.Description)
			assert.Equal(t, clock.Now().Add(time.Duration(tt.days)*24*time.Hour), rec.ExpiresAt)
		})
	}
}

func TestManager_CreateDoesNotSupersede(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	rotated, err := m.Rotate(ctx, "rotated")
	require.NoError(t, err)
	_, err = m.Create(ctx, "manual", 30)
	require.NoError(t, err)

	got, err := m.FindValid(ctx, rotated.Key)
	require.NoError(t, err)
	assert.Equal(t, rotated.ID, got.ID)
}

func TestManager_Current(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	_, err := m.Current(ctx)
	assert.ErrorIs(t, err, ErrNoActiveKey)

	_, err = m.Rotate(ctx, "first")
	require.NoError(t, err)
	second, err := m.Rotate(ctx, "second")
	require.NoError(t, err)

	current, err := m.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
}

func TestManager_CountExpiringWithin(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	_, err := m.Create(ctx, "near", 1)
	require.NoError(t, err)
	_, err = m.Create(ctx, "far", 100)
	require.NoError(t, err)

	count, err := m.CountExpiringWithin(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestManager_NoActiveGapAcrossRotations(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, Policy{KeyTTL: time.Hour})
	ctx := context.Background()

	var latest *Record
	for i := 0; i < 5; i++ {
		rec, err := m.Rotate(ctx, "cycle")
		require.NoError(t, err)
		latest = rec

		current, err := m.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, latest.ID, current.ID)
	}
}
