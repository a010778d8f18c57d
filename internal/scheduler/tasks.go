package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/realtime"
)

// KeyLifecycle is the slice of the key manager the scheduled tasks use.
type KeyLifecycle interface {
	Rotate(ctx context.Context, description string) (*apikey.Record, error)
	DeactivateSuperseded(ctx context.Context) error
	DeleteExpired(ctx context.Context) (int64, error)
	PurgeStaleInactive(ctx context.Context, retention time.Duration) (int64, error)
	CountExpiringWithin(ctx context.Context, window time.Duration) (int64, error)
}

// FailureCounter reports recent authentication failures.
type FailureCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ConnectionCounter reports the number of live websocket connections.
type ConnectionCounter interface {
	Count() int
}

// RotationTask mints a fresh key on each tick and pushes it to connected
// clients. Under the overlap policy it arms a one-shot that retires the
// superseded key once the grace window elapses.
type RotationTask struct {
	Keys          KeyLifecycle
	Broadcast     realtime.Broadcaster
	Scheduler     *Scheduler
	OverlapWindow time.Duration
	Description   string
	Logger        observability.Logger
}

// Run performs one rotation.
func (t *RotationTask) Run(ctx context.Context) error {
	rec, err := t.Keys.Rotate(ctx, t.Description)
	if err != nil {
		return fmt.Errorf("rotation: %w", err)
	}

	delivered := t.Broadcast.Broadcast(ctx, realtime.KeyRotatedMessage(rec.ID, rec.Key, rec.ExpiresAt))

	if t.Logger != nil {
		t.Logger.Info("rotation announced",
			observability.String("key_id", rec.ID),
			observability.Int("delivered", delivered),
		)
	}

	if t.OverlapWindow > 0 && t.Scheduler != nil {
		t.Scheduler.After(t.OverlapWindow, "deactivate_superseded", func(ctx context.Context) error {
			return t.Keys.DeactivateSuperseded(ctx)
		})
	}

	return nil
}

// CleanupTask deletes keys past their expiry.
type CleanupTask struct {
	Keys   KeyLifecycle
	Logger observability.Logger
}

// Run performs one expired-key sweep.
func (t *CleanupTask) Run(ctx context.Context) error {
	deleted, err := t.Keys.DeleteExpired(ctx)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if deleted > 0 && t.Logger != nil {
		t.Logger.Info("expired keys removed", observability.Int64("deleted", deleted))
	}
	return nil
}

// PurgeTask removes inactive keys that have been stale longer than the
// retention window.
type PurgeTask struct {
	Keys      KeyLifecycle
	Retention time.Duration
	Logger    observability.Logger
}

// Run performs one stale-key purge.
func (t *PurgeTask) Run(ctx context.Context) error {
	purged, err := t.Keys.PurgeStaleInactive(ctx, t.Retention)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	if purged > 0 && t.Logger != nil {
		t.Logger.Info("stale inactive keys purged", observability.Int64("purged", purged))
	}
	return nil
}

// PostureTask checks for keys nearing expiry and for elevated authentication
// failure rates, and alerts connected clients when either crosses its
// threshold.
type PostureTask struct {
	Keys             KeyLifecycle
	Failures         FailureCounter
	Broadcast        realtime.Broadcaster
	ExpiryLookahead  time.Duration
	FailureThreshold int64
	Logger           observability.Logger
}

// Run performs one posture check.
func (t *PostureTask) Run(ctx context.Context) error {
	expiring, err := t.Keys.CountExpiringWithin(ctx, t.ExpiryLookahead)
	if err != nil {
		return fmt.Errorf("posture: count expiring: %w", err)
	}

	failures, err := t.Failures.Count(ctx)
	if err != nil {
		return fmt.Errorf("posture: count failures: %w", err)
	}

	if expiring > 0 {
		t.Broadcast.Broadcast(ctx, realtime.Message{
			Type: realtime.TypeSecurityAlert,
			Data: map[string]any{
				"alert":          "keys_expiring_soon",
				"expiring_keys":  expiring,
				"within_seconds": int64(t.ExpiryLookahead.Seconds()),
			},
		})
	}

	if t.FailureThreshold > 0 && failures >= t.FailureThreshold {
		t.Broadcast.Broadcast(ctx, realtime.Message{
			Type: realtime.TypeSecurityAlert,
			Data: map[string]any{
				"alert":         "auth_failure_spike",
				"failure_count": failures,
				"threshold":     t.FailureThreshold,
			},
		})
	}

	if t.Logger != nil {
		t.Logger.Debug("posture check completed",
			observability.Int64("expiring_keys", expiring),
			observability.Int64("recent_failures", failures),
		)
	}

	return nil
}

// HeartbeatTask broadcasts a periodic status frame so idle clients can tell
// the feed is alive.
type HeartbeatTask struct {
	Broadcast   realtime.Broadcaster
	Connections ConnectionCounter
	StartedAt   time.Time
}

// Run sends one heartbeat.
func (t *HeartbeatTask) Run(ctx context.Context) error {
	t.Broadcast.Broadcast(ctx, realtime.Message{
		Type: realtime.TypeStatusUpdate,
		Data: map[string]any{
			"status":         "operational",
			"connections":    t.Connections.Count(),
			"uptime_seconds": int64(time.Since(t.StartedAt).Seconds()),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		},
	})
	return nil
}
