package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/realtime"
	"github.com/pressgate/pressgate/internal/scheduler"
)

func authHeader(t *testing.T) map[string]string {
	t.Helper()
	return map[string]string{"Authorization": "Bearer " + adminToken(t)}
}

func decodeBody(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestKeys_List(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{
		ID:          "key-1",
		Key:         "secret",
		Description: "Scheduled rotation",
		IsActive:    true,
		ExpiresAt:   keys.now.Add(time.Hour),
	})
	s := newTestServer(t, keys, &fakeBroadcast{})

	w := doRequest(t, s, http.MethodGet, "/api/keys", "", authHeader(t))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w.Body.String())
	assert.Equal(t, true, body["success"])
	data := body["data"].([]any)
	require.Len(t, data, 1)

	// The secret never appears in listings.
	item := data[0].(map[string]any)
	assert.Equal(t, "key-1", item["id"])
	assert.NotContains(t, item, "key")
}

func TestKeys_Create(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"name":"CI pipeline","expires_in_days":30}`, http.StatusCreated},
		{"empty name", `{"name":"","expires_in_days":30}`, http.StatusBadRequest},
		{"zero days", `{"name":"CI","expires_in_days":0}`, http.StatusBadRequest},
		{"too many days", `{"name":"CI","expires_in_days":400}`, http.StatusBadRequest},
		{"malformed body", `{"name":`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s := newTestServer(t, newFakeKeys(), &fakeBroadcast{})
			w := doRequest(t, s, http.MethodPost, "/api/keys", tt.body, authHeader(t))
			assert.Equal(t, tt.wantStatus, w.Code)

			if tt.wantStatus == http.StatusCreated {
				body := decodeBody(t, w.Body.String())
				data := body["data"].(map[string]any)
				assert.Equal(t, "secret-token", data["key"])
				assert.Equal(t, "CI pipeline", data["name"])
			}
		})
	}
}

func TestKeys_Revoke(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{ID: "key-1", Key: "secret", IsActive: true, ExpiresAt: keys.now.Add(time.Hour)})
	s := newTestServer(t, keys, &fakeBroadcast{})

	w := doRequest(t, s, http.MethodDelete, "/api/keys/key-1", "", authHeader(t))
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, s, http.MethodDelete, "/api/keys/missing", "", authHeader(t))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKeys_RotateBroadcastsAndReturnsNewKey(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{ID: "key-1", Key: "secret", IsActive: true, ExpiresAt: keys.now.Add(time.Hour)})
	bcast := &fakeBroadcast{}
	s := newTestServer(t, keys, bcast)

	w := doRequest(t, s, http.MethodPost, "/api/keys/key-1/rotate", "", authHeader(t))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, "rotated-1", data["id"])
	assert.Equal(t, "fresh-token", data["key"])

	msgs := bcast.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, realtime.TypeKeyRotated, msgs[0].Type)
	assert.Equal(t, "fresh-token", msgs[0].Data["api_key"])
}

func TestKeys_RotateMissingSource(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	bcast := &fakeBroadcast{}
	s := newTestServer(t, keys, bcast)

	w := doRequest(t, s, http.MethodPost, "/api/keys/missing/rotate", "", authHeader(t))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Zero(t, keys.rotations())
	assert.Empty(t, bcast.sent())
}

func TestKeys_RotateRunsAfterRotateHook(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{ID: "key-1", Key: "secret", IsActive: true, ExpiresAt: keys.now.Add(time.Hour)})

	var hookRuns atomic.Int64
	cfg := config.Default()
	cfg.Auth.AdminJWTSecret = testAdminSecret
	s := New(Options{
		Config:    cfg,
		Keys:      keys,
		Finder:    keys,
		Articles:  newTestArticles(t),
		Broadcast: &fakeBroadcast{},
		AfterRotate: func() {
			hookRuns.Add(1)
		},
	})

	w := doRequest(t, s, http.MethodPost, "/api/keys/key-1/rotate", "", authHeader(t))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), hookRuns.Load())
}

func TestKeys_RotateDeferredDeactivationOutlivesRequest(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{ID: "key-1", Key: "secret", IsActive: true, ExpiresAt: keys.now.Add(time.Hour)})

	sched := scheduler.New()
	sched.Start(context.Background())
	defer sched.Stop()

	// Mirror the production wiring: the hook arms the grace-window
	// deactivation on the scheduler. The one-shot must fire even though
	// the rotate request is long finished by then.
	var deactivations atomic.Int64
	cfg := config.Default()
	cfg.Auth.AdminJWTSecret = testAdminSecret
	s := New(Options{
		Config:    cfg,
		Keys:      keys,
		Finder:    keys,
		Articles:  newTestArticles(t),
		Broadcast: &fakeBroadcast{},
		AfterRotate: func() {
			sched.After(20*time.Millisecond, "deactivate_superseded", func(ctx context.Context) error {
				deactivations.Add(1)
				return nil
			})
		},
	})

	w := doRequest(t, s, http.MethodPost, "/api/keys/key-1/rotate", "", authHeader(t))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Eventually(t, func() bool { return deactivations.Load() == 1 },
		2*time.Second, 5*time.Millisecond, "deferred deactivation never fired")
}

func TestKeys_Verify(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{ID: "key-1", Key: "good-token", IsActive: true, ExpiresAt: keys.now.Add(time.Hour)})
	s := newTestServer(t, keys, &fakeBroadcast{})

	w := doRequest(t, s, http.MethodGet, "/api/keys/verify?key=good-token", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w.Body.String())
	assert.Equal(t, true, body["valid"])
	assert.NotNil(t, body["expires_at"])

	w = doRequest(t, s, http.MethodGet, "/api/keys/verify?key=bad-token", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w.Body.String())
	assert.Equal(t, false, body["valid"])
	assert.Nil(t, body["expires_at"])

	w = doRequest(t, s, http.MethodGet, "/api/keys/verify", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body = decodeBody(t, w.Body.String())
	assert.Equal(t, false, body["valid"])
}

func TestKeys_Current(t *testing.T) {
	t.Parallel()

	keys := newFakeKeys()
	keys.add(&apikey.Record{
		ID:        "key-1",
		Key:       "secret",
		IsActive:  true,
		CreatedAt: keys.now.Add(-time.Hour),
		ExpiresAt: keys.now.Add(72 * time.Hour),
	})
	s := newTestServer(t, keys, &fakeBroadcast{})

	w := doRequest(t, s, http.MethodGet, "/api/keys/current", "", authHeader(t))
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w.Body.String())
	data := body["data"].(map[string]any)
	assert.Equal(t, "key-1", data["id"])
	assert.Equal(t, float64(3), data["days_remaining"])
	assert.NotContains(t, data, "key")
}

func TestKeys_CurrentNoActiveKey(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, newFakeKeys(), &fakeBroadcast{})
	w := doRequest(t, s, http.MethodGet, "/api/keys/current", "", authHeader(t))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
