package server

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/realtime"
)

// KeyService is the slice of the key manager the HTTP layer uses.
type KeyService interface {
	Create(ctx context.Context, name string, expiresInDays int) (*apikey.Record, error)
	Rotate(ctx context.Context, description string) (*apikey.Record, error)
	Revoke(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*apikey.Record, error)
	List(ctx context.Context) ([]*apikey.Record, error)
	Current(ctx context.Context) (*apikey.Record, error)
	FindValid(ctx context.Context, key string) (*apikey.Record, error)
	Now() time.Time
}

// keysHandler serves the key management and verification routes.
type keysHandler struct {
	keys      KeyService
	broadcast realtime.Broadcaster
	logger    observability.Logger

	// afterRotate runs after a successful administrative rotation; the
	// wire-up uses it to arm the delayed deactivation under the overlap
	// policy. It must not hold the request context: the deactivation
	// outlives the request.
	afterRotate func()
}

type createKeyRequest struct {
	Name          string `json:"name"`
	ExpiresInDays int    `json:"expires_in_days"`
}

// list returns all keys with secrets redacted.
func (h *keysHandler) list(c *gin.Context) {
	records, err := h.keys.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list keys", observability.Error(err))
		respondInternal(c)
		return
	}

	out := make([]*apikey.Record, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Redacted())
	}
	respondData(c, http.StatusOK, out)
}

// create mints a key with an explicit expiry. The plaintext token appears in
// this response and nowhere else afterwards.
func (h *keysHandler) create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondMessage(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := h.keys.Create(c.Request.Context(), req.Name, req.ExpiresInDays)
	switch {
	case errors.Is(err, apikey.ErrEmptyName):
		respondMessage(c, http.StatusBadRequest, "Name must not be empty")
		return
	case errors.Is(err, apikey.ErrExpiryOutOfRange):
		respondMessage(c, http.StatusBadRequest, "expires_in_days must be between 1 and 365")
		return
	case err != nil:
		h.logger.Error("create key", observability.Error(err))
		respondInternal(c)
		return
	}

	respondData(c, http.StatusCreated, gin.H{
		"id":         rec.ID,
		"key":        rec.Key,
		"name":       rec.Description,
		"expires_at": rec.ExpiresAt,
	})
}

// revoke deactivates one key by id.
func (h *keysHandler) revoke(c *gin.Context) {
	id := c.Param("id")
	err := h.keys.Revoke(c.Request.Context(), id)
	switch {
	case errors.Is(err, apikey.ErrNotFound):
		respondMessage(c, http.StatusNotFound, "Key not found")
		return
	case err != nil:
		h.logger.Error("revoke key", observability.String("key_id", id), observability.Error(err))
		respondInternal(c)
		return
	}

	respondData(c, http.StatusOK, gin.H{"id": id, "revoked": true})
}

// rotate mints a replacement for an existing key and announces it to
// connected clients.
func (h *keysHandler) rotate(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.keys.Get(ctx, id); err != nil {
		if errors.Is(err, apikey.ErrNotFound) {
			respondMessage(c, http.StatusNotFound, "Key not found")
			return
		}
		h.logger.Error("rotate key: lookup", observability.String("key_id", id), observability.Error(err))
		respondInternal(c)
		return
	}

	rec, err := h.keys.Rotate(ctx, "Manual rotation")
	if err != nil {
		h.logger.Error("rotate key", observability.String("key_id", id), observability.Error(err))
		respondInternal(c)
		return
	}

	delivered := h.broadcast.Broadcast(ctx, realtime.KeyRotatedMessage(rec.ID, rec.Key, rec.ExpiresAt))
	h.logger.Info("manual rotation announced",
		observability.String("key_id", rec.ID),
		observability.Int("delivered", delivered),
	)

	if h.afterRotate != nil {
		h.afterRotate()
	}

	respondData(c, http.StatusOK, gin.H{
		"id":         rec.ID,
		"key":        rec.Key,
		"name":       rec.Description,
		"expires_at": rec.ExpiresAt,
	})
}

// verify reports whether a key currently authenticates. The endpoint is
// public and rate limited; it never distinguishes why a key is invalid.
func (h *keysHandler) verify(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "valid": false, "expires_at": nil})
		return
	}

	rec, err := h.keys.FindValid(c.Request.Context(), key)
	switch {
	case errors.Is(err, apikey.ErrNotFound):
		c.JSON(http.StatusOK, gin.H{"success": true, "valid": false, "expires_at": nil})
		return
	case err != nil:
		h.logger.Error("verify key", observability.Error(err))
		respondInternal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "valid": true, "expires_at": rec.ExpiresAt})
}

// current returns the active key's metadata without the secret.
func (h *keysHandler) current(c *gin.Context) {
	rec, err := h.keys.Current(c.Request.Context())
	switch {
	case errors.Is(err, apikey.ErrNoActiveKey):
		respondMessage(c, http.StatusNotFound, "No active key")
		return
	case err != nil:
		h.logger.Error("current key", observability.Error(err))
		respondInternal(c)
		return
	}

	remaining := rec.ExpiresAt.Sub(h.keys.Now())
	days := int(math.Floor(remaining.Hours() / 24))
	if days < 0 {
		days = 0
	}

	respondData(c, http.StatusOK, gin.H{
		"id":             rec.ID,
		"name":           rec.Description,
		"is_active":      rec.IsActive,
		"created_at":     rec.CreatedAt,
		"expires_at":     rec.ExpiresAt,
		"days_remaining": days,
	})
}
