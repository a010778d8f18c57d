package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/observability"
)

const (
	// DefaultAPIKeyHeader is the default request header carrying the API key.
	DefaultAPIKeyHeader = "x-api-key"

	// ContextKeyRecord is the gin context key for the resolved key record.
	ContextKeyRecord = "apiKeyRecord"
)

// invalidKeyBody is the uniform rejection for every credential failure.
// Missing, unknown, expired, and revoked keys are indistinguishable to the
// caller.
var invalidKeyBody = gin.H{"success": false, "message": "Invalid API key"}

// KeyFinder resolves a presented key to a valid record.
type KeyFinder interface {
	FindValid(ctx context.Context, key string) (*apikey.Record, error)
}

// FailureRecorder counts authentication failures for the security posture
// check. Implementations must be safe for concurrent use.
type FailureRecorder interface {
	Record(ctx context.Context)
}

// APIKeyConfig holds settings for the API key middleware.
type APIKeyConfig struct {
	// Header is the request header to read; DefaultAPIKeyHeader when empty.
	Header string

	// Failures, when set, receives a Record call on every rejected request.
	Failures FailureRecorder

	// Logger defaults to a nop logger.
	Logger observability.Logger
}

// APIKey returns a gin middleware that authenticates requests with an API
// key header. A missing header fails closed before the store is queried.
// On success the resolved record is attached to the request context.
func APIKey(finder KeyFinder, cfg APIKeyConfig) gin.HandlerFunc {
	header := cfg.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(header)
		if key == "" {
			recordFailure(c, cfg.Failures)
			c.AbortWithStatusJSON(http.StatusUnauthorized, invalidKeyBody)
			return
		}

		rec, err := finder.FindValid(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, apikey.ErrNotFound) {
				recordFailure(c, cfg.Failures)
				c.AbortWithStatusJSON(http.StatusUnauthorized, invalidKeyBody)
				return
			}
			logger.Error("API key lookup failed",
				observability.String("path", c.Request.URL.Path),
				observability.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"message": "Internal server error",
			})
			return
		}

		c.Set(ContextKeyRecord, rec)
		c.Next()
	}
}

// recordFailure reports a rejected request to the failure tracker.
// Tracking is best-effort and never delays the response.
func recordFailure(c *gin.Context, failures FailureRecorder) {
	if failures == nil {
		return
	}
	failures.Record(c.Request.Context())
}

// RecordFromContext returns the key record attached by the APIKey middleware.
func RecordFromContext(c *gin.Context) (*apikey.Record, bool) {
	v, ok := c.Get(ContextKeyRecord)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*apikey.Record)
	return rec, ok
}
