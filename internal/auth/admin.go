package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/pressgate/pressgate/internal/observability"
)

const (
	// ContextKeyAdminSubject is the gin context key for the admin subject.
	ContextKeyAdminSubject = "adminSubject"

	bearerPrefix = "Bearer "
)

// AdminJWTConfig holds settings for the admin bearer-token middleware.
type AdminJWTConfig struct {
	// Secret is the HMAC signing secret.
	Secret string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Logger defaults to a nop logger.
	Logger observability.Logger
}

// AdminJWT returns a gin middleware that authenticates admin requests with
// an HS256 bearer token in the Authorization header.
func AdminJWT(cfg AdminJWTConfig) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	secret := []byte(cfg.Secret)

	parseOpts := []jwt.ParseOption{
		jwt.WithKey(jwa.HS256, secret),
		jwt.WithValidate(true),
	}
	if cfg.Issuer != "" {
		parseOpts = append(parseOpts, jwt.WithIssuer(cfg.Issuer))
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}

		raw := strings.TrimPrefix(header, bearerPrefix)
		tok, err := jwt.Parse([]byte(raw), parseOpts...)
		if err != nil {
			logger.Debug("admin token rejected",
				observability.String("path", c.Request.URL.Path),
				observability.Error(err),
			)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Unauthorized",
			})
			return
		}

		c.Set(ContextKeyAdminSubject, tok.Subject())
		c.Next()
	}
}

// MintAdminToken issues an HS256 admin token. Used by the CLI and by tests;
// interactive login is out of scope for this service.
func MintAdminToken(secret, issuer, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	builder := jwt.NewBuilder().
		Subject(subject).
		IssuedAt(now).
		Expiration(now.Add(ttl))
	if issuer != "" {
		builder = builder.Issuer(issuer)
	}

	tok, err := builder.Build()
	if err != nil {
		return "", err
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, []byte(secret)))
	if err != nil {
		return "", err
	}
	return string(signed), nil
}
