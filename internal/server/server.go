// Package server assembles the HTTP surface: key management and verification,
// the content catalog, the websocket endpoint, health and metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pressgate/pressgate/internal/articles"
	"github.com/pressgate/pressgate/internal/auth"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/realtime"
)

// ginModeOnce guards the global gin mode switch.
var ginModeOnce sync.Once

// Options carries the wired dependencies for the HTTP surface.
type Options struct {
	Config *config.Config
	Logger observability.Logger

	Keys     KeyService
	Finder   auth.KeyFinder
	Failures auth.FailureRecorder
	Articles *articles.Store

	Broadcast realtime.Broadcaster
	WSHandler *realtime.Handler

	// AfterRotate runs after a successful administrative rotation.
	AfterRotate func()

	// Gatherers are the per-package metric registries exposed on /metrics.
	Gatherers []prometheus.Gatherer
}

// Server is the HTTP server for the backend.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	cfg    *config.Config
	logger observability.Logger
}

// New builds the engine and mounts all routes.
func New(opts Options) *Server {
	ginModeOnce.Do(func() {
		gin.SetMode(gin.ReleaseMode)
	})

	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	s := &Server{
		engine: engine,
		cfg:    opts.Config,
		logger: logger,
	}
	s.mountRoutes(opts)

	return s
}

// Engine returns the underlying gin engine, for tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) mountRoutes(opts Options) {
	cfg := opts.Config

	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	gatherers := make(prometheus.Gatherers, 0, len(opts.Gatherers))
	gatherers = append(gatherers, opts.Gatherers...)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})))

	keys := &keysHandler{
		keys:        opts.Keys,
		broadcast:   opts.Broadcast,
		logger:      s.logger,
		afterRotate: opts.AfterRotate,
	}

	// Public verification, rate limited per client IP.
	s.engine.GET("/api/keys/verify",
		RateLimit(cfg.Server.VerifyRatePerSecond, cfg.Server.VerifyRateBurst),
		keys.verify,
	)

	// Administrative key management behind the bearer token check.
	admin := s.engine.Group("/api/keys")
	admin.Use(auth.AdminJWT(auth.AdminJWTConfig{
		Secret: cfg.Auth.AdminJWTSecret,
		Issuer: cfg.Auth.AdminJWTIssuer,
		Logger: s.logger,
	}))
	admin.GET("", keys.list)
	admin.POST("", keys.create)
	admin.GET("/current", keys.current)
	admin.DELETE("/:id", keys.revoke)
	admin.POST("/:id/rotate", keys.rotate)

	// Content catalog behind the API key check.
	content := s.engine.Group("/api")
	content.Use(auth.APIKey(opts.Finder, auth.APIKeyConfig{
		Header:   cfg.Auth.APIKeyHeader,
		Failures: opts.Failures,
		Logger:   s.logger,
	}))
	arts := &articlesHandler{store: opts.Articles, logger: s.logger}
	content.GET("/articles", arts.list)
	content.GET("/articles/:id", arts.get)
	content.GET("/categories", arts.categories)

	if opts.WSHandler != nil {
		s.engine.GET(cfg.WebSocket.Path, opts.WSHandler.Serve)
	}
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: s.cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  s.cfg.Server.IdleTimeout.Duration(),
	}

	s.logger.Info("starting HTTP server", observability.String("addr", s.cfg.Server.Addr))

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// requestLogger logs one line per request at debug level.
func requestLogger(logger observability.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			observability.String("method", c.Request.Method),
			observability.String("path", c.Request.URL.Path),
			observability.Int("status", c.Writer.Status()),
			observability.Duration("elapsed", time.Since(start)),
		)
	}
}
