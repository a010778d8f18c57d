package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/pressgate/pressgate/internal/apikey"
	"github.com/pressgate/pressgate/internal/articles"
	"github.com/pressgate/pressgate/internal/auth"
	"github.com/pressgate/pressgate/internal/config"
	"github.com/pressgate/pressgate/internal/observability"
	"github.com/pressgate/pressgate/internal/realtime"
	"github.com/pressgate/pressgate/internal/scheduler"
	"github.com/pressgate/pressgate/internal/server"
	"github.com/pressgate/pressgate/internal/storage"
)

// application owns every long-lived component and their shutdown order.
type application struct {
	cfg    *config.Config
	logger observability.Logger

	db          *sqlx.DB
	redisClient *redis.Client

	manager   *apikey.Manager
	registry  *realtime.Registry
	scheduler *scheduler.Scheduler
	server    *server.Server
	watcher   *config.Watcher

	requireEnc atomic.Bool
	startedAt  time.Time
}

// newApplication wires the full component graph. The only fatal condition is
// a database that cannot be opened.
func newApplication(ctx context.Context, cfg *config.Config, configPath string, logger observability.Logger) (*application, error) {
	app := &application{
		cfg:       cfg,
		logger:    logger,
		startedAt: time.Now(),
	}
	app.requireEnc.Store(cfg.WebSocket.RequireEncrypted)

	db, err := storage.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	app.db = db

	keyMetrics := apikey.NewMetrics("pressgate")
	app.manager = apikey.NewManager(
		apikey.NewSQLStore(db),
		apikey.Policy{
			KeyTTL:        cfg.Rotation.KeyTTL.Duration(),
			OverlapWindow: cfg.Rotation.OverlapWindow.Duration(),
		},
		apikey.WithLogger(logger),
		apikey.WithMetrics(keyMetrics),
	)

	var failures auth.FailureCounter = auth.NopFailureTracker{}
	var failureRecorder auth.FailureRecorder = auth.NopFailureTracker{}
	if cfg.Redis.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		tracker := auth.NewFailureTracker(app.redisClient, cfg.Posture.FailureLookback.Duration(), logger)
		failures = tracker
		failureRecorder = tracker
	}

	rtMetrics := realtime.NewMetrics("pressgate")
	app.registry = realtime.NewRegistry(logger, rtMetrics)

	dispatcherOpts := []realtime.DispatcherOption{
		realtime.WithDispatcherLogger(logger),
		realtime.WithDispatcherMetrics(rtMetrics),
	}
	if cfg.WebSocket.EncryptionEnabled {
		cipher, err := realtime.NewCipher(cfg.WebSocket.Cipher, cfg.WebSocket.EncryptionKey)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("websocket cipher: %w", err)
		}
		dispatcherOpts = append(dispatcherOpts, realtime.WithCipher(cipher))
	}
	dispatcher := realtime.NewDispatcher(app.registry, dispatcherOpts...)

	finder := auth.NewBreakerFinder(app.manager, logger)

	wsHandler := realtime.NewHandler(app.registry, dispatcher, app.manager, realtime.HandlerConfig{
		Header:           cfg.Auth.APIKeyHeader,
		RequireEncrypted: app.requireEnc.Load,
		Logger:           logger,
	})

	schedMetrics := scheduler.NewMetrics("pressgate")
	app.scheduler = scheduler.New(
		scheduler.WithSchedulerLogger(logger),
		scheduler.WithSchedulerMetrics(schedMetrics),
	)
	app.registerTasks(failures, dispatcher)

	app.server = server.New(server.Options{
		Config:    cfg,
		Logger:    logger,
		Keys:      app.manager,
		Finder:    finder,
		Failures:  failureRecorder,
		Articles:  articles.NewStore(db),
		Broadcast: dispatcher,
		WSHandler: wsHandler,
		AfterRotate: func() {
			if overlap := cfg.Rotation.OverlapWindow.Duration(); overlap > 0 {
				app.scheduler.After(overlap, "deactivate_superseded", app.manager.DeactivateSuperseded)
			}
		},
		Gatherers: []prometheus.Gatherer{
			keyMetrics.Registry(),
			rtMetrics.Registry(),
			schedMetrics.Registry(),
		},
	})

	watcher, err := config.NewWatcher(configPath, app.applyRuntimeConfig, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", observability.Error(err))
	} else {
		app.watcher = watcher
	}

	return app, nil
}

// registerTasks mounts the fixed-rate maintenance tasks. Rotation also runs
// synchronously at startup so at least one active key exists before the
// server accepts traffic.
func (app *application) registerTasks(failures auth.FailureCounter, dispatcher *realtime.Dispatcher) {
	cfg := app.cfg

	rotation := &scheduler.RotationTask{
		Keys:          app.manager,
		Broadcast:     dispatcher,
		Scheduler:     app.scheduler,
		OverlapWindow: cfg.Rotation.OverlapWindow.Duration(),
		Description:   "Scheduled rotation",
		Logger:        app.logger,
	}
	app.scheduler.Register(scheduler.Task{
		Name:       "rotation",
		Interval:   cfg.Schedule.RotationInterval.Duration(),
		RunAtStart: true,
		Run:        rotation.Run,
	})

	cleanup := &scheduler.CleanupTask{Keys: app.manager, Logger: app.logger}
	app.scheduler.Register(scheduler.Task{
		Name:     "cleanup",
		Interval: cfg.Schedule.CleanupInterval.Duration(),
		Run:      cleanup.Run,
	})

	purge := &scheduler.PurgeTask{
		Keys:      app.manager,
		Retention: cfg.Schedule.PurgeRetention.Duration(),
		Logger:    app.logger,
	}
	app.scheduler.Register(scheduler.Task{
		Name:     "purge",
		Interval: cfg.Schedule.PurgeInterval.Duration(),
		Run:      purge.Run,
	})

	posture := &scheduler.PostureTask{
		Keys:             app.manager,
		Failures:         failures,
		Broadcast:        dispatcher,
		ExpiryLookahead:  cfg.Posture.ExpiryLookahead.Duration(),
		FailureThreshold: cfg.Posture.FailureThreshold,
		Logger:           app.logger,
	}
	app.scheduler.Register(scheduler.Task{
		Name:     "posture",
		Interval: cfg.Schedule.PostureInterval.Duration(),
		Run:      posture.Run,
	})

	heartbeat := &scheduler.HeartbeatTask{
		Broadcast:   dispatcher,
		Connections: app.registry,
		StartedAt:   app.startedAt,
	}
	app.scheduler.Register(scheduler.Task{
		Name:     "heartbeat",
		Interval: cfg.Schedule.HeartbeatInterval.Duration(),
		Run:      heartbeat.Run,
	})
}

// applyRuntimeConfig applies the hot-reloadable subset of a freshly loaded
// configuration.
func (app *application) applyRuntimeConfig(cfg *config.Config) {
	if err := observability.SetLevel(app.logger, cfg.Log.Level); err != nil {
		app.logger.Warn("cannot apply reloaded log level",
			observability.String("level", cfg.Log.Level),
			observability.Error(err),
		)
	}

	if cfg.WebSocket.RequireEncrypted != app.requireEnc.Load() {
		app.requireEnc.Store(cfg.WebSocket.RequireEncrypted)
		app.logger.Info("websocket frame policy updated",
			observability.Bool("require_encrypted", cfg.WebSocket.RequireEncrypted),
		)
	}
}

// Run starts the scheduler and the HTTP server and blocks until the context
// is cancelled or the server fails, then shuts everything down in order.
func (app *application) Run(ctx context.Context) error {
	if app.watcher != nil {
		go app.watcher.Run(ctx)
	}

	app.logger.Info("registering scheduled tasks", observability.String("cadences", app.scheduler.String()))
	app.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.server.Start()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("shutdown signal received")
	case err := <-errCh:
		runErr = err
	}

	app.shutdown()
	return runErr
}

// shutdown stops components in reverse dependency order.
func (app *application) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("HTTP server shutdown", observability.Error(err))
	}

	app.scheduler.Stop()

	for _, client := range app.registry.Snapshot() {
		_ = client.Close()
	}

	if app.redisClient != nil {
		_ = app.redisClient.Close()
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn("database close", observability.Error(err))
	}
}
