// Package scheduler runs the fixed-rate maintenance tasks of the key
// lifecycle pipeline. Each task runs on its own ticker in its own goroutine;
// a failure or panic in one task never cancels or delays the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pressgate/pressgate/internal/observability"
)

// TaskFunc is one scheduled unit of work. Implementations take their
// dependencies explicitly and report failure via the returned error;
// they must never panic across the scheduler boundary (the scheduler
// recovers and logs if they do).
type TaskFunc func(ctx context.Context) error

// Task is a registered fixed-rate task.
type Task struct {
	// Name identifies the task in logs and metrics.
	Name string

	// Interval is the fixed tick rate.
	Interval time.Duration

	// RunAtStart runs the task synchronously when the scheduler starts,
	// before any ticker fires.
	RunAtStart bool

	// Run does the work.
	Run TaskFunc
}

// Scheduler owns the background task goroutines.
type Scheduler struct {
	tasks   []Task
	logger  observability.Logger
	metrics *Metrics

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Option is a functional option for the Scheduler.
type Option func(*Scheduler)

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(logger observability.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithSchedulerMetrics sets the metrics.
func WithSchedulerMetrics(metrics *Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// New creates a scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		logger: observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics("pressgate")
	}

	return s
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Start runs RunAtStart tasks synchronously, then launches one goroutine
// per task. It returns immediately after the loops are running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.ctx = ctx
	tasks := s.tasks
	s.mu.Unlock()

	for _, task := range tasks {
		if task.RunAtStart {
			s.runTask(ctx, task)
		}
	}

	for _, task := range tasks {
		s.wg.Add(1)
		go s.loop(ctx, task)
	}

	s.logger.Info("scheduler started", observability.Int("tasks", len(tasks)))
}

// Stop cancels all task loops and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// After arms a one-shot follow-up that runs fn after d unless the scheduler
// stops first. The one-shot is bound to the scheduler's own run context, not
// the caller's, so it outlives short-lived callers such as request handlers.
// Used for the delayed deactivation in the overlap policy.
func (s *Scheduler) After(d time.Duration, name string, fn TaskFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
		case <-timer.C:
			s.runTask(ctx, Task{Name: name, Run: fn})
		}
	}()
}

// loop drives one task at its fixed rate until the context is cancelled.
func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, task)
		}
	}
}

// runTask executes one tick with panic isolation. Errors abandon the tick;
// the next tick retries.
func (s *Scheduler) runTask(ctx context.Context, task Task) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordRun(task.Name, "panic", time.Since(start))
			s.logger.Error("scheduled task panicked",
				observability.String("task", task.Name),
				observability.Any("panic", r),
			)
		}
	}()

	if err := task.Run(ctx); err != nil {
		s.metrics.RecordRun(task.Name, "error", time.Since(start))
		s.logger.Error("scheduled task failed",
			observability.String("task", task.Name),
			observability.Error(err),
		)
		return
	}

	s.metrics.RecordRun(task.Name, "success", time.Since(start))
	s.logger.Debug("scheduled task completed",
		observability.String("task", task.Name),
		observability.Duration("elapsed", time.Since(start)),
	)
}

// String describes the registered cadences, for startup logging.
func (s *Scheduler) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := ""
	for i, task := range s.tasks {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s every %s", task.Name, task.Interval)
	}
	return out
}
