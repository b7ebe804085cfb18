// Package scheduler runs named periodic tasks on cron schedules, such as
// persisting stream snapshots and pruning old runs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/vidpace/internal/observability"
)

// ErrTaskNotFound is returned by RunNow for unknown task names.
var ErrTaskNotFound = errors.New("task not found")

// Task is the work run on each tick. It receives the scheduler's context.
type Task func(ctx context.Context) error

// Parser accepts standard five-field expressions and descriptors such as
// "@every 30s" or "@daily".
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateCron checks expr.
func ValidateCron(expr string) error {
	if _, err := Parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// TaskStatus describes a registered task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	Runs      uint64    `json:"runs"`
	Failures  uint64    `json:"failures"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	NextRun   time.Time `json:"next_run,omitzero"`
}

type task struct {
	name     string
	schedule string
	fn       Task
	entry    cron.EntryID

	runs     atomic.Uint64
	failures atomic.Uint64

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// Scheduler owns a cron instance. Overlapping runs of the same task are skipped.
type Scheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	tasks  map[string]*task
	order  []string
	logger *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a stopped scheduler.
func New() *Scheduler {
	s := &Scheduler{
		tasks:  make(map[string]*task),
		logger: slog.Default(),
	}
	s.cron = cron.New(
		cron.WithParser(Parser),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s})),
	)
	return s
}

// WithLogger sets a custom logger. Call it before Start.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = observability.WithComponent(logger, "scheduler")
	return s
}

// Add registers fn under name on schedule. Tasks may be added before or
// after Start.
func (s *Scheduler) Add(name, schedule string, fn Task) error {
	if name == "" {
		return errors.New("task name is required")
	}
	if err := ValidateCron(schedule); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %q already registered", name)
	}

	t := &task{name: name, schedule: schedule, fn: fn}
	id, err := s.cron.AddFunc(schedule, func() { s.run(t) })
	if err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	t.entry = id
	s.tasks[name] = t
	s.order = append(s.order, name)

	s.logger.Debug("task scheduled", slog.String("task", name), slog.String("schedule", schedule))
	return nil
}

// Start begins running tasks until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("scheduler already started")
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.cron.Start()

	s.logger.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop halts the schedule and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	s.logger.Info("scheduler stopped")
}

// RunNow executes the named task synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}
	return s.run(t)
}

func (s *Scheduler) run(t *task) error {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	err := t.fn(ctx)

	t.runs.Add(1)
	t.mu.Lock()
	t.lastRun = start
	t.lastErr = ""
	if err != nil {
		t.lastErr = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		t.failures.Add(1)
		observability.WithError(s.logger, err).Warn("scheduled task failed", slog.String("task", t.name))
		return err
	}
	s.logger.Log(ctx, observability.LevelTrace, "scheduled task completed",
		slog.String("task", t.name),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Status returns the registered tasks in registration order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.order))
	for _, name := range s.order {
		t := s.tasks[name]
		st := TaskStatus{
			Name:     t.name,
			Schedule: t.schedule,
			Runs:     t.runs.Load(),
			Failures: t.failures.Load(),
			NextRun:  s.cron.Entry(t.entry).Next,
		}
		t.mu.Lock()
		st.LastRun = t.lastRun
		st.LastError = t.lastErr
		t.mu.Unlock()
		out = append(out, st)
	}
	return out
}

// cronLogger adapts the scheduler's slog logger to cron.Logger.
type cronLogger struct {
	s *Scheduler
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	observability.WithError(l.s.logger, err).Error(msg, keysAndValues...)
}
