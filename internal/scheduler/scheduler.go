// Package scheduler runs a job once or on a cron schedule, never more than one
// at a time.
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
)

// ErrStopped is returned when starting a scheduler that was already stopped.
var ErrStopped = errors.New("scheduler stopped")

// Job is the unit of work, typically one full load-test run.
type Job func(ctx context.Context) error

// Config holds Scheduler settings.
type Config struct {
	Job      Job
	Location *time.Location // defaults to time.Local
	Logger   *slog.Logger
}

// Scheduler triggers Job and drops triggers that arrive while a job runs.
type Scheduler struct {
	job    Job
	logger *slog.Logger
	cron   *cron.Cron

	running atomic.Bool
	started atomic.Bool

	mu      sync.Mutex
	stopped bool
	timer   *time.Timer
	done    chan struct{}
}

// New creates a Scheduler.
func New(cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		job:    cfg.Job,
		logger: logger,
		cron:   cron.New(cron.WithLocation(loc), cron.WithLogger(cronLogger{logger})),
		done:   make(chan struct{}),
	}
}

// ParseSpec validates a standard 5-field cron spec or descriptor.
func ParseSpec(spec string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return sched, nil
}

// TryRun runs the job unless one is already running. It returns false
// without error when the trigger was dropped.
func (s *Scheduler) TryRun(ctx context.Context) (bool, error) {
	release, ok := s.Acquire()
	if !ok {
		s.logger.Warn("previous run is still in progress, skipping")
		return false, nil
	}
	defer release()

	return true, s.job(ctx)
}

// Acquire takes the run guard for work started outside the schedule, such as
// an API request. The caller must call release exactly once when done.
func (s *Scheduler) Acquire() (release func(), ok bool) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { s.running.Store(false) }) }, true
}

// Running reports whether a job is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start schedules the job on spec. A non-zero stopAt stops scheduling at that
// time; runs in flight are allowed to finish.
func (s *Scheduler) Start(ctx context.Context, spec string, stopAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if !stopAt.IsZero() && !stopAt.After(time.Now()) {
		return fmt.Errorf("stop time %s is in the past", stopAt.Format(time.RFC3339))
	}
	sched, err := ParseSpec(spec)
	if err != nil {
		return err
	}
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("scheduler already started")
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		if _, err := s.TryRun(ctx); err != nil {
			s.logger.Error("scheduled run failed", slog.String("error", err.Error()))
		}
	}))
	s.cron.Start()

	attrs := []any{slog.String("spec", spec), slog.Time("next", sched.Next(time.Now()))}
	if !stopAt.IsZero() {
		s.timer = time.AfterFunc(time.Until(stopAt), func() {
			s.logger.Info("stop time reached")
			s.Stop()
		})
		attrs = append(attrs, slog.Time("stop_at", stopAt))
	}
	s.logger.Info("scheduler started", attrs...)
	return nil
}

// Next returns the next scheduled activation, or zero if none.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop halts scheduling. The returned context is done once the running job
// has finished. Stop is idempotent.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx := s.cron.Stop()
	if s.stopped {
		return ctx
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	go func() {
		<-ctx.Done()
		close(s.done)
	}()
	return ctx
}

// Done is closed after Stop once the running job has finished.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// cronLogger routes cron's internal logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
