// Package runner executes work items in lanes and retries failed items.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/tvt/internal/action"
	"github.com/gateway-fm/tvt/internal/metrics"
	"github.com/gateway-fm/tvt/internal/workload"
	"github.com/gateway-fm/tvt/pkg/types"
)

// DefaultCooldown is the pause after a failed item before the lane continues.
const DefaultCooldown = 2500 * time.Millisecond

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the default Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatcher resolves an action kind to its implementation.
type Dispatcher interface {
	Get(kind types.ActionKind) (action.Action, error)
}

// Progress describes one finished item.
type Progress struct {
	Attempt int // 0 is the first pass, 1..MaxRounds are retry rounds
	Lane    int
	Index   int // 1-based position in the lane
	Total   int // lane length
	Kind    types.ActionKind
	Records int
	Elapsed time.Duration
	Err     error
}

// Hooks receive execution events. Any hook may be nil.
// Hooks are called from lane goroutines and must be safe for concurrent use.
type Hooks struct {
	OnItem       func(Progress)
	OnRoundStart func(attempt, items int)
}

// Runner executes lanes of work items.
type Runner struct {
	dispatcher Dispatcher
	recorder   metrics.Recorder
	prom       *metrics.PrometheusMetrics
	hooks      Hooks
	cooldown   time.Duration
	sleep      Sleeper
	logger     *slog.Logger
}

// RunnerConfig holds Runner dependencies.
type RunnerConfig struct {
	Dispatcher Dispatcher
	Recorder   metrics.Recorder
	Metrics    *metrics.PrometheusMetrics // optional
	Hooks      Hooks
	Cooldown   time.Duration
	Sleep      Sleeper // defaults to SleepContext
	Logger     *slog.Logger
}

// NewRunner creates a lane runner.
func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	return &Runner{
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.Recorder,
		prom:       cfg.Metrics,
		hooks:      cfg.Hooks,
		cooldown:   cfg.Cooldown,
		sleep:      sleep,
		logger:     logger,
	}
}

// RunLane executes items strictly in order and returns the items that failed.
// A failed item is followed by the cooldown before the next one starts.
// The lane stops early only when ctx is done; the unfinished items are then
// returned as failures together with the context error.
func (r *Runner) RunLane(ctx context.Context, lane int, items []workload.WorkItem, attempt int) ([]workload.WorkItem, error) {
	var failed []workload.WorkItem

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return append(failed, items[i:]...), err
		}

		r.logger.Info("action called",
			slog.String("action", string(item.Kind)),
			slog.Int("attempt", attempt),
			slog.Int("lane", lane),
			slog.String("progress", fmt.Sprintf("%d / %d", i+1, len(items))))

		start := time.Now()
		records, err := r.execute(ctx, item.Kind)
		elapsed := time.Since(start)
		if r.prom != nil {
			r.prom.RecordAction(item.Kind, err == nil, elapsed.Seconds())
		}

		if r.hooks.OnItem != nil {
			r.hooks.OnItem(Progress{
				Attempt: attempt,
				Lane:    lane,
				Index:   i + 1,
				Total:   len(items),
				Kind:    item.Kind,
				Records: len(records),
				Elapsed: elapsed,
				Err:     err,
			})
		}

		if err == nil {
			r.recorder.Record(records...)
			continue
		}

		r.logger.Warn("action failed",
			slog.String("action", string(item.Kind)),
			slog.Int("attempt", attempt),
			slog.Int("lane", lane),
			slog.String("error", err.Error()))
		failed = append(failed, item)

		if err := r.sleep(ctx, r.cooldown); err != nil {
			return append(failed, items[i+1:]...), err
		}
	}
	return failed, nil
}

// execute runs one action. A panic inside the action is reported as an error.
func (r *Runner) execute(ctx context.Context, kind types.ActionKind) (records []types.FeeRecord, err error) {
	defer func() {
		if p := recover(); p != nil {
			records = nil
			err = fmt.Errorf("action panicked: %v", p)
		}
	}()

	a, err := r.dispatcher.Get(kind)
	if err != nil {
		return nil, err
	}
	records, err = a.Execute(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	for i := range records {
		if records[i].RecordedAt.IsZero() {
			records[i].RecordedAt = now
		}
	}
	return records, nil
}
