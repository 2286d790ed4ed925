package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gateway-fm/tvt/internal/metrics"
	"github.com/gateway-fm/tvt/internal/workload"
)

// DefaultMaxRounds is the number of serial retry rounds after the first pass.
const DefaultMaxRounds = 3

// Resyncer restores client-side state (such as the account nonce) from the network.
type Resyncer interface {
	Resync(ctx context.Context) error
}

// ResyncFunc adapts a function to Resyncer.
type ResyncFunc func(ctx context.Context) error

// Resync calls f.
func (f ResyncFunc) Resync(ctx context.Context) error { return f(ctx) }

// RetryPolicy controls what happens after the first pass.
type RetryPolicy struct {
	MaxRounds int
	Cooldown  time.Duration
	// ShouldResync is evaluated once on the first-pass failures.
	ShouldResync func(failed []workload.WorkItem) bool
}

// DefaultRetryPolicy returns three rounds, a 2.5s cooldown and a resync
// whenever the first pass left failures.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRounds:    DefaultMaxRounds,
		Cooldown:     DefaultCooldown,
		ShouldResync: ResyncOnAnyFailure,
	}
}

// ResyncOnAnyFailure resyncs when there is at least one failure.
func ResyncOnAnyFailure(failed []workload.WorkItem) bool {
	return len(failed) > 0
}

// ResyncOnEVMFailure resyncs only when a failed item signs with the EVM nonce.
func ResyncOnEVMFailure(failed []workload.WorkItem) bool {
	for _, item := range failed {
		if item.Kind.RequiresEVMKey() {
			return true
		}
	}
	return false
}

// Result is the outcome of a full run.
type Result struct {
	Unrecovered []workload.WorkItem
	Rounds      int  // retry rounds executed
	Resynced    bool // whether a resync was performed
}

// Config holds Orchestrator dependencies.
type Config struct {
	RunnerConfig
	Policy   RetryPolicy
	Lanes    int
	Resyncer Resyncer // optional
}

// Orchestrator runs a workload as concurrent lanes followed by serial retry rounds.
type Orchestrator struct {
	runner   *Runner
	policy   RetryPolicy
	lanes    int
	resyncer Resyncer
	prom     *metrics.PrometheusMetrics
	hooks    Hooks
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Policy.MaxRounds < 0 {
		cfg.Policy.MaxRounds = 0
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = workload.DefaultLanes
	}
	cfg.RunnerConfig.Cooldown = cfg.Policy.Cooldown
	r := NewRunner(cfg.RunnerConfig)
	return &Orchestrator{
		runner:   r,
		policy:   cfg.Policy,
		lanes:    cfg.Lanes,
		resyncer: cfg.Resyncer,
		prom:     cfg.Metrics,
		hooks:    cfg.Hooks,
		logger:   r.logger,
	}
}

// Run executes items. The first pass runs each lane in its own goroutine and
// waits for all of them. Failures are merged in lane order, an optional resync
// runs once, and then up to MaxRounds serial rounds retry what is left.
// The returned error is non-nil only for cancellation or a failed resync.
func (o *Orchestrator) Run(ctx context.Context, items []workload.WorkItem) (Result, error) {
	var res Result

	lanes := workload.Chunk(items, o.lanes)
	o.roundStart(0, len(items))

	laneFailures := make([][]workload.WorkItem, len(lanes))
	g := new(errgroup.Group)
	for i, lane := range lanes {
		g.Go(func() error {
			failed, err := o.runner.RunLane(ctx, i, lane, 0)
			laneFailures[i] = failed
			return err
		})
	}
	err := g.Wait()

	var failed []workload.WorkItem
	for _, lf := range laneFailures {
		failed = append(failed, lf...)
	}
	if err != nil {
		res.Unrecovered = failed
		return res, err
	}

	if len(failed) > 0 && o.resyncer != nil && o.policy.ShouldResync != nil && o.policy.ShouldResync(failed) {
		o.logger.Info("resyncing before retry", slog.Int("failed", len(failed)))
		err := o.resyncer.Resync(ctx)
		if o.prom != nil {
			o.prom.RecordResync(err == nil)
		}
		if err != nil {
			res.Unrecovered = failed
			return res, fmt.Errorf("resync: %w", err)
		}
		res.Resynced = true
	}

	for round := 1; round <= o.policy.MaxRounds && len(failed) > 0; round++ {
		o.logger.Info("retry round",
			slog.Int("round", round),
			slog.Int("max_rounds", o.policy.MaxRounds),
			slog.Int("items", len(failed)))
		o.roundStart(round, len(failed))
		if o.prom != nil {
			o.prom.RecordRetryRound()
		}

		failed, err = o.runner.RunLane(ctx, 0, failed, round)
		res.Rounds = round
		if err != nil {
			res.Unrecovered = failed
			return res, err
		}
	}

	res.Unrecovered = failed
	for _, item := range failed {
		o.logger.Error("action unrecovered after retries", slog.String("action", string(item.Kind)))
	}
	return res, nil
}

func (o *Orchestrator) roundStart(attempt, items int) {
	if o.hooks.OnRoundStart != nil {
		o.hooks.OnRoundStart(attempt, items)
	}
}
