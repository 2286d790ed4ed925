// Package pipeline runs one complete fee load test: workload generation,
// lane execution with retries, reporting and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gateway-fm/tvt/internal/action"
	"github.com/gateway-fm/tvt/internal/metrics"
	"github.com/gateway-fm/tvt/internal/report"
	"github.com/gateway-fm/tvt/internal/runner"
	"github.com/gateway-fm/tvt/internal/storage"
	"github.com/gateway-fm/tvt/internal/workload"
	"github.com/gateway-fm/tvt/pkg/types"
)

// Request limits.
const (
	MaxQuantity    = 10_000
	MaxConcurrency = 64
)

// ErrInvalidRequest is returned for a run request that cannot be executed.
var ErrInvalidRequest = errors.New("invalid run request")

// Config holds Pipeline dependencies.
type Config struct {
	Network  types.Network
	Registry *action.Registry
	Resyncer runner.Resyncer // optional

	// Filter rejects kinds the current credential cannot execute. Kinds
	// without a registered action are always rejected.
	Filter workload.Filter

	Policy runner.RetryPolicy
	Sleep  runner.Sleeper // defaults to runner.SleepContext
	Lanes  int            // default concurrency, workload.DefaultLanes if zero

	Price      report.PriceQuoter
	Gas        report.GasDetailer // optional
	ReportsDir string

	Storage storage.Storage            // optional
	Metrics *metrics.PrometheusMetrics // optional
	Now     func() time.Time           // defaults to time.Now
	Logger  *slog.Logger
}

// Pipeline executes runs. A Pipeline does not enforce mutual exclusion by
// itself; callers serialize runs with the scheduler's guard.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *RunState
	last    *RunState
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lanes <= 0 {
		cfg.Lanes = workload.DefaultLanes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		cfg:    cfg,
		logger: logger,
	}
}

// Normalize validates req and fills defaults: all registered actions and
// the configured concurrency.
func (p *Pipeline) Normalize(req types.StartRunRequest) (types.StartRunRequest, error) {
	if req.Quantity <= 0 || req.Quantity > MaxQuantity {
		return req, fmt.Errorf("%w: quantity must be between 1 and %d, got %d", ErrInvalidRequest, MaxQuantity, req.Quantity)
	}
	if req.Concurrency == 0 {
		req.Concurrency = p.cfg.Lanes
	}
	if req.Concurrency < 1 || req.Concurrency > MaxConcurrency {
		return req, fmt.Errorf("%w: concurrency must be between 1 and %d, got %d", ErrInvalidRequest, MaxConcurrency, req.Concurrency)
	}
	if len(req.Actions) == 0 {
		req.Actions = p.cfg.Registry.Kinds()
	}
	for _, k := range req.Actions {
		if _, err := types.ParseActionKind(string(k)); err != nil {
			return req, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	return req, nil
}

// Run executes one full run and returns its result. Reports are written even
// when items stay unrecovered or the run fails after the first pass; the
// returned error is the orchestration error, if any.
func (p *Pipeline) Run(ctx context.Context, req types.StartRunRequest) (*types.RunResult, error) {
	return p.run(ctx, uuid.NewString(), req)
}

func (p *Pipeline) run(ctx context.Context, id string, req types.StartRunRequest) (*types.RunResult, error) {
	req, err := p.Normalize(req)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewFeeCollector()
	if p.cfg.Metrics != nil {
		collector.OnRecord(p.cfg.Metrics.RecordFee)
	}
	state := newRunState(id, collector, p.cfg.Now())
	p.mu.Lock()
	p.current = state
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.current, p.last = nil, state
		p.mu.Unlock()
	}()

	logger := p.logger.With(slog.String("run_id", state.id))
	p.setStatus(state, types.StatusPreparing)

	items := workload.Generate(workload.Uniform(req.Actions, req.Quantity), p.filter, logger)
	logger.Info("run started",
		slog.Int("items", len(items)),
		slog.Int("quantity", req.Quantity),
		slog.Int("concurrency", req.Concurrency),
		slog.String("network", string(p.cfg.Network)))

	result := &types.RunResult{
		ID:        state.id,
		Network:   p.cfg.Network,
		Status:    types.StatusRunning,
		StartedAt: state.startedAt,
		Items:     len(items),
		Config:    req,
	}
	if p.cfg.Storage != nil {
		if err := p.cfg.Storage.CreateRun(ctx, result); err != nil {
			logger.Warn("failed to persist run", slog.String("error", err.Error()))
		}
	}

	orch := runner.New(runner.Config{
		RunnerConfig: runner.RunnerConfig{
			Dispatcher: p.cfg.Registry,
			Recorder:   collector,
			Metrics:    p.cfg.Metrics,
			Hooks: runner.Hooks{
				OnItem: state.onItem,
				OnRoundStart: func(attempt, n int) {
					state.onRoundStart(attempt, n)
					if attempt > 0 {
						p.setStatus(state, types.StatusRetrying)
					}
				},
			},
			Sleep:  p.cfg.Sleep,
			Logger: logger,
		},
		Policy:   p.cfg.Policy,
		Lanes:    req.Concurrency,
		Resyncer: p.cfg.Resyncer,
	})

	p.setStatus(state, types.StatusRunning)
	res, runErr := orch.Run(ctx, items)
	state.finish(res)

	// Reporting outlives cancellation so collected fees are never lost.
	reportCtx := context.WithoutCancel(ctx)
	p.setStatus(state, types.StatusReporting)
	rep := report.NewAggregator(report.AggregatorConfig{
		Price:   p.cfg.Price,
		Gas:     p.cfg.Gas,
		Network: p.cfg.Network,
		Logger:  logger,
	}).Build(reportCtx, collector.Snapshot())

	dir, writeErr := report.WriteDir(p.cfg.ReportsDir, state.startedAt, rep)
	if writeErr != nil {
		logger.Error("failed to write reports", slog.String("error", writeErr.Error()))
	} else {
		logger.Info("reports written", slog.String("dir", dir))
	}
	state.setReportDir(dir)

	completedAt := p.cfg.Now()
	result.CompletedAt = completedAt
	result.DurationMs = completedAt.Sub(state.startedAt).Milliseconds()
	result.Records = collector.Total()
	result.RetryRounds = res.Rounds
	result.Resynced = res.Resynced
	result.Unrecovered = kinds(res.Unrecovered)
	result.ReportDir = dir
	if rep.PriceUSD != nil {
		result.PriceUSD = *rep.PriceUSD
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.SetHbarPrice(*rep.PriceUSD)
		}
	}

	switch {
	case runErr != nil:
		result.Status = types.StatusError
		result.Error = runErr.Error()
	case writeErr != nil:
		result.Status = types.StatusError
		result.Error = writeErr.Error()
	default:
		result.Status = types.StatusCompleted
	}
	state.setError(result.Error)
	p.setStatus(state, result.Status)

	p.persist(reportCtx, logger, result, collector.All(), res.Unrecovered)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.RecordRunFinished(result.Status, len(res.Unrecovered))
	}

	logger.Info("run finished",
		slog.String("status", string(result.Status)),
		slog.Int("records", result.Records),
		slog.Int("retry_rounds", result.RetryRounds),
		slog.Int("unrecovered", len(result.Unrecovered)),
		slog.Int64("duration_ms", result.DurationMs))

	if runErr != nil {
		return result, runErr
	}
	return result, writeErr
}

// Status returns the live progress of the current run, or the final state of
// the previous run when idle.
func (p *Pipeline) Status() types.RunProgress {
	p.mu.Lock()
	state := p.current
	if state == nil {
		state = p.last
	}
	p.mu.Unlock()

	if state == nil {
		return types.RunProgress{Status: types.StatusIdle}
	}
	return state.progress(p.cfg.Now())
}

// filter rejects kinds without an action and then applies the configured filter.
func (p *Pipeline) filter(kind types.ActionKind) (bool, string) {
	if !p.cfg.Registry.Has(kind) {
		return false, "no action registered"
	}
	if p.cfg.Filter != nil {
		return p.cfg.Filter(kind)
	}
	return true, ""
}

func (p *Pipeline) setStatus(state *RunState, status types.RunStatus) {
	state.setStatus(status)
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.SetRunStatus(status)
	}
}

func (p *Pipeline) persist(ctx context.Context, logger *slog.Logger, result *types.RunResult, records []types.FeeRecord, unrecovered []workload.WorkItem) {
	if p.cfg.Storage == nil {
		return
	}
	if err := p.cfg.Storage.BulkInsertFeeRecords(ctx, result.ID, records); err != nil {
		logger.Warn("failed to persist fee records", slog.String("error", err.Error()))
	}
	failures := make([]storage.Failure, len(unrecovered))
	for i, item := range unrecovered {
		failures[i] = storage.Failure{Kind: item.Kind, Seq: item.Seq}
	}
	if err := p.cfg.Storage.InsertFailures(ctx, result.ID, failures); err != nil {
		logger.Warn("failed to persist failures", slog.String("error", err.Error()))
	}
	if err := p.cfg.Storage.CompleteRun(ctx, result); err != nil {
		logger.Warn("failed to complete run", slog.String("error", err.Error()))
	}
}

func kinds(items []workload.WorkItem) []types.ActionKind {
	if len(items) == 0 {
		return nil
	}
	out := make([]types.ActionKind, len(items))
	for i, item := range items {
		out[i] = item.Kind
	}
	return out
}
