package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gateway-fm/tvt/internal/storage"
	"github.com/gateway-fm/tvt/pkg/types"
)

var (
	// ErrRunActive is returned when a run is requested while another one is executing.
	ErrRunActive = errors.New("a run is already in progress")
	// ErrNoHistory is returned by history queries when no storage is configured.
	ErrNoHistory = errors.New("run history is not available")
)

// Guard grants exclusive permission to run. The scheduler implements it so
// that cron activations and API requests never overlap.
type Guard interface {
	Acquire() (release func(), ok bool)
}

// Service exposes the pipeline to the API: asynchronous starts, live status
// and run history.
type Service struct {
	pipeline *Pipeline
	guard    Guard
	storage  storage.Storage
	logger   *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// NewService creates a Service. Runs started through it inherit ctx, so
// cancelling ctx stops them.
func NewService(ctx context.Context, p *Pipeline, guard Guard, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		pipeline: p,
		guard:    guard,
		storage:  store,
		logger:   logger,
		ctx:      ctx,
	}
}

// StartRun validates req and starts it in the background. It returns the
// new run ID, ErrInvalidRequest, or ErrRunActive.
func (s *Service) StartRun(req types.StartRunRequest) (string, error) {
	req, err := s.pipeline.Normalize(req)
	if err != nil {
		return "", err
	}
	release, ok := s.guard.Acquire()
	if !ok {
		return "", ErrRunActive
	}

	id := uuid.NewString()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		if _, err := s.pipeline.run(s.ctx, id, req); err != nil {
			s.logger.Error("run failed", slog.String("run_id", id), slog.String("error", err.Error()))
		}
	}()
	return id, nil
}

// Wait blocks until runs started by StartRun have returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Status returns the live progress.
func (s *Service) Status() types.RunProgress {
	return s.pipeline.Status()
}

// History returns a page of past runs, newest first.
func (s *Service) History(ctx context.Context, limit, offset int) (*storage.PaginatedRuns, error) {
	if s.storage == nil {
		return nil, ErrNoHistory
	}
	return s.storage.ListRuns(ctx, limit, offset)
}

// RunDetail returns a run with its fee records and unrecovered items, or nil
// when the run does not exist.
func (s *Service) RunDetail(ctx context.Context, id string) (*storage.RunDetail, error) {
	if s.storage == nil {
		return nil, ErrNoHistory
	}
	run, err := s.storage.GetRun(ctx, id)
	if err != nil || run == nil {
		return nil, err
	}
	records, err := s.storage.GetFeeRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	failures, err := s.storage.GetFailures(ctx, id)
	if err != nil {
		return nil, err
	}
	return &storage.RunDetail{Run: run, Records: records, Failures: failures}, nil
}

// DeleteRun removes a run and its records from history.
func (s *Service) DeleteRun(ctx context.Context, id string) error {
	if s.storage == nil {
		return ErrNoHistory
	}
	return s.storage.DeleteRun(ctx, id)
}
