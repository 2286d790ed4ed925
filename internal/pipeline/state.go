package pipeline

import (
	"sync"
	"time"

	"github.com/gateway-fm/tvt/internal/metrics"
	"github.com/gateway-fm/tvt/internal/runner"
	"github.com/gateway-fm/tvt/pkg/types"
)

// RunState tracks the live progress of one run. It is updated from lane
// goroutines and read by status requests.
type RunState struct {
	id        string
	startedAt time.Time
	collector *metrics.FeeCollector
	latency   *metrics.ActionLatency

	mu          sync.Mutex
	status      types.RunStatus
	attempt     int
	completed   int
	total       int
	failed      int
	unrecovered []types.ActionKind
	reportDir   string
	err         string
	finishedAt  time.Time
}

func newRunState(id string, collector *metrics.FeeCollector, started time.Time) *RunState {
	return &RunState{
		id:        id,
		startedAt: started,
		collector: collector,
		latency:   metrics.NewActionLatency(),
		status:    types.StatusPreparing,
	}
}

// ID returns the run identifier.
func (s *RunState) ID() string { return s.id }

func (s *RunState) setStatus(status types.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	if status == types.StatusCompleted || status == types.StatusError {
		s.finishedAt = time.Now()
	}
}

func (s *RunState) onRoundStart(attempt, items int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempt = attempt
	s.total = items
	s.completed = 0
	s.failed = 0
}

func (s *RunState) onItem(p runner.Progress) {
	if p.Err == nil {
		s.latency.Add(float64(p.Elapsed.Microseconds()) / 1000)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	if p.Err != nil {
		s.failed++
	}
}

func (s *RunState) finish(res runner.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unrecovered = kinds(res.Unrecovered)
	s.failed = len(res.Unrecovered)
}

func (s *RunState) setReportDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reportDir = dir
}

func (s *RunState) setError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = msg
}

func (s *RunState) progress(now time.Time) types.RunProgress {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := now
	if !s.finishedAt.IsZero() {
		end = s.finishedAt
	}
	started := s.startedAt

	byType := make(map[string]int)
	for t, n := range s.collector.Counts() {
		byType[string(t)] = n
	}

	return types.RunProgress{
		RunID:       s.id,
		Status:      s.status,
		Attempt:     s.attempt,
		Completed:   s.completed,
		Total:       s.total,
		Records:     s.collector.Total(),
		Failed:      s.failed,
		Unrecovered: append([]types.ActionKind(nil), s.unrecovered...),
		ReportDir:   s.reportDir,
		StartedAt:   &started,
		ElapsedMs:   end.Sub(s.startedAt).Milliseconds(),
		Error:       s.err,
		ByType:      byType,
		Latency:     s.latency.Stats(),
	}
}
