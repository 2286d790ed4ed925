// Package storage persists run history.
package storage

import (
	"context"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Storage defines the persistence interface for run history.
type Storage interface {
	// Run lifecycle
	CreateRun(ctx context.Context, run *types.RunResult) error
	CompleteRun(ctx context.Context, run *types.RunResult) error
	GetRun(ctx context.Context, id string) (*types.RunResult, error)

	// History queries
	ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error)
	DeleteRun(ctx context.Context, id string) error

	// Fee records and failures (written once a run completes)
	BulkInsertFeeRecords(ctx context.Context, runID string, records []types.FeeRecord) error
	GetFeeRecords(ctx context.Context, runID string) ([]types.FeeRecord, error)
	InsertFailures(ctx context.Context, runID string, failures []Failure) error
	GetFailures(ctx context.Context, runID string) ([]Failure, error)

	// Lifecycle
	Close() error
}

// ResourceCache stores the network entities a session created so later
// sessions can reuse them.
type ResourceCache interface {
	SaveResources(ctx context.Context, network types.Network, res types.Resources) error
	LoadResources(ctx context.Context, network types.Network) (*types.Resources, error)
}

// Failure is a work item that was still failing after every retry round.
type Failure struct {
	Kind types.ActionKind `json:"kind"`
	Seq  int              `json:"seq"`
}

// RunDetail combines a run with its fee records and failures.
type RunDetail struct {
	Run      *types.RunResult  `json:"run"`
	Records  []types.FeeRecord `json:"records"`
	Failures []Failure         `json:"failures"`
}

// PaginatedRuns represents a paginated list of runs.
type PaginatedRuns struct {
	Runs   []types.RunResult `json:"runs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}
