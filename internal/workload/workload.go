// Package workload expands an action plan into work items and splits them into lanes.
package workload

import (
	"log/slog"

	"github.com/gateway-fm/tvt/pkg/types"
)

// DefaultLanes is the default number of concurrent lanes.
const DefaultLanes = 3

// WorkItem is one scheduled invocation of an action.
type WorkItem struct {
	Kind types.ActionKind
	Seq  int // position in the generated list, starting at 0
}

// Quantity is how many times an action kind should run.
type Quantity struct {
	Kind  types.ActionKind
	Count int
}

// Uniform builds a plan running every kind n times.
func Uniform(kinds []types.ActionKind, n int) []Quantity {
	plan := make([]Quantity, 0, len(kinds))
	for _, k := range kinds {
		plan = append(plan, Quantity{Kind: k, Count: n})
	}
	return plan
}

// Filter decides whether a kind can run with the current credentials and setup.
// It returns false and a reason to skip the kind.
type Filter func(kind types.ActionKind) (ok bool, reason string)

// Generate expands plan into a flat ordered list. All repeats of one kind
// appear before the next kind, in plan order. Kinds rejected by filter are
// logged and skipped.
func Generate(plan []Quantity, filter Filter, logger *slog.Logger) []WorkItem {
	if logger == nil {
		logger = slog.Default()
	}

	total := 0
	for _, q := range plan {
		if q.Count > 0 {
			total += q.Count
		}
	}

	items := make([]WorkItem, 0, total)
	for _, q := range plan {
		if q.Count <= 0 {
			continue
		}
		if filter != nil {
			if ok, reason := filter(q.Kind); !ok {
				logger.Warn("skipping action",
					slog.String("action", string(q.Kind)),
					slog.String("reason", reason),
					slog.Int("quantity", q.Count))
				continue
			}
		}
		for i := 0; i < q.Count; i++ {
			items = append(items, WorkItem{Kind: q.Kind, Seq: len(items)})
		}
	}
	return items
}

// Chunk splits items into at most lanes contiguous slices of size
// ceil(len(items)/lanes). The last lane may be shorter. No lanes are
// returned for an empty list.
func Chunk(items []WorkItem, lanes int) [][]WorkItem {
	if len(items) == 0 {
		return nil
	}
	if lanes <= 0 {
		lanes = 1
	}
	size := (len(items) + lanes - 1) / lanes

	out := make([][]WorkItem, 0, lanes)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end:end])
	}
	return out
}
