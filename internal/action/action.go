// Package action defines load-test actions and the registry that dispatches them.
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gateway-fm/tvt/pkg/types"
)

// ErrUnknownAction is returned when no action is registered for a kind.
var ErrUnknownAction = errors.New("unknown action")

// Action submits one or more transactions and reports their fees.
type Action interface {
	// Kind returns the operator-facing action name.
	Kind() types.ActionKind

	// Execute runs the action. On success it returns one fee record per
	// submitted transaction. Any error means the item failed as a whole.
	Execute(ctx context.Context) ([]types.FeeRecord, error)
}

// Func adapts a function to the Action interface.
type Func struct {
	kind types.ActionKind
	fn   func(ctx context.Context) ([]types.FeeRecord, error)
}

// NewFunc creates an Action from fn.
func NewFunc(kind types.ActionKind, fn func(ctx context.Context) ([]types.FeeRecord, error)) *Func {
	return &Func{kind: kind, fn: fn}
}

// Kind returns the action kind.
func (f *Func) Kind() types.ActionKind { return f.kind }

// Execute calls the wrapped function.
func (f *Func) Execute(ctx context.Context) ([]types.FeeRecord, error) {
	return f.fn(ctx)
}

// Registry manages action lookup by kind.
type Registry struct {
	mu      sync.RWMutex
	actions map[types.ActionKind]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[types.ActionKind]Action),
	}
}

// Register adds an action to the registry, replacing any action of the same kind.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	r.actions[a.Kind()] = a
	r.mu.Unlock()
}

// Get returns the action registered for kind.
func (r *Registry) Get(kind types.ActionKind) (Action, error) {
	r.mu.RLock()
	a, ok := r.actions[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, kind)
	}
	return a, nil
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind types.ActionKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[kind]
	return ok
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []types.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]types.ActionKind, 0, len(r.actions))
	for _, k := range types.AllActionKinds() {
		if _, ok := r.actions[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Missing returns the kinds that have no registered action, sorted by name.
func (r *Registry) Missing() []types.ActionKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var missing []types.ActionKind
	for _, k := range types.AllActionKinds() {
		if _, ok := r.actions[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// Validate returns an error naming every kind without an action.
func (r *Registry) Validate() error {
	missing := r.Missing()
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("%w: no action registered for %v", ErrUnknownAction, missing)
}
