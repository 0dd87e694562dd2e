package quota

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Factory builds a Tracker for an organization, typically by resolving its
// subscription plan first
type Factory func(ctx context.Context, orgID uuid.UUID) (Tracker, error)

// Registry is the process-wide map from organization id to its live tracker.
// A tracker exists only while that organization has an active import: it is
// created on the first quota check and evicted when the import reaches a
// terminal state.
type Registry struct {
	mu       sync.Mutex
	trackers map[uuid.UUID]Tracker
	factory  Factory
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		trackers: make(map[uuid.UUID]Tracker),
		factory:  factory,
	}
}

// Obtain returns the organization's tracker, creating it on first use. All
// batches of one import must see the same instance; re-creating it per batch
// would reset monthly usage.
func (r *Registry) Obtain(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if tracker, ok := r.trackers[orgID]; ok {
		return tracker, nil
	}

	tracker, err := r.factory(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota tracker: %w", err)
	}
	r.trackers[orgID] = tracker
	return tracker, nil
}

// Evict releases and removes the organization's tracker. Safe to call when no
// tracker exists.
func (r *Registry) Evict(ctx context.Context, orgID uuid.UUID) error {
	r.mu.Lock()
	tracker, ok := r.trackers[orgID]
	delete(r.trackers, orgID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return tracker.Release(ctx)
}

// Len returns the number of live trackers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
