package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type releaseSpy struct {
	*MemoryTracker
	released int
}

func (s *releaseSpy) Release(ctx context.Context) error {
	s.released++
	return s.MemoryTracker.Release(ctx)
}

func TestRegistry_ObtainReturnsSameInstance(t *testing.T) {
	calls := 0
	registry := NewRegistry(func(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
		calls++
		return NewMemoryTracker(10, time.Time{}, fixedNow), nil
	})

	orgID := uuid.New()
	ctx := context.Background()

	first, err := registry.Obtain(ctx, orgID)
	require.NoError(t, err)
	second, err := registry.Obtain(ctx, orgID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_TrackersArePerOrganization(t *testing.T) {
	registry := NewRegistry(func(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
		return NewMemoryTracker(10, time.Time{}, fixedNow), nil
	})
	ctx := context.Background()

	a, err := registry.Obtain(ctx, uuid.New())
	require.NoError(t, err)
	b, err := registry.Obtain(ctx, uuid.New())
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, 2, registry.Len())
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	factoryErr := errors.New("plan lookup failed")
	registry := NewRegistry(func(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
		return nil, factoryErr
	})

	_, err := registry.Obtain(context.Background(), uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, factoryErr)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_EvictReleasesTracker(t *testing.T) {
	spy := &releaseSpy{MemoryTracker: NewMemoryTracker(10, time.Time{}, fixedNow)}
	registry := NewRegistry(func(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
		return spy, nil
	})

	orgID := uuid.New()
	ctx := context.Background()

	_, err := registry.Obtain(ctx, orgID)
	require.NoError(t, err)

	require.NoError(t, registry.Evict(ctx, orgID))
	assert.Equal(t, 1, spy.released)
	assert.Equal(t, 0, registry.Len())
}

func TestRegistry_EvictUnknownOrgIsNoOp(t *testing.T) {
	registry := NewRegistry(func(ctx context.Context, orgID uuid.UUID) (Tracker, error) {
		return NewMemoryTracker(10, time.Time{}, fixedNow), nil
	})

	assert.NoError(t, registry.Evict(context.Background(), uuid.New()))
}
