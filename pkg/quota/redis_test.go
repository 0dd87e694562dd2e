package quota

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisTracker_AdmitsUpToLimit(t *testing.T) {
	client := newTestRedis(t)
	tracker := NewRedisTracker(client, uuid.New(), 3, time.Time{}, fixedNow)
	ctx := context.Background()

	timestamps := []string{
		"2024-01-01 10:00:00",
		"2024-01-02 10:00:00",
		"2024-01-03 10:00:00",
		"2024-01-04 10:00:00",
		"2024-01-05 10:00:00",
	}

	admitted, err := tracker.CanImportBatch(ctx, timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, admitted)

	// The month is exhausted; a later batch admits nothing
	admitted, err = tracker.CanImportBatch(ctx, []string{"2024-01-06 10:00:00"})
	require.NoError(t, err)
	assert.Empty(t, admitted)
}

func TestRedisTracker_MultiMonthPreservesInputOrder(t *testing.T) {
	client := newTestRedis(t)
	tracker := NewRedisTracker(client, uuid.New(), 2, time.Time{}, fixedNow)

	timestamps := []string{
		"2024-02-01 10:00:00", // feb 1/2
		"2024-01-01 10:00:00", // jan 1/2
		"2024-02-02 10:00:00", // feb 2/2
		"2024-01-02 10:00:00", // jan 2/2
		"2024-02-03 10:00:00", // feb over
		"2024-01-03 10:00:00", // jan over
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, admitted)
}

func TestRedisTracker_RejectsInvalidTimestamps(t *testing.T) {
	client := newTestRedis(t)
	oldest := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewRedisTracker(client, uuid.New(), 100, oldest, fixedNow)

	timestamps := []string{
		"garbage",
		"2024-03-16T00:00:00Z", // future relative to fixedNow
		"2023-12-31 23:59:59",  // before the retention window
		"2024-02-01 10:00:00",  // valid
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, admitted)
}

func TestRedisTracker_UnlimitedFastPath(t *testing.T) {
	client := newTestRedis(t)
	tracker := NewRedisTracker(client, uuid.New(), 0, time.Time{}, fixedNow)

	admitted, err := tracker.CanImportBatch(context.Background(), []string{"garbage", "2099-01-01"})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, admitted)
}

func TestRedisTracker_CountersSharedAcrossInstances(t *testing.T) {
	client := newTestRedis(t)
	orgID := uuid.New()
	ctx := context.Background()

	// Two tracker instances, as two processes handling batches of the same
	// import would hold
	a := NewRedisTracker(client, orgID, 3, time.Time{}, fixedNow)
	b := NewRedisTracker(client, orgID, 3, time.Time{}, fixedNow)

	admitted, err := a.CanImportBatch(ctx, []string{"2024-01-01 10:00:00", "2024-01-02 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, admitted, 2)

	admitted, err = b.CanImportBatch(ctx, []string{"2024-01-03 10:00:00", "2024-01-04 10:00:00"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, admitted)
}

func TestRedisTracker_ReleaseDeletesCounters(t *testing.T) {
	client := newTestRedis(t)
	orgID := uuid.New()
	tracker := NewRedisTracker(client, orgID, 1, time.Time{}, fixedNow)
	ctx := context.Background()

	admitted, err := tracker.CanImportBatch(ctx, []string{"2024-01-01 10:00:00", "2024-02-01 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, admitted, 2)

	require.NoError(t, tracker.Release(ctx))

	keys, err := client.Keys(ctx, "quota:"+orgID.String()+":*").Result()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Fresh counters after release
	admitted, err = tracker.CanImportBatch(ctx, []string{"2024-01-05 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, admitted, 1)
}
