package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func TestMemoryTracker_RejectsInvalidTimestamps(t *testing.T) {
	tracker := NewMemoryTracker(1000, time.Time{}, fixedNow)

	timestamps := []string{
		"not a timestamp",            // unparsable
		"",                           // empty
		"2024-03-16T00:00:00Z",       // future
		"2024-03-01 10:00:00",        // valid
		"2099-01-01",                 // far future
		"2024-02-29T23:59:59Z",       // valid
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, admitted)
}

func TestMemoryTracker_RejectsMonthsBeforeOldestAllowed(t *testing.T) {
	oldest := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker(1000, oldest, fixedNow)

	timestamps := []string{
		"2023-08-31 23:59:59", // last instant before the window
		"2023-09-01 00:00:00", // first instant inside the window
		"2022-01-15 08:00:00", // far before
		"2024-01-01 00:00:00", // inside
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, admitted)
}

func TestMemoryTracker_AdmitsFirstEventsUpToRemainingQuota(t *testing.T) {
	// remaining quota of 3 with a batch of 5 events in one month: exactly the
	// first 3 in input order are admitted
	tracker := NewMemoryTracker(3, time.Time{}, fixedNow)

	timestamps := make([]string, 5)
	for i := range timestamps {
		timestamps[i] = fmt.Sprintf("2024-01-%02d 10:00:00", i+1)
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, admitted)
}

func TestMemoryTracker_QuotaSpansBatches(t *testing.T) {
	tracker := NewMemoryTracker(3, time.Time{}, fixedNow)
	ctx := context.Background()

	first, err := tracker.CanImportBatch(ctx, []string{"2024-01-01 10:00:00", "2024-01-02 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, first, 2)

	// 2 of 3 used; only one more January event fits
	second, err := tracker.CanImportBatch(ctx, []string{"2024-01-03 10:00:00", "2024-01-04 10:00:00"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, second)

	// A different month has its own counter
	third, err := tracker.CanImportBatch(ctx, []string{"2024-02-01 10:00:00"})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, third)
}

func TestMemoryTracker_PerMonthBuckets(t *testing.T) {
	tracker := NewMemoryTracker(2, time.Time{}, fixedNow)

	timestamps := []string{
		"2024-01-01 10:00:00", // jan 1/2
		"2024-02-01 10:00:00", // feb 1/2
		"2024-01-02 10:00:00", // jan 2/2
		"2024-02-02 10:00:00", // feb 2/2
		"2024-01-03 10:00:00", // jan over quota
		"2024-02-03 10:00:00", // feb over quota
	}

	admitted, err := tracker.CanImportBatch(context.Background(), timestamps)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, admitted)
}

func TestMemoryTracker_UnlimitedFastPath(t *testing.T) {
	tracker := NewMemoryTracker(0, time.Time{}, fixedNow)
	ctx := context.Background()

	t.Run("returns every index unchanged", func(t *testing.T) {
		timestamps := []string{"garbage", "2024-01-01 10:00:00", "2099-01-01"}
		admitted, err := tracker.CanImportBatch(ctx, timestamps)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2}, admitted)
	})

	t.Run("empty input", func(t *testing.T) {
		admitted, err := tracker.CanImportBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, admitted)
	})
}

func TestMemoryTracker_Release(t *testing.T) {
	tracker := NewMemoryTracker(1, time.Time{}, fixedNow)
	ctx := context.Background()

	admitted, err := tracker.CanImportBatch(ctx, []string{"2024-01-01 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, admitted, 1)

	require.NoError(t, tracker.Release(ctx))

	// Counters are gone; the same month admits again
	admitted, err = tracker.CanImportBatch(ctx, []string{"2024-01-02 10:00:00"})
	require.NoError(t, err)
	assert.Len(t, admitted, 1)
}

func TestMemoryTracker_ConcurrentBatchesNeverOveradmit(t *testing.T) {
	const limit = 100
	tracker := NewMemoryTracker(limit, time.Time{}, fixedNow)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)

	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timestamps := make([]string, 30)
			for i := range timestamps {
				timestamps[i] = "2024-01-01 10:00:00"
			}
			admitted, err := tracker.CanImportBatch(ctx, timestamps)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			total += len(admitted)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, total)
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2024-01-01T10:00:00Z", true},
		{"2024-01-01T10:00:00+02:00", true},
		{"2024-01-01 10:00:00", true},
		{"2024-01-01", true},
		{"  2024-01-01  ", true},
		{"01/02/2024", false},
		{"", false},
		{"yesterday", false},
	}
	for _, c := range cases {
		_, ok := ParseTimestamp(c.in)
		assert.Equal(t, c.ok, ok, "input %q", c.in)
	}
}

func TestParseTimestamp_NormalizesToUTC(t *testing.T) {
	ts, ok := ParseTimestamp("2024-01-31T23:30:00-05:00")
	require.True(t, ok)
	// 23:30 EST is 04:30 UTC the next day, which lands in February
	assert.Equal(t, time.February, ts.Month())
	assert.Equal(t, "202402", monthKey(ts))
}
