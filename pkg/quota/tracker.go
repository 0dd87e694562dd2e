package quota

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Tracker decides which events of a batch may be imported for one
// organization. Implementations are safe for concurrent use.
type Tracker interface {
	// CanImportBatch scans timestamps in input order and returns the indices
	// admitted under the monthly quota. Unparsable timestamps, timestamps in
	// the future, and timestamps before the oldest allowed month are never
	// admitted regardless of remaining quota.
	CanImportBatch(ctx context.Context, timestamps []string) ([]int, error)
	// OldestAllowedMonth returns the first day (UTC) of the oldest month the
	// organization may import into. Zero means unrestricted.
	OldestAllowedMonth() time.Time
	// Release discards the tracker's accumulated usage. Called once when the
	// owning import reaches a terminal state.
	Release(ctx context.Context) error
}

// timestampLayouts are the formats platform exports are known to use
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an event timestamp as an absolute UTC instant
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// monthStart truncates an instant to the first day of its calendar month
func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthKey is the yyyyMM bucket label for an instant
func monthKey(t time.Time) string {
	return t.UTC().Format("200601")
}

// MemoryTracker enforces the quota with in-process usage counters
type MemoryTracker struct {
	mu            sync.Mutex
	usage         map[string]int64
	limit         int64
	oldestAllowed time.Time
	now           func() time.Time
}

// NewMemoryTracker creates a tracker with the given monthly event limit
// (zero or negative = unlimited) and oldest allowed month (zero = no
// restriction). nowFn defaults to time.Now.
func NewMemoryTracker(limit int64, oldestAllowed time.Time, nowFn func() time.Time) *MemoryTracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryTracker{
		usage:         make(map[string]int64),
		limit:         limit,
		oldestAllowed: oldestAllowed,
		now:           nowFn,
	}
}

// CanImportBatch returns the admitted indices for a batch of timestamps
func (t *MemoryTracker) CanImportBatch(ctx context.Context, timestamps []string) ([]int, error) {
	// Unbounded plans admit everything without per-event arithmetic
	if t.limit <= 0 {
		admitted := make([]int, len(timestamps))
		for i := range timestamps {
			admitted[i] = i
		}
		return admitted, nil
	}

	now := t.now().UTC()

	// The whole scan-and-merge runs under one lock so two batches can never
	// interleave their read-modify-write on the same month
	t.mu.Lock()
	defer t.mu.Unlock()

	admitted := make([]int, 0, len(timestamps))
	tentative := make(map[string]int64)

	for i, raw := range timestamps {
		ts, ok := ParseTimestamp(raw)
		if !ok || ts.After(now) {
			continue
		}

		month := monthStart(ts)
		if !t.oldestAllowed.IsZero() && month.Before(t.oldestAllowed) {
			continue
		}

		key := monthKey(ts)
		if t.usage[key]+tentative[key] < t.limit {
			tentative[key]++
			admitted = append(admitted, i)
		}
	}

	for key, n := range tentative {
		t.usage[key] += n
	}

	return admitted, nil
}

// OldestAllowedMonth returns the oldest month this tracker admits
func (t *MemoryTracker) OldestAllowedMonth() time.Time {
	return t.oldestAllowed
}

// Release discards the accumulated usage
func (t *MemoryTracker) Release(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage = make(map[string]int64)
	return nil
}
