package quota

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// grantScript atomically grants up to ARGV[2] events under limit ARGV[1] for
// one month counter, returning how many were granted. Running it server-side
// keeps enforcement correct when batches for one import land on different
// processes.
var grantScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
local wanted = tonumber(ARGV[2])
local grant = limit - current
if grant <= 0 then
  return 0
end
if grant > wanted then
  grant = wanted
end
redis.call('INCRBY', KEYS[1], grant)
redis.call('SADD', KEYS[2], KEYS[1])
return grant
`)

// RedisTracker enforces the quota against shared counters in Redis
type RedisTracker struct {
	client        *redis.Client
	orgID         uuid.UUID
	limit         int64
	oldestAllowed time.Time
	now           func() time.Time
}

// NewRedisTracker creates a tracker backed by shared Redis counters
func NewRedisTracker(client *redis.Client, orgID uuid.UUID, limit int64, oldestAllowed time.Time, nowFn func() time.Time) *RedisTracker {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &RedisTracker{
		client:        client,
		orgID:         orgID,
		limit:         limit,
		oldestAllowed: oldestAllowed,
		now:           nowFn,
	}
}

// usageKey is the counter key for one (organization, month) pair
func (t *RedisTracker) usageKey(month string) string {
	return fmt.Sprintf("quota:%s:%s", t.orgID, month)
}

// monthsKey is the set of counter keys live for this organization
func (t *RedisTracker) monthsKey() string {
	return fmt.Sprintf("quota:%s:months", t.orgID)
}

// CanImportBatch returns the admitted indices for a batch of timestamps
func (t *RedisTracker) CanImportBatch(ctx context.Context, timestamps []string) ([]int, error) {
	if t.limit <= 0 {
		admitted := make([]int, len(timestamps))
		for i := range timestamps {
			admitted[i] = i
		}
		return admitted, nil
	}

	now := t.now().UTC()

	// First pass: validity filtering and per-month candidate lists in input
	// order. months remembers first-seen order so grants stay deterministic.
	candidates := make(map[string][]int)
	var months []string
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
		if _, seen := candidates[key]; !seen {
			months = append(months, key)
		}
		candidates[key] = append(candidates[key], i)
	}

	// Second pass: one atomic grant per month, admitting the first events of
	// that month in input order up to the grant
	admitted := make([]int, 0, len(timestamps))
	for _, month := range months {
		indices := candidates[month]
		grant, err := grantScript.Run(ctx, t.client,
			[]string{t.usageKey(month), t.monthsKey()},
			t.limit, len(indices),
		).Int64()
		if err != nil {
			return nil, fmt.Errorf("quota grant failed for month %s: %w", month, err)
		}
		if grant > int64(len(indices)) {
			grant = int64(len(indices))
		}
		admitted = append(admitted, indices[:grant]...)
	}

	// Restore input order across months
	sort.Ints(admitted)
	return admitted, nil
}

// OldestAllowedMonth returns the oldest month this tracker admits
func (t *RedisTracker) OldestAllowedMonth() time.Time {
	return t.oldestAllowed
}

// Release deletes the organization's usage counters
func (t *RedisTracker) Release(ctx context.Context) error {
	keys, err := t.client.SMembers(ctx, t.monthsKey()).Result()
	if err != nil {
		return fmt.Errorf("failed to list quota counters: %w", err)
	}
	keys = append(keys, t.monthsKey())
	if err := t.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete quota counters: %w", err)
	}
	return nil
}
