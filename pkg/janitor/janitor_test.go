package janitor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evertide/evertide/pkg/imports"
	"github.com/evertide/evertide/pkg/observability"
	"github.com/evertide/evertide/pkg/quota"
)

type fakeSource struct {
	stale       []*imports.ImportRecord
	listErr     error
	completeErr error

	lastCutoff time.Time
	completed  []uuid.UUID
}

func (f *fakeSource) ListStale(ctx context.Context, cutoff time.Time) ([]*imports.ImportRecord, error) {
	f.lastCutoff = cutoff
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.stale, nil
}

func (f *fakeSource) Complete(ctx context.Context, importID uuid.UUID) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = append(f.completed, importID)
	return nil
}

func newTestJanitor(source *fakeSource, config Config) (*Janitor, *quota.Registry) {
	quotas := quota.NewRegistry(func(ctx context.Context, orgID uuid.UUID) (quota.Tracker, error) {
		return quota.NewMemoryTracker(0, time.Time{}, nil), nil
	})
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	j := New(source, quotas, logger, config)
	j.now = func() time.Time {
		return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	}
	return j, quotas
}

func staleRecord(startedAt time.Time) *imports.ImportRecord {
	return &imports.ImportRecord{
		ID:        uuid.New(),
		SiteID:    uuid.New(),
		OrgID:     uuid.New(),
		Platform:  "ampere",
		StartedAt: startedAt,
	}
}

func TestSweep_CutoffDerivedFromStaleAge(t *testing.T) {
	source := &fakeSource{}
	j, _ := newTestJanitor(source, Config{StaleAge: 48 * time.Hour})

	require.NoError(t, j.Sweep(context.Background()))

	expected := time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, expected, source.lastCutoff)
}

func TestSweep_ReportOnlyLeavesImportsOpen(t *testing.T) {
	record := staleRecord(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	source := &fakeSource{stale: []*imports.ImportRecord{record}}
	j, _ := newTestJanitor(source, Config{StaleAge: 48 * time.Hour, Abandon: false})

	require.NoError(t, j.Sweep(context.Background()))

	assert.Empty(t, source.completed)
}

func TestSweep_AbandonCompletesAndEvictsTracker(t *testing.T) {
	record := staleRecord(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	source := &fakeSource{stale: []*imports.ImportRecord{record}}
	j, quotas := newTestJanitor(source, Config{StaleAge: 48 * time.Hour, Abandon: true})

	_, err := quotas.Obtain(context.Background(), record.OrgID)
	require.NoError(t, err)
	require.Equal(t, 1, quotas.Len())

	require.NoError(t, j.Sweep(context.Background()))

	assert.Equal(t, []uuid.UUID{record.ID}, source.completed)
	assert.Equal(t, 0, quotas.Len())
}

func TestSweep_CompleteFailureDoesNotAbortSweep(t *testing.T) {
	first := staleRecord(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	source := &fakeSource{
		stale:       []*imports.ImportRecord{first},
		completeErr: errors.New("connection reset"),
	}
	j, _ := newTestJanitor(source, Config{StaleAge: 48 * time.Hour, Abandon: true})

	assert.NoError(t, j.Sweep(context.Background()))
	assert.Empty(t, source.completed)
}

func TestSweep_ListFailureReturnsError(t *testing.T) {
	source := &fakeSource{listErr: errors.New("db down")}
	j, _ := newTestJanitor(source, Config{StaleAge: 48 * time.Hour})

	assert.Error(t, j.Sweep(context.Background()))
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	j, _ := newTestJanitor(&fakeSource{}, Config{Schedule: "not a schedule", StaleAge: time.Hour})

	assert.Error(t, j.Start())
}

func TestStartStop(t *testing.T) {
	j, _ := newTestJanitor(&fakeSource{}, Config{Schedule: "0 * * * *", StaleAge: time.Hour})

	require.NoError(t, j.Start())
	j.Stop()
}
