package tiers

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Plan holds the import limits derived from an organization's subscription tier
type Plan struct {
	Tier string `json:"tier"`
	// MonthlyEventLimit is the maximum events importable per calendar month.
	// Zero or negative means unlimited.
	MonthlyEventLimit int64 `json:"monthly_event_limit"`
	// HistoryMonths is how many months back imports may reach. Zero means
	// unlimited history.
	HistoryMonths int `json:"history_months"`
}

// Unlimited reports whether the plan has no monthly event cap
func (p *Plan) Unlimited() bool {
	return p.MonthlyEventLimit <= 0
}

// OldestAllowedMonth returns the first day (UTC) of the oldest month events
// may carry, relative to now. The zero time means no restriction.
func (p *Plan) OldestAllowedMonth(now time.Time) time.Time {
	if p.HistoryMonths <= 0 {
		return time.Time{}
	}
	now = now.UTC()
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return currentMonth.AddDate(0, -p.HistoryMonths, 0)
}

// Resolver resolves an organization id to its plan limits
type Resolver interface {
	Resolve(ctx context.Context, orgID uuid.UUID) (*Plan, error)
}
