package tiers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// PostgresResolver reads the organization's plan tier and its limits from the
// relational store
type PostgresResolver struct {
	db *sql.DB
}

// NewPostgresResolver creates a new PostgresResolver
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// Resolve looks up the plan for an organization
func (r *PostgresResolver) Resolve(ctx context.Context, orgID uuid.UUID) (*Plan, error) {
	query := `
		SELECT o.plan_tier, pt.monthly_event_limit, pt.history_months
		FROM organizations o
		JOIN plan_tiers pt ON pt.tier = o.plan_tier
		WHERE o.id = $1
	`
	var plan Plan
	err := r.db.QueryRowContext(ctx, query, orgID).Scan(
		&plan.Tier, &plan.MonthlyEventLimit, &plan.HistoryMonths,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization %s not found", orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}
	return &plan, nil
}
