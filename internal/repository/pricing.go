package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"invite-service/internal/domain"
)

type PostgresPricingRepository struct {
	db *sql.DB
}

func NewPostgresPricingRepository(db *sql.DB) *PostgresPricingRepository {
	return &PostgresPricingRepository{db: db}
}

func (r *PostgresPricingRepository) List(ctx context.Context) ([]domain.PricingTier, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT duration_days, label, amount FROM pricing ORDER BY duration_days`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pricing: %w", err)
	}
	defer rows.Close()

	var out []domain.PricingTier
	for rows.Next() {
		var t domain.PricingTier
		if err := rows.Scan(&t.DurationDays, &t.Label, &t.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan pricing tier: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PostgresPricingRepository) Get(ctx context.Context, days int) (*domain.PricingTier, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var t domain.PricingTier
	err := r.db.QueryRowContext(ctx, `SELECT duration_days, label, amount FROM pricing WHERE duration_days = $1`, days).
		Scan(&t.DurationDays, &t.Label, &t.Amount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing tier %d: %w", days, err)
	}
	return &t, nil
}

// Seed inserts tiers that do not exist yet; existing rows keep their values.
func (r *PostgresPricingRepository) Seed(ctx context.Context, tiers []domain.PricingTier) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	const query = `
        INSERT INTO pricing (duration_days, label, amount)
        VALUES ($1, $2, $3)
        ON CONFLICT (duration_days) DO NOTHING;
    `
	for _, t := range tiers {
		if _, err := r.db.ExecContext(ctx, query, t.DurationDays, t.Label, t.Amount); err != nil {
			return fmt.Errorf("failed to seed pricing tier %d: %w", t.DurationDays, err)
		}
	}
	return nil
}
