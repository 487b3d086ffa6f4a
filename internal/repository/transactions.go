package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"invite-service/internal/domain"
)

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const transactionColumns = `reference, buyer_id, package_label, duration_days, amount, provider, status, access_email, presentation, created_at, paid_at`

// Create inserts a new transaction. A duplicate reference is an error.
func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	presentation, err := marshalPresentation(tx.Presentation)
	if err != nil {
		return err
	}

	const query = `
        INSERT INTO transactions (` + transactionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);
    `
	if _, err := r.db.ExecContext(ctx, query, tx.Reference, tx.BuyerID, tx.PackageLabel, tx.DurationDays, tx.Amount,
		string(tx.Provider), string(tx.Status), stringOrNil(tx.AccessEmail), presentation, tx.CreatedAt.UTC(), timeOrNil(tx.PaidAt)); err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", tx.Reference, err)
	}
	return nil
}

func (r *PostgresTransactionRepository) Get(ctx context.Context, reference string) (*domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load transaction %s: %w", reference, err)
	}
	return tx, nil
}

// Update writes the mutable fields: status, paid_at, access_email and presentation.
func (r *PostgresTransactionRepository) Update(ctx context.Context, tx *domain.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	presentation, err := marshalPresentation(tx.Presentation)
	if err != nil {
		return err
	}

	const query = `
        UPDATE transactions
        SET status = $2, paid_at = $3, access_email = $4, presentation = $5
        WHERE reference = $1;
    `
	res, err := r.db.ExecContext(ctx, query, tx.Reference, string(tx.Status), timeOrNil(tx.PaidAt), stringOrNil(tx.AccessEmail), presentation)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", tx.Reference, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestPaidWithoutEmail finds the purchase still waiting for an access email.
func (r *PostgresTransactionRepository) LatestPaidWithoutEmail(ctx context.Context, buyerID string) (*domain.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions
        WHERE buyer_id = $1 AND status = 'PAID' AND access_email IS NULL
        ORDER BY created_at DESC LIMIT 1`, buyerID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending purchase for buyer %s: %w", buyerID, err)
	}
	return tx, nil
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var (
		tx           domain.Transaction
		provider     string
		status       string
		accessEmail  sql.NullString
		presentation []byte
		paidAt       sql.NullTime
	)
	if err := s.Scan(&tx.Reference, &tx.BuyerID, &tx.PackageLabel, &tx.DurationDays, &tx.Amount, &provider, &status,
		&accessEmail, &presentation, &tx.CreatedAt, &paidAt); err != nil {
		return nil, err
	}
	tx.Provider = domain.Provider(provider)
	tx.Status = domain.TxStatus(status)
	tx.AccessEmail = accessEmail.String
	tx.PaidAt = timePtr(paidAt)
	if len(presentation) > 0 {
		var p domain.Presentation
		if err := json.Unmarshal(presentation, &p); err != nil {
			return nil, fmt.Errorf("failed to decode presentation: %w", err)
		}
		tx.Presentation = &p
	}
	return &tx, nil
}

func marshalPresentation(p *domain.Presentation) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode presentation: %w", err)
	}
	return string(raw), nil
}
