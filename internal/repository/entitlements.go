package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invite-service/internal/domain"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict.
const uniqueViolation = "23505"

type PostgresEntitlementRepository struct {
	db *sql.DB
}

func NewPostgresEntitlementRepository(db *sql.DB) *PostgresEntitlementRepository {
	return &PostgresEntitlementRepository{db: db}
}

const entitlementColumns = `id, buyer_id, access_email, package_label, duration_days, status, created_at, expired_at,
        removed_at, reminder_sent, reminder_sent_at, last_resend_at, resend_log, source_reference, last_error`

// Save upserts by id. created_at and expired_at are written once.
func (r *PostgresEntitlementRepository) Save(ctx context.Context, e *domain.Entitlement) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	resendLog, err := json.Marshal(nonNilLog(e.ResendLog))
	if err != nil {
		return fmt.Errorf("failed to encode resend log: %w", err)
	}

	const query = `
        INSERT INTO entitlements (` + entitlementColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            removed_at = EXCLUDED.removed_at,
            reminder_sent = EXCLUDED.reminder_sent,
            reminder_sent_at = EXCLUDED.reminder_sent_at,
            last_resend_at = EXCLUDED.last_resend_at,
            resend_log = EXCLUDED.resend_log,
            last_error = EXCLUDED.last_error;
    `
	if _, err := r.db.ExecContext(ctx, query, e.ID, e.BuyerID, e.AccessEmail, e.PackageLabel, e.DurationDays, string(e.Status),
		e.CreatedAt.UTC(), e.ExpiredAt.UTC(), timeOrNil(e.RemovedAt), e.ReminderSent, timeOrNil(e.ReminderSentAt),
		timeOrNil(e.LastResendAt), string(resendLog), stringOrNil(e.SourceReference), stringOrNil(e.LastError)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: entitlement for purchase %s", ErrDuplicate, e.SourceReference)
		}
		return fmt.Errorf("failed to save entitlement %s: %w", e.ID, err)
	}
	return nil
}

func (r *PostgresEntitlementRepository) Get(ctx context.Context, id string) (*domain.Entitlement, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	e, err := scanEntitlement(r.db.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load entitlement %s: %w", id, err)
	}
	return e, nil
}

// FindBySource returns the entitlement funded by reference, whatever its
// status.
func (r *PostgresEntitlementRepository) FindBySource(ctx context.Context, reference string) (*domain.Entitlement, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	e, err := scanEntitlement(r.db.QueryRowContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements
        WHERE source_reference = $1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entitlement for purchase %s: %w", reference, err)
	}
	return e, nil
}

func (r *PostgresEntitlementRepository) ListByBuyer(ctx context.Context, buyerID string) ([]domain.Entitlement, error) {
	return r.list(ctx, `WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

func (r *PostgresEntitlementRepository) ListByStatus(ctx context.Context, status domain.EntitlementStatus) ([]domain.Entitlement, error) {
	return r.list(ctx, `WHERE status = $1 ORDER BY expired_at`, string(status))
}

// ListRetiredBefore returns expired variants whose expiry is older than cutoff.
func (r *PostgresEntitlementRepository) ListRetiredBefore(ctx context.Context, cutoff time.Time) ([]domain.Entitlement, error) {
	return r.list(ctx, `WHERE status <> 'active' AND status LIKE '%expired%' AND expired_at < $1 ORDER BY expired_at`, cutoff.UTC())
}

// CoveredBeyond reports whether another active entitlement for email runs
// past until.
func (r *PostgresEntitlementRepository) CoveredBeyond(ctx context.Context, email, excludeID string, until time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM entitlements
        WHERE access_email = $1 AND id <> $2 AND status = 'active' AND expired_at > $3)`,
		email, excludeID, until.UTC()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check coverage for %s: %w", excludeID, err)
	}
	return exists, nil
}

func (r *PostgresEntitlementRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM entitlements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entitlement %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresEntitlementRepository) list(ctx context.Context, where string, args ...any) ([]domain.Entitlement, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+entitlementColumns+` FROM entitlements `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entitlements: %w", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entitlement: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanEntitlement(s scanner) (*domain.Entitlement, error) {
	var (
		e              domain.Entitlement
		status         string
		removedAt      sql.NullTime
		reminderSentAt sql.NullTime
		lastResendAt   sql.NullTime
		resendLog      []byte
		sourceRef      sql.NullString
		lastError      sql.NullString
	)
	if err := s.Scan(&e.ID, &e.BuyerID, &e.AccessEmail, &e.PackageLabel, &e.DurationDays, &status, &e.CreatedAt, &e.ExpiredAt,
		&removedAt, &e.ReminderSent, &reminderSentAt, &lastResendAt, &resendLog, &sourceRef, &lastError); err != nil {
		return nil, err
	}
	e.Status = domain.EntitlementStatus(status)
	e.RemovedAt = timePtr(removedAt)
	e.ReminderSentAt = timePtr(reminderSentAt)
	e.LastResendAt = timePtr(lastResendAt)
	e.SourceReference = sourceRef.String
	e.LastError = lastError.String
	if len(resendLog) > 0 {
		if err := json.Unmarshal(resendLog, &e.ResendLog); err != nil {
			return nil, fmt.Errorf("failed to decode resend log: %w", err)
		}
	}
	return &e, nil
}

func nonNilLog(l []domain.ResendEntry) []domain.ResendEntry {
	if l == nil {
		return []domain.ResendEntry{}
	}
	return l
}
