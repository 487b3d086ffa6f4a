package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"invite-service/internal/domain"

	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

const queryTimeout = 5 * time.Second

type PostgresNotificationLogRepository struct {
	db *sql.DB
}

func NewPostgresNotificationLogRepository(db *sql.DB) *PostgresNotificationLogRepository {
	return &PostgresNotificationLogRepository{db: db}
}

func (r *PostgresNotificationLogRepository) SaveLog(ctx context.Context, l domain.NotificationLog) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	log.WithFields(log.Fields{
		"buyer_id": l.BuyerID,
		"kind":     l.Kind,
		"channel":  l.Channel,
		"status":   l.Status,
	}).Debug("Saving notification log to database")

	const query = `
        INSERT INTO notification_logs (id, buyer_id, kind, channel, recipient, status, error_message, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `

	if _, err := r.db.ExecContext(ctx, query, l.ID, l.BuyerID, string(l.Kind), string(l.Channel), l.Recipient,
		string(l.Status), nullStringOrNil(l.ErrorMessage), l.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

func nullStringOrNil(ns sql.NullString) interface{} {
	if ns.Valid {
		return ns.String
	}
	return nil
}

func stringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timeOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}
