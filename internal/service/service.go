// Package service holds the purchase lifecycle: invoicing, payment callbacks
// and entitlement creation.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/repository"

	"github.com/google/uuid"
)

// TransactionRepository defines the interface for transaction data access
type TransactionRepository interface {
	Create(ctx context.Context, tx *domain.Transaction) error
	Get(ctx context.Context, reference string) (*domain.Transaction, error)
	Update(ctx context.Context, tx *domain.Transaction) error
	LatestPaidWithoutEmail(ctx context.Context, buyerID string) (*domain.Transaction, error)
}

// EntitlementRepository defines the interface for entitlement data access
type EntitlementRepository interface {
	Save(ctx context.Context, e *domain.Entitlement) error
	FindBySource(ctx context.Context, reference string) (*domain.Entitlement, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]domain.Entitlement, error)
}

type PricingRepository interface {
	List(ctx context.Context) ([]domain.PricingTier, error)
	Get(ctx context.Context, days int) (*domain.PricingTier, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
	Alert(ctx context.Context, text string, fields map[string]any)
}

type Provisioner interface {
	Grant(ctx context.Context, email string) error
}

// NewReference builds INV-<unix ms>-<buyer>-<random>.
func NewReference(buyerID string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("INV-%d-%s-%s", now.UnixMilli(), buyerID, suffix)
}

func lookupErr(err error, what string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s not found", domain.ErrLookup, what)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}
