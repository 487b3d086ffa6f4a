package service

import (
	"context"
	"fmt"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/gateway"
	"invite-service/internal/lock"
	"invite-service/internal/metrics"
	"invite-service/internal/retry"
	"invite-service/internal/validator"

	log "github.com/sirupsen/logrus"
)

type InvoiceService struct {
	txs     TransactionRepository
	pricing PricingRepository
	gateway gateway.Gateway
	locker  lock.Locker
	policy  retry.Policy
	now     func() time.Time
}

func NewInvoiceService(txs TransactionRepository, pricing PricingRepository, gw gateway.Gateway, locker lock.Locker, policy retry.Policy) *InvoiceService {
	return &InvoiceService{txs: txs, pricing: pricing, gateway: gw, locker: locker, policy: policy, now: time.Now}
}

// CreateInvoice persists an UNPAID transaction before calling the gateway, so
// a callback that beats the gateway response still finds it. On gateway
// failure the transaction stays UNPAID without presentation.
func (s *InvoiceService) CreateInvoice(ctx context.Context, buyerID, packageLabel string, days int, amount int64) (*domain.Transaction, error) {
	if err := validator.ValidateInvoiceRequest(buyerID, packageLabel, days, amount); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	now := s.now()
	tx := &domain.Transaction{
		Reference:    NewReference(buyerID, now),
		BuyerID:      buyerID,
		PackageLabel: packageLabel,
		DurationDays: days,
		Amount:       amount,
		Provider:     s.gateway.Kind(),
		Status:       domain.TxUnpaid,
		CreatedAt:    now,
	}
	logCtx := log.WithFields(log.Fields{
		"reference": tx.Reference,
		"buyer_id":  buyerID,
		"provider":  tx.Provider,
		"amount":    amount,
	})

	if err := s.txs.Create(ctx, tx); err != nil {
		return nil, err
	}
	logCtx.Info("Pending transaction stored")

	presentation, err := retry.DoValue(ctx, s.policy, log.Fields{"reference": tx.Reference, "call": "create_invoice"},
		func(ctx context.Context) (domain.Presentation, error) {
			p, err := s.gateway.CreateInvoice(ctx, tx.Reference, amount)
			if err != nil && !gateway.Retryable(err) {
				return p, retry.Permanent(err)
			}
			return p, err
		})
	metrics.InvoicesTotal.WithLabelValues(string(tx.Provider), metrics.Result(err)).Inc()
	if err != nil {
		logCtx.WithError(err).Error("Gateway invoice creation failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}

	held, unlock, err := s.locker.Lock(ctx, lock.TransactionKey(tx.Reference))
	if err != nil {
		return nil, err
	}
	defer unlock()

	cur, err := s.txs.Get(held, tx.Reference)
	if err != nil {
		return nil, lookupErr(err, "transaction "+tx.Reference)
	}
	if cur.AttachPresentation(presentation) {
		if err := s.txs.Update(held, cur); err != nil {
			return nil, err
		}
	}
	logCtx.WithField("status", cur.Status).Info("Invoice created")
	return cur, nil
}

// CreateInvoiceForTier prices the invoice from the configured tier.
func (s *InvoiceService) CreateInvoiceForTier(ctx context.Context, buyerID string, days int) (*domain.Transaction, error) {
	tier, err := s.pricing.Get(ctx, days)
	if err != nil {
		return nil, lookupErr(err, fmt.Sprintf("pricing tier for %d days", days))
	}
	return s.CreateInvoice(ctx, buyerID, tier.Label, tier.DurationDays, tier.Amount)
}

// Status returns the transaction behind reference.
func (s *InvoiceService) Status(ctx context.Context, reference string) (*domain.Transaction, error) {
	if err := validator.ValidateReference(reference); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	tx, err := s.txs.Get(ctx, reference)
	if err != nil {
		return nil, lookupErr(err, "transaction "+reference)
	}
	return tx, nil
}

func (s *InvoiceService) Pricing(ctx context.Context) ([]domain.PricingTier, error) {
	return s.pricing.List(ctx)
}
