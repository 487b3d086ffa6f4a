package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/lock"
	"invite-service/internal/metrics"
	"invite-service/internal/repository"
	"invite-service/internal/retry"
	"invite-service/internal/validator"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type EntitlementService struct {
	txs          TransactionRepository
	entitlements EntitlementRepository
	provisioner  Provisioner
	notifier     Notifier
	locker       lock.Locker
	policy       retry.Policy
	now          func() time.Time
}

func NewEntitlementService(txs TransactionRepository, entitlements EntitlementRepository, provisioner Provisioner,
	notifier Notifier, locker lock.Locker, policy retry.Policy) *EntitlementService {
	return &EntitlementService{
		txs:          txs,
		entitlements: entitlements,
		provisioner:  provisioner,
		notifier:     notifier,
		locker:       locker,
		policy:       policy,
		now:          time.Now,
	}
}

// Materialize turns a paid purchase plus a captured email into an active
// entitlement and grants access. With an empty reference the buyer's latest
// paid purchase still waiting for an email is used.
//
// A failed grant still leaves the entitlement stored as active and returns
// ErrProvisioning; the repair sweep re-grants it later. Each purchase funds
// at most one entitlement: redelivering the same email returns it while it is
// active and fails validation once it has been retired.
func (s *EntitlementService) Materialize(ctx context.Context, buyerID, email, reference string) (*domain.Entitlement, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validator.ValidateEmailCaptured(domain.EmailCaptured{BuyerID: buyerID, Email: email}); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}

	tx, err := s.fundingTransaction(ctx, buyerID, reference)
	if err != nil {
		return nil, err
	}
	if tx.AccessEmail != "" && tx.AccessEmail != email {
		return nil, fmt.Errorf("%w: purchase %s is already linked to another email", domain.ErrValidation, tx.Reference)
	}

	logCtx := log.WithFields(log.Fields{
		"buyer_id":  buyerID,
		"email":     validator.MaskEmail(email),
		"reference": tx.Reference,
	})

	// Held until the first grant finishes so the repair sweep never sees the
	// entitlement before access was attempted.
	held, unlock, err := s.locker.Lock(ctx, lock.EntitlementKey(buyerID, email))
	if err != nil {
		return nil, err
	}
	defer unlock()

	e, created, err := s.persist(held, tx.Reference, email)
	if err != nil {
		return nil, err
	}
	if !created {
		logCtx.Info("Entitlement already exists for this purchase")
		return e, nil
	}
	logCtx.WithField("expired_at", e.ExpiredAt).Info("Entitlement stored")

	grantErr := retry.Do(held, s.policy, log.Fields{"email": validator.MaskEmail(email), "call": "grant"}, func(ctx context.Context) error {
		return s.provisioner.Grant(ctx, email)
	})
	metrics.ProvisioningTotal.WithLabelValues("grant", metrics.Result(grantErr)).Inc()

	payload := map[string]any{"email": email, "package": e.PackageLabel, "expired_at": e.ExpiredAt, "reference": tx.Reference}
	if grantErr != nil {
		logCtx.WithError(grantErr).Error("Failed to grant access; repair sweep will retry")
		s.notifier.Notify(ctx, domain.Notification{BuyerID: buyerID, Kind: domain.NotifyInviteFailed, Payload: payload})
		return e, fmt.Errorf("%w: %w", domain.ErrProvisioning, grantErr)
	}

	logCtx.Info("Access granted")
	s.notifier.Notify(ctx, domain.Notification{BuyerID: buyerID, Kind: domain.NotifyInviteSent, Payload: payload, Email: email})
	return e, nil
}

// PendingPurchase returns the buyer's latest paid purchase that has no
// captured email yet.
func (s *EntitlementService) PendingPurchase(ctx context.Context, buyerID string) (*domain.Transaction, error) {
	tx, err := s.txs.LatestPaidWithoutEmail(ctx, buyerID)
	if err != nil {
		return nil, lookupErr(err, "purchase waiting for email for buyer "+buyerID)
	}
	return tx, nil
}

func (s *EntitlementService) fundingTransaction(ctx context.Context, buyerID, reference string) (*domain.Transaction, error) {
	if reference == "" {
		return s.PendingPurchase(ctx, buyerID)
	}

	tx, err := s.txs.Get(ctx, reference)
	if err != nil {
		return nil, lookupErr(err, "transaction "+reference)
	}
	if tx.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: transaction %s not found for buyer %s", domain.ErrLookup, reference, buyerID)
	}
	if tx.Status != domain.TxPaid {
		return nil, fmt.Errorf("%w: transaction %s is %s, not PAID", domain.ErrValidation, reference, tx.Status)
	}
	return tx, nil
}

// persist stores the entitlement funded by reference unless one exists
// already, and links email to the purchase. It runs under the transaction
// lock so concurrent captures for one purchase resolve to one entitlement.
func (s *EntitlementService) persist(ctx context.Context, reference, email string) (*domain.Entitlement, bool, error) {
	held, unlock, err := s.locker.Lock(ctx, lock.TransactionKey(reference))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	tx, err := s.txs.Get(held, reference)
	if err != nil {
		return nil, false, lookupErr(err, "transaction "+reference)
	}
	if tx.AccessEmail != "" && tx.AccessEmail != email {
		return nil, false, fmt.Errorf("%w: purchase %s is already linked to another email", domain.ErrValidation, reference)
	}

	existing, err := s.entitlements.FindBySource(held, reference)
	switch {
	case err == nil && existing.AccessEmail != email:
		return nil, false, fmt.Errorf("%w: purchase %s is already linked to another email", domain.ErrValidation, reference)
	case err == nil && existing.Status.Retired():
		return nil, false, fmt.Errorf("%w: purchase %s was already used; its entitlement is %s", domain.ErrValidation, reference, existing.Status)
	case err == nil:
		s.linkEmail(held, tx, email)
		return existing, false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, false, fmt.Errorf("failed to look up entitlement for purchase %s: %w", reference, err)
	}

	e := domain.NewEntitlement(uuid.NewString(), tx.BuyerID, email, tx.PackageLabel, tx.DurationDays, tx.Reference, s.now())
	if err := s.entitlements.Save(held, e); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, false, fmt.Errorf("%w: purchase %s already has an entitlement", domain.ErrValidation, reference)
		}
		return nil, false, err
	}
	s.linkEmail(held, tx, email)
	return e, true, nil
}

// linkEmail records the captured email on the funding transaction. Failure is
// logged only; the entitlement's source reference already pins the purchase.
func (s *EntitlementService) linkEmail(ctx context.Context, tx *domain.Transaction, email string) {
	if tx.AccessEmail != "" {
		return
	}
	tx.AccessEmail = email
	if err := s.txs.Update(ctx, tx); err != nil {
		log.WithError(err).WithField("reference", tx.Reference).Warn("Failed to link email to transaction")
	}
}

// ListForBuyer returns the buyer's entitlements, most recent first.
func (s *EntitlementService) ListForBuyer(ctx context.Context, buyerID string) ([]domain.Entitlement, error) {
	if err := validator.ValidateBuyerID(buyerID); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return s.entitlements.ListByBuyer(ctx, buyerID)
}
