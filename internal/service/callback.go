package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/gateway"
	"invite-service/internal/lock"
	"invite-service/internal/metrics"

	log "github.com/sirupsen/logrus"
)

// Outcome reports what a callback did. Applied is false for redeliveries and
// for callbacks that leave the transaction UNPAID.
type Outcome struct {
	Reference string
	Status    domain.TxStatus
	Applied   bool
}

type CallbackProcessor struct {
	txs      TransactionRepository
	gateway  gateway.Gateway
	locker   lock.Locker
	notifier Notifier
	now      func() time.Time
}

func NewCallbackProcessor(txs TransactionRepository, gw gateway.Gateway, locker lock.Locker, notifier Notifier) *CallbackProcessor {
	return &CallbackProcessor{txs: txs, gateway: gw, locker: locker, notifier: notifier, now: time.Now}
}

// HandleCallback verifies the callback before it looks anything up, applies
// the first terminal transition and fires that transition's side effect once.
func (p *CallbackProcessor) HandleCallback(ctx context.Context, kind domain.Provider, raw []byte, headers http.Header) (Outcome, error) {
	outcome, err := p.handle(ctx, kind, raw, headers)
	metrics.CallbacksTotal.WithLabelValues(string(kind), callbackLabel(outcome, err)).Inc()
	return outcome, err
}

func (p *CallbackProcessor) handle(ctx context.Context, kind domain.Provider, raw []byte, headers http.Header) (Outcome, error) {
	if kind != p.gateway.Kind() {
		return Outcome{}, fmt.Errorf("%w: callback for inactive provider %s", domain.ErrValidation, kind)
	}

	cb, err := p.gateway.ParseCallback(raw, headers)
	if err != nil {
		log.WithError(err).WithField("provider", kind).Warn("Rejected payment callback")
		return Outcome{}, err
	}
	logCtx := log.WithFields(log.Fields{
		"reference":  cb.Reference,
		"provider":   kind,
		"raw_status": cb.RawStatus,
		"status":     cb.Status,
	})

	held, unlock, err := p.locker.Lock(ctx, lock.TransactionKey(cb.Reference))
	if err != nil {
		return Outcome{}, err
	}
	tx, err := p.txs.Get(held, cb.Reference)
	if err != nil {
		unlock()
		logCtx.WithError(err).Warn("Callback for unknown transaction")
		return Outcome{Reference: cb.Reference}, lookupErr(err, "transaction "+cb.Reference)
	}

	changed, err := tx.Transition(cb.Status, p.now())
	if err != nil {
		unlock()
		return Outcome{Reference: cb.Reference, Status: tx.Status}, err
	}
	if !changed {
		unlock()
		logCtx.WithField("current_status", tx.Status).Info("Callback left transaction unchanged")
		return Outcome{Reference: cb.Reference, Status: tx.Status}, nil
	}
	if err := p.txs.Update(held, tx); err != nil {
		unlock()
		return Outcome{Reference: cb.Reference, Status: cb.Status}, err
	}
	unlock()

	metrics.TransactionTransitionsTotal.WithLabelValues(string(tx.Status)).Inc()
	logCtx.WithField("buyer_id", tx.BuyerID).Info("Transaction status updated")
	p.effects(ctx, tx)

	return Outcome{Reference: tx.Reference, Status: tx.Status, Applied: true}, nil
}

func (p *CallbackProcessor) effects(ctx context.Context, tx *domain.Transaction) {
	switch tx.Status {
	case domain.TxPaid:
		p.notifier.Notify(ctx, domain.Notification{
			BuyerID: tx.BuyerID,
			Kind:    domain.NotifyEmailRequest,
			Payload: map[string]any{
				"reference": tx.Reference,
				"package":   tx.PackageLabel,
				"amount":    tx.Amount,
			},
		})
	case domain.TxExpired:
		p.notifier.Notify(ctx, domain.Notification{
			BuyerID: tx.BuyerID,
			Kind:    domain.NotifyInvoiceExpired,
			Payload: map[string]any{"reference": tx.Reference, "package": tx.PackageLabel},
		})
	case domain.TxFailed:
		// The buyer is not told; the operator is.
		p.notifier.Alert(ctx, "Payment failed", map[string]any{
			"reference": tx.Reference,
			"buyer_id":  tx.BuyerID,
			"provider":  string(tx.Provider),
		})
	}
}

func callbackLabel(o Outcome, err error) string {
	switch {
	case errors.Is(err, domain.ErrSignature):
		return "untrusted"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrLookup):
		return "unknown_reference"
	case err != nil:
		return "error"
	case !o.Applied:
		return "noop"
	}
	return "applied"
}
