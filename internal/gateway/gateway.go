// Package gateway holds one adapter per payment provider behind a single
// Gateway capability. Exactly one adapter is active per process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"invite-service/internal/config"
	"invite-service/internal/domain"
	"invite-service/internal/httpclient"
	"invite-service/internal/signature"
)

// InvoiceTTL is the absolute lifetime set on every invoice.
const InvoiceTTL = 24 * time.Hour

// ErrRejected marks a well-formed answer from the provider that refused the
// request. Retrying it will not help.
var ErrRejected = errors.New("provider rejected request")

// Callback is a verified provider notification in canonical form.
type Callback struct {
	Reference string
	Status    domain.TxStatus
	RawStatus string
}

type Gateway interface {
	Kind() domain.Provider
	CreateInvoice(ctx context.Context, reference string, amount int64) (domain.Presentation, error)
	// ParseCallback verifies the signature before reading anything else.
	ParseCallback(raw []byte, headers http.Header) (Callback, error)
}

type Options struct {
	CallbackURL string
	ReturnURL   string
	Location    *time.Location
	Now         func() time.Time
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// humanExpiry renders an instant the way buyers read it.
func (o Options) humanExpiry(t time.Time) string {
	loc := o.Location
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02 Jan 2006 15:04 MST")
}

// New returns the adapter named by cfg.PaymentProvider.
func New(cfg config.Config, client *httpclient.Client, opts Options) (Gateway, error) {
	kind, err := domain.ParseProvider(cfg.PaymentProvider)
	if err != nil {
		return nil, err
	}
	switch kind {
	case domain.ProviderTripay:
		return NewTripay(cfg.Tripay, client, opts), nil
	case domain.ProviderMidtrans:
		return NewMidtrans(cfg.Midtrans, client, opts), nil
	case domain.ProviderDuitku:
		return NewDuitku(cfg.Duitku, client, opts), nil
	}
	return nil, fmt.Errorf("unknown payment provider %q", cfg.PaymentProvider)
}

// Retryable reports whether a CreateInvoice failure may succeed on retry.
func Retryable(err error) bool {
	return !errors.Is(err, ErrRejected) && httpclient.Transient(err)
}

func verify(kind domain.Provider, raw []byte, headers http.Header, secret signature.Secret) (map[string]string, error) {
	if !signature.Verify(kind, raw, headers, secret) {
		return nil, fmt.Errorf("%w: %s callback signature mismatch", domain.ErrSignature, kind)
	}
	fields, err := signature.ParseFields(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	return fields, nil
}

func callback(reference, raw string, mapped domain.TxStatus) (Callback, error) {
	if reference == "" {
		return Callback{}, fmt.Errorf("%w: callback carries no reference", domain.ErrValidation)
	}
	return Callback{Reference: reference, Status: mapped, RawStatus: raw}, nil
}
