package domain

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderTripay   Provider = "tripay"
	ProviderMidtrans Provider = "midtrans"
	ProviderDuitku   Provider = "duitku"
)

func ParseProvider(s string) (Provider, error) {
	switch p := Provider(s); p {
	case ProviderTripay, ProviderMidtrans, ProviderDuitku:
		return p, nil
	}
	return "", fmt.Errorf("unknown payment provider %q", s)
}

// TxStatus is the canonical payment status every provider is normalised into.
type TxStatus string

const (
	TxUnpaid  TxStatus = "UNPAID"
	TxPaid    TxStatus = "PAID"
	TxExpired TxStatus = "EXPIRED"
	TxFailed  TxStatus = "FAILED"
)

func (s TxStatus) Terminal() bool {
	return s == TxPaid || s == TxExpired || s == TxFailed
}

// Presentation is what the buyer needs to pay: QR or checkout links and the
// expiry shown to them.
type Presentation struct {
	PresentationURL   string    `json:"presentation_url"`
	CheckoutURL       string    `json:"checkout_url,omitempty"`
	QRString          string    `json:"qr_string,omitempty"`
	ProviderReference string    `json:"provider_reference,omitempty"`
	HumanExpiry       string    `json:"human_expiry"`
	ExpiresAt         time.Time `json:"expires_at"`
}

type Transaction struct {
	Reference    string
	BuyerID      string
	PackageLabel string
	DurationDays int
	Amount       int64
	Provider     Provider
	Status       TxStatus
	AccessEmail  string
	Presentation *Presentation
	CreatedAt    time.Time
	PaidAt       *time.Time
}

// Transition moves an UNPAID transaction to a terminal status. It reports
// whether anything changed; a transaction already terminal is left as is.
func (t *Transaction) Transition(to TxStatus, now time.Time) (bool, error) {
	if t.Status.Terminal() || to == TxUnpaid {
		return false, nil
	}
	if !to.Terminal() {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	if to == TxPaid {
		paidAt := now
		t.PaidAt = &paidAt
	}
	return true, nil
}

// AttachPresentation stores the provider display data once.
func (t *Transaction) AttachPresentation(p Presentation) bool {
	if t.Presentation != nil {
		return false
	}
	t.Presentation = &p
	return true
}
