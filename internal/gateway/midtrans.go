package gateway

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"invite-service/internal/config"
	"invite-service/internal/domain"
	"invite-service/internal/httpclient"
	"invite-service/internal/signature"
)

type Midtrans struct {
	cfg    config.MidtransConfig
	client *httpclient.Client
	opts   Options
}

func NewMidtrans(cfg config.MidtransConfig, client *httpclient.Client, opts Options) *Midtrans {
	return &Midtrans{cfg: cfg, client: client, opts: opts}
}

func (m *Midtrans) Kind() domain.Provider { return domain.ProviderMidtrans }

type midtransRequest struct {
	TransactionDetails struct {
		OrderID     string `json:"order_id"`
		GrossAmount int64  `json:"gross_amount"`
	} `json:"transaction_details"`
	EnabledPayments []string `json:"enabled_payments"`
	Expiry          struct {
		Unit     string `json:"unit"`
		Duration int    `json:"duration"`
	} `json:"expiry"`
	Callbacks *midtransCallbacks `json:"callbacks,omitempty"`
}

type midtransCallbacks struct {
	Finish string `json:"finish"`
}

type midtransResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

func (m *Midtrans) CreateInvoice(ctx context.Context, reference string, amount int64) (domain.Presentation, error) {
	var req midtransRequest
	req.TransactionDetails.OrderID = reference
	req.TransactionDetails.GrossAmount = amount
	req.EnabledPayments = []string{"qris", "other_qris"}
	req.Expiry.Unit = "hour"
	req.Expiry.Duration = int(InvoiceTTL.Hours())
	if m.opts.ReturnURL != "" {
		req.Callbacks = &midtransCallbacks{Finish: m.opts.ReturnURL}
	}

	auth := base64.StdEncoding.EncodeToString([]byte(m.cfg.ServerKey + ":"))
	headers := map[string]string{"Authorization": "Basic " + auth}

	expiresAt := m.opts.now().Add(InvoiceTTL)
	var resp midtransResponse
	if err := m.client.DoJSON(ctx, http.MethodPost, m.cfg.Endpoint()+"/snap/v1/transactions", headers, req, &resp); err != nil {
		return domain.Presentation{}, fmt.Errorf("midtrans snap transaction: %w", err)
	}
	if resp.RedirectURL == "" {
		return domain.Presentation{}, fmt.Errorf("%w: midtrans: %v", ErrRejected, resp.ErrorMessages)
	}

	return domain.Presentation{
		PresentationURL:   resp.RedirectURL,
		CheckoutURL:       resp.RedirectURL,
		ProviderReference: resp.Token,
		HumanExpiry:       m.opts.humanExpiry(expiresAt),
		ExpiresAt:         expiresAt,
	}, nil
}

func (m *Midtrans) ParseCallback(raw []byte, headers http.Header) (Callback, error) {
	fields, err := verify(domain.ProviderMidtrans, raw, headers, signature.Secret{Key: m.cfg.ServerKey})
	if err != nil {
		return Callback{}, err
	}
	status := fields["transaction_status"]
	return callback(fields["order_id"], status, midtransStatus(status))
}

func midtransStatus(s string) domain.TxStatus {
	switch s {
	case "settlement", "capture":
		return domain.TxPaid
	case "pending":
		return domain.TxUnpaid
	case "expire":
		return domain.TxExpired
	}
	return domain.TxFailed
}
