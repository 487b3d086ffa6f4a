package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"invite-service/internal/config"
	"invite-service/internal/domain"
	"invite-service/internal/httpclient"
	"invite-service/internal/signature"
)

type Tripay struct {
	cfg    config.TripayConfig
	client *httpclient.Client
	opts   Options
}

func NewTripay(cfg config.TripayConfig, client *httpclient.Client, opts Options) *Tripay {
	return &Tripay{cfg: cfg, client: client, opts: opts}
}

func (t *Tripay) Kind() domain.Provider { return domain.ProviderTripay }

type tripayItem struct {
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type tripayRequest struct {
	Method        string       `json:"method"`
	MerchantRef   string       `json:"merchant_ref"`
	Amount        int64        `json:"amount"`
	CustomerName  string       `json:"customer_name"`
	CustomerEmail string       `json:"customer_email"`
	OrderItems    []tripayItem `json:"order_items"`
	CallbackURL   string       `json:"callback_url,omitempty"`
	ReturnURL     string       `json:"return_url,omitempty"`
	ExpiredTime   int64        `json:"expired_time"`
	Signature     string       `json:"signature"`
}

type tripayResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		Reference   string `json:"reference"`
		QRURL       string `json:"qr_url"`
		QRString    string `json:"qr_string"`
		CheckoutURL string `json:"checkout_url"`
		ExpiredTime int64  `json:"expired_time"`
	} `json:"data"`
}

func (t *Tripay) CreateInvoice(ctx context.Context, reference string, amount int64) (domain.Presentation, error) {
	expiresAt := t.opts.now().Add(InvoiceTTL)
	req := tripayRequest{
		Method:        t.cfg.Method,
		MerchantRef:   reference,
		Amount:        amount,
		CustomerName:  "Customer",
		CustomerEmail: "customer@example.com",
		OrderItems:    []tripayItem{{Name: "Access invite", Price: amount, Quantity: 1}},
		CallbackURL:   t.opts.CallbackURL,
		ReturnURL:     t.opts.ReturnURL,
		ExpiredTime:   expiresAt.Unix(),
		Signature:     signature.TripayRequestSignature(t.cfg.PrivateKey, t.cfg.MerchantCode, reference, amount),
	}

	var resp tripayResponse
	headers := map[string]string{"Authorization": "Bearer " + t.cfg.APIKey}
	if err := t.client.DoJSON(ctx, http.MethodPost, t.cfg.Endpoint()+"/transaction/create", headers, req, &resp); err != nil {
		return domain.Presentation{}, fmt.Errorf("tripay create transaction: %w", err)
	}
	if !resp.Success {
		return domain.Presentation{}, fmt.Errorf("%w: tripay: %s", ErrRejected, resp.Message)
	}

	if resp.Data.ExpiredTime > 0 {
		expiresAt = time.Unix(resp.Data.ExpiredTime, 0)
	}
	checkout := resp.Data.CheckoutURL
	if checkout == "" {
		checkout = resp.Data.QRURL
	}
	return domain.Presentation{
		PresentationURL:   resp.Data.QRURL,
		CheckoutURL:       checkout,
		QRString:          resp.Data.QRString,
		ProviderReference: resp.Data.Reference,
		HumanExpiry:       t.opts.humanExpiry(expiresAt),
		ExpiresAt:         expiresAt,
	}, nil
}

func (t *Tripay) ParseCallback(raw []byte, headers http.Header) (Callback, error) {
	fields, err := verify(domain.ProviderTripay, raw, headers, signature.Secret{MerchantCode: t.cfg.MerchantCode, Key: t.cfg.PrivateKey})
	if err != nil {
		return Callback{}, err
	}
	status := fields["status"]
	return callback(fields["merchant_ref"], status, tripayStatus(status))
}

func tripayStatus(s string) domain.TxStatus {
	switch s {
	case "PAID":
		return domain.TxPaid
	case "EXPIRED":
		return domain.TxExpired
	case "UNPAID":
		return domain.TxUnpaid
	}
	return domain.TxFailed
}
