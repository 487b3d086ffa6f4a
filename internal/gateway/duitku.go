package gateway

import (
	"context"
	"fmt"
	"net/http"

	"invite-service/internal/config"
	"invite-service/internal/domain"
	"invite-service/internal/httpclient"
	"invite-service/internal/signature"
)

type Duitku struct {
	cfg    config.DuitkuConfig
	client *httpclient.Client
	opts   Options
}

func NewDuitku(cfg config.DuitkuConfig, client *httpclient.Client, opts Options) *Duitku {
	return &Duitku{cfg: cfg, client: client, opts: opts}
}

func (d *Duitku) Kind() domain.Provider { return domain.ProviderDuitku }

type duitkuRequest struct {
	MerchantCode    string `json:"merchantCode"`
	PaymentAmount   int64  `json:"paymentAmount"`
	PaymentMethod   string `json:"paymentMethod"`
	MerchantOrderID string `json:"merchantOrderId"`
	ProductDetails  string `json:"productDetails"`
	Email           string `json:"email"`
	CallbackURL     string `json:"callbackUrl,omitempty"`
	ReturnURL       string `json:"returnUrl,omitempty"`
	Signature       string `json:"signature"`
	ExpiryPeriod    int    `json:"expiryPeriod"`
}

type duitkuResponse struct {
	Reference     string `json:"reference"`
	PaymentURL    string `json:"paymentUrl"`
	QRString      string `json:"qrString"`
	StatusCode    string `json:"statusCode"`
	StatusMessage string `json:"statusMessage"`
}

func (d *Duitku) CreateInvoice(ctx context.Context, reference string, amount int64) (domain.Presentation, error) {
	req := duitkuRequest{
		MerchantCode:    d.cfg.MerchantCode,
		PaymentAmount:   amount,
		PaymentMethod:   d.cfg.Method,
		MerchantOrderID: reference,
		ProductDetails:  "Access invite",
		Email:           "customer@example.com",
		CallbackURL:     d.opts.CallbackURL,
		ReturnURL:       d.opts.ReturnURL,
		Signature:       signature.DuitkuRequestSignature(d.cfg.MerchantCode, reference, amount, d.cfg.MerchantKey),
		ExpiryPeriod:    int(InvoiceTTL.Minutes()),
	}

	expiresAt := d.opts.now().Add(InvoiceTTL)
	var resp duitkuResponse
	if err := d.client.DoJSON(ctx, http.MethodPost, d.cfg.Endpoint()+"/webapi/api/merchant/v2/inquiry", nil, req, &resp); err != nil {
		return domain.Presentation{}, fmt.Errorf("duitku inquiry: %w", err)
	}
	if resp.StatusCode != "00" {
		return domain.Presentation{}, fmt.Errorf("%w: duitku %s: %s", ErrRejected, resp.StatusCode, resp.StatusMessage)
	}

	presentation := resp.QRString
	if presentation == "" {
		presentation = resp.PaymentURL
	}
	return domain.Presentation{
		PresentationURL:   presentation,
		CheckoutURL:       resp.PaymentURL,
		QRString:          resp.QRString,
		ProviderReference: resp.Reference,
		HumanExpiry:       d.opts.humanExpiry(expiresAt),
		ExpiresAt:         expiresAt,
	}, nil
}

func (d *Duitku) ParseCallback(raw []byte, headers http.Header) (Callback, error) {
	secret := signature.Secret{MerchantCode: d.cfg.MerchantCode, Key: d.cfg.MerchantKey}
	fields, err := verify(domain.ProviderDuitku, raw, headers, secret)
	if err != nil {
		return Callback{}, err
	}
	code := fields["resultCode"]
	return callback(fields["merchantOrderId"], code, duitkuStatus(code))
}

func duitkuStatus(code string) domain.TxStatus {
	switch code {
	case "00":
		return domain.TxPaid
	case "01":
		return domain.TxExpired
	}
	return domain.TxFailed
}
