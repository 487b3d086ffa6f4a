package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCallbacks struct {
	gotKind domain.Provider
	gotBody string
	err     error
}

func (s *stubCallbacks) HandleCallback(_ context.Context, kind domain.Provider, raw []byte, _ http.Header) (service.Outcome, error) {
	s.gotKind = kind
	s.gotBody = string(raw)
	return service.Outcome{Reference: "INV-1", Status: domain.TxPaid, Applied: s.err == nil}, s.err
}

type stubInvoices struct {
	tx  *domain.Transaction
	err error
}

func (s *stubInvoices) CreateInvoiceForTier(_ context.Context, buyerID string, days int) (*domain.Transaction, error) {
	if s.err != nil {
		return nil, s.err
	}
	tx := *s.tx
	tx.BuyerID = buyerID
	tx.DurationDays = days
	return &tx, nil
}

func (s *stubInvoices) Status(_ context.Context, reference string) (*domain.Transaction, error) {
	if s.tx == nil || s.tx.Reference != reference {
		return nil, fmt.Errorf("%w: transaction %s not found", domain.ErrLookup, reference)
	}
	return s.tx, nil
}

func (s *stubInvoices) Pricing(context.Context) ([]domain.PricingTier, error) {
	return []domain.PricingTier{{DurationDays: 1, Label: "1 Hari", Amount: 10000}}, nil
}

type stubEntitlements struct {
	e    *domain.Entitlement
	list []domain.Entitlement
	err  error
}

func (s *stubEntitlements) Materialize(context.Context, string, string, string) (*domain.Entitlement, error) {
	return s.e, s.err
}

func (s *stubEntitlements) ListForBuyer(context.Context, string) ([]domain.Entitlement, error) {
	return s.list, s.err
}

func (s *stubEntitlements) PendingPurchase(context.Context, string) (*domain.Transaction, error) {
	return nil, fmt.Errorf("%w: nothing pending", domain.ErrLookup)
}

var expiry = time.Date(2025, 3, 8, 3, 0, 0, 0, time.UTC)

func newTestRouter(cb *stubCallbacks, inv *stubInvoices, ent *stubEntitlements, limiter *RateLimiter) http.Handler {
	return NewRouter(RouterDeps{
		Provider:        domain.ProviderTripay,
		Callbacks:       cb,
		Invoices:        inv,
		Entitlements:    ent,
		CallbackLimiter: limiter,
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCallbackAccepted(t *testing.T) {
	cb := &stubCallbacks{}
	h := newTestRouter(cb, &stubInvoices{}, &stubEntitlements{}, nil)

	rec := do(t, h, http.MethodPost, "/callback/payment", `{"merchant_ref":"INV-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Equal(t, domain.ProviderTripay, cb.gotKind)
	assert.Equal(t, `{"merchant_ref":"INV-1"}`, cb.gotBody)
}

func TestCallbackErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"signature", fmt.Errorf("%w: mismatch", domain.ErrSignature), http.StatusBadRequest},
		{"validation", fmt.Errorf("%w: no reference", domain.ErrValidation), http.StatusBadRequest},
		{"unknown reference", fmt.Errorf("%w: INV-9 not found", domain.ErrLookup), http.StatusBadRequest},
		{"store down", fmt.Errorf("connection refused"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(&stubCallbacks{err: tt.err}, &stubInvoices{}, &stubEntitlements{}, nil)
			rec := do(t, h, http.MethodPost, "/callback/payment", `{}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}

func TestCallbackRateLimited(t *testing.T) {
	h := newTestRouter(&stubCallbacks{}, &stubInvoices{}, &stubEntitlements{}, NewRateLimiter(0.001, 2))

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/callback/payment", `{}`).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/callback/payment", `{}`).Code)
	rec := do(t, h, http.MethodPost, "/callback/payment", `{}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))
}

func TestCreateInvoice(t *testing.T) {
	inv := &stubInvoices{tx: &domain.Transaction{
		Reference:    "INV-1",
		PackageLabel: "7 Hari",
		Amount:       50000,
		Presentation: &domain.Presentation{PresentationURL: "https://pay/qr", HumanExpiry: "02 Mar 2025 10:00 WIB"},
	}}
	h := newTestRouter(&stubCallbacks{}, inv, &stubEntitlements{}, nil)

	rec := do(t, h, http.MethodPost, "/invoices", `{"buyer_id":"1001","duration_days":7}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var got invoiceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, invoiceResponse{
		Reference:       "INV-1",
		PresentationURL: "https://pay/qr",
		HumanExpiry:     "02 Mar 2025 10:00 WIB",
		Amount:          50000,
		Package:         "7 Hari",
	}, got)
}

func TestCreateInvoiceErrors(t *testing.T) {
	h := newTestRouter(&stubCallbacks{}, &stubInvoices{err: fmt.Errorf("%w: timeout", domain.ErrGateway)}, &stubEntitlements{}, nil)
	rec := do(t, h, http.MethodPost, "/invoices", `{"buyer_id":"1001","duration_days":7}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"payment provider unavailable"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/invoices", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTransactionStatus(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	inv := &stubInvoices{tx: &domain.Transaction{Reference: "INV-1", Status: domain.TxPaid, PackageLabel: "7 Hari", Amount: 50000, PaidAt: &paidAt}}
	h := newTestRouter(&stubCallbacks{}, inv, &stubEntitlements{}, nil)

	rec := do(t, h, http.MethodGet, "/transactions/INV-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reference":"INV-1","status":"PAID","package":"7 Hari","amount":50000,"paid_at":"2025-03-01T10:00:00Z"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/transactions/INV-2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"transaction INV-2 not found"}`, rec.Body.String())
}

func TestMaterializeResponses(t *testing.T) {
	e := &domain.Entitlement{ID: "e1", PackageLabel: "7 Hari", AccessEmail: "a@b.co", Status: domain.EntitlementActive, ExpiredAt: expiry}

	h := newTestRouter(&stubCallbacks{}, &stubInvoices{}, &stubEntitlements{e: e}, nil)
	rec := do(t, h, http.MethodPost, "/entitlements", `{"buyer_id":"1001","email":"a@b.co"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"expired_at":"2025-03-08T03:00:00Z"`)

	h = newTestRouter(&stubCallbacks{}, &stubInvoices{}, &stubEntitlements{e: e, err: fmt.Errorf("%w: sidecar down", domain.ErrProvisioning)}, nil)
	rec = do(t, h, http.MethodPost, "/entitlements", `{"buyer_id":"1001","email":"a@b.co"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"warning"`)

	h = newTestRouter(&stubCallbacks{}, &stubInvoices{}, &stubEntitlements{err: fmt.Errorf("%w: invalid email format", domain.ErrValidation)}, nil)
	rec = do(t, h, http.MethodPost, "/entitlements", `{"buyer_id":"1001","email":"not-an-email"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid email format"}`, rec.Body.String())
}

func TestListEntitlements(t *testing.T) {
	ent := &stubEntitlements{list: []domain.Entitlement{
		{ID: "e2", PackageLabel: "30 Hari", AccessEmail: "a@b.co", Status: domain.EntitlementActive, ExpiredAt: expiry},
		{ID: "e1", PackageLabel: "1 Hari", AccessEmail: "a@b.co", Status: domain.EntitlementExpired, ExpiredAt: expiry.Add(-48 * time.Hour)},
	}}
	h := newTestRouter(&stubCallbacks{}, &stubInvoices{}, ent, nil)

	rec := do(t, h, http.MethodGet, "/buyers/1001/entitlements", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"package":"30 Hari","email":"a@b.co","status":"active","expired_at":"2025-03-08T03:00:00Z"},
		{"package":"1 Hari","email":"a@b.co","status":"expired","expired_at":"2025-03-06T03:00:00Z"}
	]`, rec.Body.String())
}

func TestPricingPendingAndHealth(t *testing.T) {
	h := newTestRouter(&stubCallbacks{}, &stubInvoices{}, &stubEntitlements{}, nil)

	rec := do(t, h, http.MethodGet, "/pricing", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"duration_days":1,"label":"1 Hari","amount":10000}]`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/buyers/1001/pending", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/metrics", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/callback/payment", "").Code)
}
