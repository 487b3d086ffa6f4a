package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"invite-service/internal/config"
	"invite-service/internal/domain"
	"invite-service/internal/httpclient"
	"invite-service/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

func testOptions() Options {
	return Options{
		CallbackURL: "https://bot.example/callback/payment",
		ReturnURL:   "https://t.me/bot",
		Location:    time.UTC,
		Now:         func() time.Time { return fixedNow },
	}
}

func TestTripayCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/create", r.URL.Path)
		assert.Equal(t, "Bearer api-key", r.Header.Get("Authorization"))

		var req tripayRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "INV-1", req.MerchantRef)
		assert.Equal(t, int64(50000), req.Amount)
		assert.Equal(t, fixedNow.Add(24*time.Hour).Unix(), req.ExpiredTime)
		assert.Equal(t, signature.TripayRequestSignature("priv", "T0001", "INV-1", 50000), req.Signature)

		_, _ = w.Write([]byte(`{"success":true,"data":{"reference":"T123","qr_url":"https://qr","checkout_url":"https://pay","expired_time":` +
			jsonInt(fixedNow.Add(24*time.Hour).Unix()) + `}}`))
	}))
	defer srv.Close()

	gw := NewTripay(config.TripayConfig{APIKey: "api-key", PrivateKey: "priv", MerchantCode: "T0001", Method: "QRISC", BaseURL: srv.URL},
		httpclient.New("tripay", time.Second), testOptions())

	p, err := gw.CreateInvoice(context.Background(), "INV-1", 50000)
	require.NoError(t, err)
	assert.Equal(t, "https://qr", p.PresentationURL)
	assert.Equal(t, "https://pay", p.CheckoutURL)
	assert.Equal(t, "T123", p.ProviderReference)
	assert.Equal(t, "02 Mar 2025 08:00 UTC", p.HumanExpiry)
}

func TestTripayCreateInvoiceRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"Invalid signature"}`))
	}))
	defer srv.Close()

	gw := NewTripay(config.TripayConfig{BaseURL: srv.URL}, httpclient.New("tripay", time.Second), testOptions())
	_, err := gw.CreateInvoice(context.Background(), "INV-1", 50000)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, Retryable(err))
}

func TestCreateInvoiceServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	gw := NewDuitku(config.DuitkuConfig{BaseURL: srv.URL}, httpclient.New("duitku", time.Second), testOptions())
	_, err := gw.CreateInvoice(context.Background(), "INV-1", 50000)
	require.Error(t, err)
	assert.True(t, Retryable(err))
}

func TestTripayParseCallback(t *testing.T) {
	gw := NewTripay(config.TripayConfig{PrivateKey: "priv"}, nil, testOptions())
	body := []byte(`{"reference":"T123","merchant_ref":"INV-1","status":"PAID"}`)
	h := http.Header{}
	h.Set(signature.TripayHeader, signature.TripayCallbackDigest(body, "priv"))

	cb, err := gw.ParseCallback(body, h)
	require.NoError(t, err)
	assert.Equal(t, Callback{Reference: "INV-1", Status: domain.TxPaid, RawStatus: "PAID"}, cb)

	h.Set(signature.TripayHeader, "deadbeef")
	_, err = gw.ParseCallback(body, h)
	assert.ErrorIs(t, err, domain.ErrSignature)
}

func TestMidtransCreateInvoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/snap/v1/transactions", r.URL.Path)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("server-key:")), r.Header.Get("Authorization"))

		var req midtransRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "INV-2", req.TransactionDetails.OrderID)
		assert.Equal(t, "hour", req.Expiry.Unit)
		assert.Equal(t, 24, req.Expiry.Duration)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"token":"tok","redirect_url":"https://snap/redirect"}`))
	}))
	defer srv.Close()

	gw := NewMidtrans(config.MidtransConfig{ServerKey: "server-key", BaseURL: srv.URL}, httpclient.New("midtrans", time.Second), testOptions())
	p, err := gw.CreateInvoice(context.Background(), "INV-2", 150000)
	require.NoError(t, err)
	assert.Equal(t, "https://snap/redirect", p.PresentationURL)
	assert.Equal(t, "tok", p.ProviderReference)
	assert.Equal(t, fixedNow.Add(InvoiceTTL), p.ExpiresAt)
}

func TestMidtransStatusMapping(t *testing.T) {
	gw := NewMidtrans(config.MidtransConfig{ServerKey: "sk"}, nil, testOptions())
	cases := map[string]domain.TxStatus{
		"settlement": domain.TxPaid,
		"capture":    domain.TxPaid,
		"pending":    domain.TxUnpaid,
		"expire":     domain.TxExpired,
		"cancel":     domain.TxFailed,
		"deny":       domain.TxFailed,
		"failure":    domain.TxFailed,
		"refund":     domain.TxFailed,
	}
	for raw, want := range cases {
		body := midtransBody("INV-3", raw, "sk")
		cb, err := gw.ParseCallback(body, nil)
		require.NoError(t, err, raw)
		assert.Equal(t, want, cb.Status, raw)
		assert.Equal(t, "INV-3", cb.Reference)
	}
}

func TestDuitkuCreateInvoiceAndCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/webapi/api/merchant/v2/inquiry", r.URL.Path)
		var req duitkuRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 1440, req.ExpiryPeriod)
		assert.Equal(t, "SP", req.PaymentMethod)
		assert.Equal(t, signature.DuitkuRequestSignature("D0001", "INV-4", 10000, "mk"), req.Signature)
		_, _ = w.Write([]byte(`{"statusCode":"00","statusMessage":"SUCCESS","paymentUrl":"https://pay","qrString":"000201","reference":"DK1"}`))
	}))
	defer srv.Close()

	cfg := config.DuitkuConfig{MerchantCode: "D0001", MerchantKey: "mk", Method: "SP", BaseURL: srv.URL}
	gw := NewDuitku(cfg, httpclient.New("duitku", time.Second), testOptions())

	p, err := gw.CreateInvoice(context.Background(), "INV-4", 10000)
	require.NoError(t, err)
	assert.Equal(t, "000201", p.PresentationURL)
	assert.Equal(t, "https://pay", p.CheckoutURL)

	sig := signature.DuitkuCallbackDigest("D0001", "10000", "INV-4", "mk")
	for code, want := range map[string]domain.TxStatus{"00": domain.TxPaid, "01": domain.TxExpired, "02": domain.TxFailed} {
		body := []byte("merchantCode=D0001&amount=10000&merchantOrderId=INV-4&resultCode=" + code + "&signature=" + sig)
		cb, err := gw.ParseCallback(body, nil)
		require.NoError(t, err)
		assert.Equal(t, want, cb.Status)
	}
}

func TestDuitkuRejectedInquiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statusCode":"01","statusMessage":"Minimum amount"}`))
	}))
	defer srv.Close()

	gw := NewDuitku(config.DuitkuConfig{BaseURL: srv.URL}, httpclient.New("duitku", time.Second), testOptions())
	_, err := gw.CreateInvoice(context.Background(), "INV-5", 1)
	assert.True(t, errors.Is(err, ErrRejected))
}

func TestCallbackWithoutReferenceIsValidationError(t *testing.T) {
	gw := NewTripay(config.TripayConfig{PrivateKey: "priv"}, nil, testOptions())
	body := []byte(`{"status":"PAID"}`)
	h := http.Header{}
	h.Set(signature.TripayHeader, signature.TripayCallbackDigest(body, "priv"))

	_, err := gw.ParseCallback(body, h)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewSelectsConfiguredProvider(t *testing.T) {
	for _, name := range []string{"tripay", "midtrans", "duitku"} {
		gw, err := New(config.Config{PaymentProvider: name}, nil, testOptions())
		require.NoError(t, err)
		assert.Equal(t, domain.Provider(name), gw.Kind())
	}
	_, err := New(config.Config{PaymentProvider: "xendit"}, nil, testOptions())
	assert.Error(t, err)
}

func midtransBody(orderID, status, key string) []byte {
	body, _ := json.Marshal(map[string]string{
		"order_id":           orderID,
		"status_code":        "200",
		"gross_amount":       "50000.00",
		"transaction_status": status,
		"signature_key":      signature.MidtransDigest(orderID, "200", "50000.00", key),
	})
	return body
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}
