package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"invite-service/internal/domain"
	"invite-service/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const maxCallbackBody = 1 << 20

type CallbackProcessor interface {
	HandleCallback(ctx context.Context, kind domain.Provider, raw []byte, headers http.Header) (service.Outcome, error)
}

type InvoiceService interface {
	CreateInvoiceForTier(ctx context.Context, buyerID string, days int) (*domain.Transaction, error)
	Status(ctx context.Context, reference string) (*domain.Transaction, error)
	Pricing(ctx context.Context) ([]domain.PricingTier, error)
}

type EntitlementService interface {
	Materialize(ctx context.Context, buyerID, email, reference string) (*domain.Entitlement, error)
	ListForBuyer(ctx context.Context, buyerID string) ([]domain.Entitlement, error)
	PendingPurchase(ctx context.Context, buyerID string) (*domain.Transaction, error)
}

// HealthChecker reports whether the backing store answers.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type RouterDeps struct {
	Provider     domain.Provider
	Callbacks    CallbackProcessor
	Invoices     InvoiceService
	Entitlements EntitlementService
	Health       HealthChecker
	// CallbackLimiter throttles /callback/payment; nil disables it.
	CallbackLimiter *RateLimiter
	Location        *time.Location
}

type api struct {
	deps RouterDeps
}

// NewRouter wires the HTTP routes.
func NewRouter(deps RouterDeps) http.Handler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	a := &api{deps: deps}
	mux := http.NewServeMux()

	var callback http.Handler = http.HandlerFunc(a.handleCallback)
	if deps.CallbackLimiter != nil {
		callback = deps.CallbackLimiter.Middleware(callback)
	}
	mux.Handle("POST /callback/payment", callback)
	mux.HandleFunc("POST /invoices", a.createInvoice)
	mux.HandleFunc("GET /transactions/{reference}", a.transactionStatus)
	mux.HandleFunc("POST /entitlements", a.materialize)
	mux.HandleFunc("GET /buyers/{buyerId}/entitlements", a.listEntitlements)
	mux.HandleFunc("GET /buyers/{buyerId}/pending", a.pendingPurchase)
	mux.HandleFunc("GET /pricing", a.pricing)
	mux.HandleFunc("GET /healthz", a.health)
	mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(mux)
}

func (a *api) handleCallback(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	out, err := a.deps.Callbacks.HandleCallback(r.Context(), a.deps.Provider, raw, r.Header)
	if err != nil {
		// Providers only distinguish accepted from rejected.
		status := statusFor(err)
		if status == http.StatusNotFound {
			status = http.StatusBadRequest
		}
		if status == http.StatusInternalServerError {
			log.WithError(err).WithField("reference", out.Reference).Error("Callback processing failed")
		}
		respondJSON(w, status, map[string]any{"success": false, "message": publicMessage(err)})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

type invoiceRequest struct {
	BuyerID      string `json:"buyer_id"`
	DurationDays int    `json:"duration_days"`
}

type invoiceResponse struct {
	Reference       string `json:"reference"`
	PresentationURL string `json:"presentation_url"`
	CheckoutURL     string `json:"checkout_url,omitempty"`
	HumanExpiry     string `json:"human_expiry"`
	Amount          int64  `json:"amount"`
	Package         string `json:"package"`
}

func (a *api) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req invoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tx, err := a.deps.Invoices.CreateInvoiceForTier(r.Context(), req.BuyerID, req.DurationDays)
	if err != nil {
		a.fail(w, err, log.Fields{"buyer_id": req.BuyerID})
		return
	}
	resp := invoiceResponse{Reference: tx.Reference, Amount: tx.Amount, Package: tx.PackageLabel}
	if p := tx.Presentation; p != nil {
		resp.PresentationURL = p.PresentationURL
		resp.CheckoutURL = p.CheckoutURL
		resp.HumanExpiry = p.HumanExpiry
	}
	respondJSON(w, http.StatusCreated, resp)
}

type transactionResponse struct {
	Reference string     `json:"reference"`
	Status    string     `json:"status"`
	Package   string     `json:"package"`
	Amount    int64      `json:"amount"`
	PaidAt    *time.Time `json:"paid_at,omitempty"`
}

func newTransactionResponse(tx *domain.Transaction) transactionResponse {
	return transactionResponse{
		Reference: tx.Reference,
		Status:    string(tx.Status),
		Package:   tx.PackageLabel,
		Amount:    tx.Amount,
		PaidAt:    tx.PaidAt,
	}
}

func (a *api) transactionStatus(w http.ResponseWriter, r *http.Request) {
	tx, err := a.deps.Invoices.Status(r.Context(), r.PathValue("reference"))
	if err != nil {
		a.fail(w, err, log.Fields{"reference": r.PathValue("reference")})
		return
	}
	respondJSON(w, http.StatusOK, newTransactionResponse(tx))
}

func (a *api) pendingPurchase(w http.ResponseWriter, r *http.Request) {
	tx, err := a.deps.Entitlements.PendingPurchase(r.Context(), r.PathValue("buyerId"))
	if err != nil {
		a.fail(w, err, log.Fields{"buyer_id": r.PathValue("buyerId")})
		return
	}
	respondJSON(w, http.StatusOK, newTransactionResponse(tx))
}

type materializeRequest struct {
	BuyerID   string `json:"buyer_id"`
	Email     string `json:"email"`
	Reference string `json:"reference"`
}

type entitlementResponse struct {
	ID        string `json:"id,omitempty"`
	Package   string `json:"package"`
	Email     string `json:"email"`
	Status    string `json:"status"`
	ExpiredAt string `json:"expired_at"`
	Warning   string `json:"warning,omitempty"`
}

func (a *api) entitlementView(e domain.Entitlement) entitlementResponse {
	return entitlementResponse{
		ID:        e.ID,
		Package:   e.PackageLabel,
		Email:     e.AccessEmail,
		Status:    string(e.Status),
		ExpiredAt: e.ExpiredAt.In(a.deps.Location).Format(time.RFC3339),
	}
}

func (a *api) materialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	e, err := a.deps.Entitlements.Materialize(r.Context(), req.BuyerID, req.Email, req.Reference)
	if errors.Is(err, domain.ErrProvisioning) && e != nil {
		view := a.entitlementView(*e)
		view.Warning = "access recorded, invite delivery will be retried"
		respondJSON(w, http.StatusAccepted, view)
		return
	}
	if err != nil {
		a.fail(w, err, log.Fields{"buyer_id": req.BuyerID, "reference": req.Reference})
		return
	}
	respondJSON(w, http.StatusCreated, a.entitlementView(*e))
}

func (a *api) listEntitlements(w http.ResponseWriter, r *http.Request) {
	list, err := a.deps.Entitlements.ListForBuyer(r.Context(), r.PathValue("buyerId"))
	if err != nil {
		a.fail(w, err, log.Fields{"buyer_id": r.PathValue("buyerId")})
		return
	}
	out := make([]entitlementResponse, 0, len(list))
	for _, e := range list {
		v := a.entitlementView(e)
		v.ID = ""
		out = append(out, v)
	}
	respondJSON(w, http.StatusOK, out)
}

func (a *api) pricing(w http.ResponseWriter, r *http.Request) {
	tiers, err := a.deps.Invoices.Pricing(r.Context())
	if err != nil {
		a.fail(w, err, nil)
		return
	}
	respondJSON(w, http.StatusOK, tiers)
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"status": "ok"}
	status := http.StatusOK
	if a.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.deps.Health.PingContext(ctx); err != nil {
			log.WithError(err).Error("Health probe failed")
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
		}
	}
	respondJSON(w, status, payload)
}

func (a *api) fail(w http.ResponseWriter, err error, fields log.Fields) {
	status := statusFor(err)
	entry := log.WithFields(fields).WithError(err)
	if status >= http.StatusInternalServerError {
		entry.Error("Request failed")
	} else {
		entry.Warn("Request rejected")
	}
	writeError(w, status, publicMessage(err))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrSignature):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLookup):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// publicMessage keeps internal causes out of responses.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrSignature):
		return "invalid signature"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrLookup):
		msg := err.Error()
		if i := strings.Index(msg, ": "); i >= 0 {
			msg = msg[i+2:]
		}
		return msg
	case errors.Is(err, domain.ErrGateway):
		return "payment provider unavailable"
	}
	return "internal error"
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Debug("Request completed")
	})
}
