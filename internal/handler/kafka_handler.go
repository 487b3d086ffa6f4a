package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"invite-service/internal/domain"
	"invite-service/internal/validator"

	log "github.com/sirupsen/logrus"
)

type emailCaptureHandler struct {
	entitlements EntitlementService
}

func NewEmailCaptureHandler(entitlements EntitlementService) *emailCaptureHandler {
	return &emailCaptureHandler{entitlements: entitlements}
}

// HandleMessage materializes the entitlement for one captured email. Bad
// input is logged and dropped, redelivery would not fix it.
func (h *emailCaptureHandler) HandleMessage(ctx context.Context, message []byte) error {
	var ev domain.EmailCaptured
	if err := json.Unmarshal(message, &ev); err != nil {
		log.WithError(err).Warn("Dropping malformed email capture event")
		return nil
	}
	logCtx := log.WithFields(log.Fields{
		"buyer_id":  ev.BuyerID,
		"email":     validator.MaskEmail(ev.Email),
		"reference": ev.Reference,
	})

	e, err := h.entitlements.Materialize(ctx, ev.BuyerID, ev.Email, ev.Reference)
	switch {
	case err == nil:
		logCtx.WithField("entitlement_id", e.ID).Info("Email capture processed")
		return nil
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrLookup):
		logCtx.WithError(err).Warn("Email capture rejected")
		return nil
	case errors.Is(err, domain.ErrProvisioning):
		// Stored as active; the repair sweep re-grants.
		logCtx.WithError(err).Warn("Entitlement stored but grant failed")
		return nil
	}
	return fmt.Errorf("failed to process email capture: %w", err)
}
