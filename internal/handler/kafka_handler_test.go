package handler

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"invite-service/internal/domain"

	"github.com/stretchr/testify/assert"
)

type capturingEntitlements struct {
	stubEntitlements
	buyer, email, reference string
}

func (c *capturingEntitlements) Materialize(_ context.Context, buyerID, email, reference string) (*domain.Entitlement, error) {
	c.buyer, c.email, c.reference = buyerID, email, reference
	return c.e, c.err
}

func TestEmailCaptureHandler(t *testing.T) {
	ent := &capturingEntitlements{stubEntitlements: stubEntitlements{e: &domain.Entitlement{ID: "e1"}}}
	h := NewEmailCaptureHandler(ent)

	err := h.HandleMessage(context.Background(), []byte(`{"buyer_id":"1001","email":"a@b.co","reference":"INV-1"}`))
	assert.NoError(t, err)
	assert.Equal(t, "1001", ent.buyer)
	assert.Equal(t, "a@b.co", ent.email)
	assert.Equal(t, "INV-1", ent.reference)
}

func TestEmailCaptureHandlerErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"validation is dropped", fmt.Errorf("%w: bad email", domain.ErrValidation), false},
		{"lookup is dropped", fmt.Errorf("%w: nothing pending", domain.ErrLookup), false},
		{"provisioning is left to repair", fmt.Errorf("%w: sidecar", domain.ErrProvisioning), false},
		{"store failure surfaces", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := &capturingEntitlements{stubEntitlements: stubEntitlements{e: &domain.Entitlement{ID: "e1"}, err: tt.err}}
			err := NewEmailCaptureHandler(ent).HandleMessage(context.Background(), []byte(`{"buyer_id":"1001","email":"a@b.co"}`))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.NoError(t, NewEmailCaptureHandler(&capturingEntitlements{}).HandleMessage(context.Background(), []byte(`{broken`)))
}
