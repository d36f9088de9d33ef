package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockGateway is an in-process gateway for local runs. Redirect charges stay
// pending until a notification is posted to the webhook by hand; charges of a
// saved method settle immediately.
type MockGateway struct {
	mu         sync.Mutex
	baseURL    string
	charges    map[string]*Charge
	byIdemKey  map[string]string
	refundedBy map[string]*Refund
}

func NewMockGateway(baseURL string) *MockGateway {
	return &MockGateway{
		baseURL:    baseURL,
		charges:    map[string]*Charge{},
		byIdemKey:  map[string]string{},
		refundedBy: map[string]*Refund{},
	}
}

func (g *MockGateway) CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if id, ok := g.byIdemKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		c := *g.charges[id]
		return &c, nil
	}

	charge := &Charge{
		ID:       "mock_" + uuid.NewString(),
		Status:   ChargeStatusPending,
		Amount:   req.Amount,
		Metadata: req.Metadata.Map(),
	}
	if req.PaymentMethodID != "" {
		charge.Status = ChargeStatusSucceeded
		charge.PaymentMethod = &PaymentMethod{ID: req.PaymentMethodID, Type: "bank_card", Title: "Saved card", Saved: true}
	} else {
		charge.ConfirmationURL = fmt.Sprintf("%s/mock-gateway/confirm/%s", g.baseURL, charge.ID)
	}

	g.charges[charge.ID] = charge
	if req.IdempotencyKey != "" {
		g.byIdemKey[req.IdempotencyKey] = charge.ID
	}
	c := *charge
	return &c, nil
}

func (g *MockGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	charge, ok := g.charges[req.ChargeID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown charge %s", ErrRejected, req.ChargeID)
	}
	if req.Amount > charge.Amount {
		return nil, fmt.Errorf("%w: refund exceeds charge", ErrRejected)
	}
	if r, ok := g.refundedBy[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		out := *r
		return &out, nil
	}
	refund := &Refund{
		ID:       "mock_refund_" + uuid.NewString(),
		ChargeID: charge.ID,
		Status:   RefundStatusSucceeded,
		Amount:   req.Amount,
	}
	g.refundedBy[req.IdempotencyKey] = refund
	out := *refund
	return &out, nil
}

// Settle marks a pending charge succeeded and returns the notification the real
// gateway would send for it.
func (g *MockGateway) Settle(chargeID string, method *PaymentMethod) (*Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	charge, ok := g.charges[chargeID]
	if !ok {
		return nil, fmt.Errorf("unknown charge %s", chargeID)
	}
	charge.Status = ChargeStatusSucceeded
	if method != nil {
		charge.PaymentMethod = method
	}
	return NotificationFromCharge(charge), nil
}
