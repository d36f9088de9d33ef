package gateway

import (
	"encoding/json"
	"fmt"

	"bikefleet-backend/internal/domain"
)

const (
	EventChargeSucceeded  = "charge.succeeded"
	EventPaymentSucceeded = "payment.succeeded"
)

// Notification is the body the gateway POSTs to the webhook.
type Notification struct {
	Type   string             `json:"type"`
	Event  string             `json:"event"`
	Object NotificationObject `json:"object"`
}

type NotificationObject struct {
	ID            string             `json:"id"`
	Status        string             `json:"status"`
	Amount        AmountPayload      `json:"amount"`
	Metadata      map[string]string  `json:"metadata"`
	PaymentMethod *PaymentMethodBody `json:"payment_method,omitempty"`
}

type AmountPayload struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type PaymentMethodBody struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
	Saved bool   `json:"saved"`
}

// ParseNotification decodes a webhook body
func ParseNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &n, nil
}

// IsSuccess reports whether the notification announces a settled charge
func (n *Notification) IsSuccess() bool {
	return (n.Event == EventChargeSucceeded || n.Event == EventPaymentSucceeded) &&
		n.Object.Status == string(ChargeStatusSucceeded)
}

// Amount parses the decimal amount of the charge
func (n *Notification) Amount() (domain.Money, error) {
	return domain.ParseMoney(n.Object.Amount.Value)
}

// Method returns the payment method reported with the charge, if any
func (n *Notification) Method() *PaymentMethod {
	if n.Object.PaymentMethod == nil {
		return nil
	}
	pm := n.Object.PaymentMethod
	return &PaymentMethod{ID: pm.ID, Type: pm.Type, Title: pm.Title, Saved: pm.Saved}
}

// NotificationFromCharge builds the notification equivalent of a charge that
// already settled synchronously, so both paths apply the same effects.
func NotificationFromCharge(c *Charge) *Notification {
	n := &Notification{
		Type:  "notification",
		Event: EventChargeSucceeded,
		Object: NotificationObject{
			ID:       c.ID,
			Status:   string(c.Status),
			Amount:   AmountPayload{Value: c.Amount.String(), Currency: "RUB"},
			Metadata: c.Metadata,
		},
	}
	if c.PaymentMethod != nil {
		n.Object.PaymentMethod = &PaymentMethodBody{
			ID: c.PaymentMethod.ID, Type: c.PaymentMethod.Type, Title: c.PaymentMethod.Title, Saved: c.PaymentMethod.Saved,
		}
	}
	return n
}
