// Package gateway adapts the external payment gateway: outgoing charges and
// refunds, and the shape of its asynchronous notifications.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"bikefleet-backend/internal/domain"
)

// ErrUnavailable wraps transport failures, timeouts and 5xx answers. The call may be retried.
var ErrUnavailable = errors.New("gateway unavailable")

// ErrRejected wraps 4xx answers. Retrying the same request will not help.
var ErrRejected = errors.New("gateway rejected request")

type ChargeStatus string

const (
	ChargeStatusPending           ChargeStatus = "pending"
	ChargeStatusWaitingForCapture ChargeStatus = "waiting_for_capture"
	ChargeStatusSucceeded         ChargeStatus = "succeeded"
	ChargeStatusCanceled          ChargeStatus = "canceled"
)

// Intent tells the webhook which fulfillment branch a charge belongs to.
type Intent string

const (
	IntentTopUp    Intent = "top-up"
	IntentRental   Intent = "rental"
	IntentRenewal  Intent = "renewal"
	IntentBooking  Intent = "booking"
	IntentInvoice  Intent = "invoice"
	IntentDamage   Intent = "damage"
	IntentSaveCard Intent = "save_card"
)

// Metadata travels with a charge and comes back unchanged in the notification.
type Metadata struct {
	ClientID       string
	Intent         Intent
	BalancePortion domain.Money
	TariffID       int64
	RentalID       int64
	BikeCode       string
	Days           int
}

// Map encodes metadata as the flat string map the gateway stores
func (m Metadata) Map() map[string]string {
	out := map[string]string{
		"client_id":    m.ClientID,
		"payment_type": string(m.Intent),
	}
	if m.BalancePortion != 0 {
		out["debit_from_balance"] = m.BalancePortion.String()
	}
	if m.TariffID != 0 {
		out["tariff_id"] = strconv.FormatInt(m.TariffID, 10)
	}
	if m.RentalID != 0 {
		out["rental_id"] = strconv.FormatInt(m.RentalID, 10)
	}
	if m.BikeCode != "" {
		out["bike_code"] = m.BikeCode
	}
	if m.Days != 0 {
		out["days"] = strconv.Itoa(m.Days)
	}
	return out
}

// ParseMetadata decodes the map returned by the gateway
func ParseMetadata(raw map[string]string) (Metadata, error) {
	m := Metadata{
		ClientID: raw["client_id"],
		Intent:   Intent(raw["payment_type"]),
		BikeCode: raw["bike_code"],
	}
	if m.ClientID == "" {
		return m, fmt.Errorf("metadata has no client_id")
	}
	if m.Intent == "" {
		m.Intent = IntentTopUp
	}

	var err error
	if v := raw["debit_from_balance"]; v != "" {
		if m.BalancePortion, err = domain.ParseMoney(v); err != nil {
			return m, fmt.Errorf("metadata debit_from_balance: %w", err)
		}
	}
	if v := raw["tariff_id"]; v != "" {
		if m.TariffID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return m, fmt.Errorf("metadata tariff_id: %w", err)
		}
	}
	if v := raw["rental_id"]; v != "" {
		if m.RentalID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return m, fmt.Errorf("metadata rental_id: %w", err)
		}
	}
	if v := raw["days"]; v != "" {
		if m.Days, err = strconv.Atoi(v); err != nil {
			return m, fmt.Errorf("metadata days: %w", err)
		}
	}
	return m, nil
}

type ChargeRequest struct {
	Amount            domain.Money
	Description       string
	Metadata          Metadata
	IdempotencyKey    string
	ReturnURL         string
	PaymentMethodID   string // charge a saved method without redirect
	SavePaymentMethod bool
	ReceiptPhone      string
}

// PaymentMethod is the instrument reported by the gateway.
type PaymentMethod struct {
	ID    string
	Type  string
	Title string
	Saved bool
}

type Charge struct {
	ID              string
	Status          ChargeStatus
	Amount          domain.Money
	ConfirmationURL string
	Metadata        map[string]string
	PaymentMethod   *PaymentMethod
}

type RefundRequest struct {
	ChargeID       string
	Amount         domain.Money
	Reason         string
	IdempotencyKey string
}

type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusSucceeded RefundStatus = "succeeded"
	RefundStatusCanceled  RefundStatus = "canceled"
)

type Refund struct {
	ID       string
	ChargeID string
	Status   RefundStatus
	Amount   domain.Money
}

// Gateway creates charges and refunds. Implementations must honour ctx deadlines.
type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
}
