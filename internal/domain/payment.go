package domain

import (
	"fmt"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

type PaymentType string

const (
	PaymentTypeRental          PaymentType = "rental"
	PaymentTypeRenewal         PaymentType = "renewal"
	PaymentTypeTopUp           PaymentType = "top-up"
	PaymentTypeBooking         PaymentType = "booking"
	PaymentTypeInvoice         PaymentType = "invoice"
	PaymentTypeDamage          PaymentType = "damage"
	PaymentTypeAdjustment      PaymentType = "adjustment"
	PaymentTypeRefundToBalance PaymentType = "refund_to_balance"
)

type PaymentMethod string

const (
	PaymentMethodCard    PaymentMethod = "card"
	PaymentMethodSBP     PaymentMethod = "sbp"
	PaymentMethodWallet  PaymentMethod = "wallet"
	PaymentMethodBalance PaymentMethod = "balance"
)

// Payment is an append-only ledger row. Amount is what was charged, signed from the
// client's point of view (positive = credit). BalanceDelta is the effect on the stored
// balance: it equals Amount except for purchases paid straight from a card, where
// the money never passes through the balance and BalanceDelta is zero.
type Payment struct {
	ID              int64         `json:"id" db:"id"`
	ClientID        string        `json:"client_id" db:"client_id"`
	RentalID        *int64        `json:"rental_id,omitempty" db:"rental_id"`
	BookingID       *int64        `json:"booking_id,omitempty" db:"booking_id"`
	Amount          Money         `json:"amount" db:"amount"`
	BalanceDelta    Money         `json:"balance_delta" db:"balance_delta"`
	Status          PaymentStatus `json:"status" db:"status"`
	Type            PaymentType   `json:"payment_type" db:"payment_type"`
	Method          PaymentMethod `json:"method" db:"method"`
	GatewayChargeID *string       `json:"gateway_charge_id,omitempty" db:"gateway_charge_id"`
	EntryKey        string        `json:"-" db:"entry_key"`
	Description     string        `json:"description" db:"description"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
}

// CountsTowardBalance reports whether the row takes part in the balance sum
func (p *Payment) CountsTowardBalance() bool {
	return p.Status == PaymentStatusSucceeded
}

// Entry keys make every ledger effect of a charge or command idempotent.

// GatewayEntryKey is the key of the row recording the gateway-side money of a charge
func GatewayEntryKey(chargeID string) string {
	return "charge:" + chargeID + ":gateway"
}

// BalancePortionEntryKey is the key of the balance debit that accompanies a split charge
func BalancePortionEntryKey(chargeID string) string {
	return "charge:" + chargeID + ":balance"
}

// RejectRefundEntryKey is the key of the refund-to-balance row of a rejected rental
func RejectRefundEntryKey(rentalID int64) string {
	return fmt.Sprintf("reject:%d", rentalID)
}

// MethodFromGateway maps a gateway payment method type to a ledger method
func MethodFromGateway(methodType string) PaymentMethod {
	switch methodType {
	case "sbp":
		return PaymentMethodSBP
	case "yoo_money":
		return PaymentMethodWallet
	default:
		return PaymentMethodCard
	}
}
