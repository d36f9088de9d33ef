package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type RentalStatus string

const (
	RentalStatusPendingAssignment         RentalStatus = "pending_assignment"
	RentalStatusAwaitingBatteryAssignment RentalStatus = "awaiting_battery_assignment"
	RentalStatusAwaitingContractSigning   RentalStatus = "awaiting_contract_signing"
	RentalStatusActive                    RentalStatus = "active"
	RentalStatusOverdue                   RentalStatus = "overdue"
	RentalStatusPendingReturn             RentalStatus = "pending_return"
	RentalStatusAwaitingReturnSignature   RentalStatus = "awaiting_return_signature"
	RentalStatusCompleted                 RentalStatus = "completed"
	RentalStatusCompletedByAdmin          RentalStatus = "completed_by_admin"
	RentalStatusRejected                  RentalStatus = "rejected"
)

// rentalTransitions is the only place rental status edges are defined. An overdue
// client may still ask to return the bike.
var rentalTransitions = map[RentalStatus][]RentalStatus{
	RentalStatusPendingAssignment:         {RentalStatusAwaitingBatteryAssignment, RentalStatusRejected},
	RentalStatusAwaitingBatteryAssignment: {RentalStatusAwaitingContractSigning},
	RentalStatusAwaitingContractSigning:   {RentalStatusActive},
	RentalStatusActive:                    {RentalStatusOverdue, RentalStatusPendingReturn},
	RentalStatusOverdue:                   {RentalStatusPendingReturn, RentalStatusAwaitingReturnSignature},
	RentalStatusPendingReturn:             {RentalStatusAwaitingReturnSignature},
	RentalStatusAwaitingReturnSignature:   {RentalStatusCompleted, RentalStatusCompletedByAdmin},
}

// CanTransitionTo reports whether next is a legal successor of s
func (s RentalStatus) CanTransitionTo(next RentalStatus) bool {
	for _, allowed := range rentalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s
func (s RentalStatus) IsTerminal() bool {
	return s == RentalStatusCompleted || s == RentalStatusCompletedByAdmin || s == RentalStatusRejected
}

// HoldsInventory reports whether a rental in s keeps its bike rented and batteries in use.
// Inventory is released when the return is finalized, before the client signs.
func (s RentalStatus) HoldsInventory() bool {
	return !s.IsTerminal() && s != RentalStatusAwaitingReturnSignature
}

// Rental is one client's use of one bike over a billing period.
type Rental struct {
	ID                  int64        `json:"id" db:"id"`
	ClientID            string       `json:"client_id" db:"client_id"`
	BikeID              *int64       `json:"bike_id,omitempty" db:"bike_id"`
	TariffID            int64        `json:"tariff_id" db:"tariff_id"`
	Status              RentalStatus `json:"status" db:"status"`
	StartsAt            time.Time    `json:"starts_at" db:"starts_at"`
	CurrentPeriodEndsAt time.Time    `json:"current_period_ends_at" db:"current_period_ends_at"`
	TotalPaid           Money        `json:"total_paid" db:"total_paid"`
	SourceKey           *string      `json:"-" db:"source_key"`
	ExtraData           ExtraData    `json:"extra_data" db:"extra_data"`
	CreatedAt           time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time    `json:"updated_at" db:"updated_at"`
}

// ExtraData is free-form rental metadata: contract and return act references, defects, damage amounts.
type ExtraData map[string]any

// Merge returns a copy of d with other's keys applied on top
func (d ExtraData) Merge(other ExtraData) ExtraData {
	out := make(ExtraData, len(d)+len(other))
	for k, v := range d {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Value stores ExtraData as JSONB text
func (d ExtraData) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads ExtraData from a JSONB column
func (d *ExtraData) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*d = ExtraData{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported extra_data type %T", src)
	}
	out := ExtraData{}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*d = out
	return nil
}
