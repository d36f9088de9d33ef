package domain

import "time"

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Booking is a paid reservation of an in-person visit. Its cost is credited to the
// client balance when paid and is never taken back, whatever the outcome.
type Booking struct {
	ID             int64         `json:"id" db:"id"`
	ClientID       string        `json:"client_id" db:"client_id"`
	Status         BookingStatus `json:"status" db:"status"`
	Cost           Money         `json:"cost" db:"cost"`
	ExpiresAt      time.Time     `json:"expires_at" db:"expires_at"`
	SourceChargeID *string       `json:"-" db:"source_charge_id"`
	CreatedAt      time.Time     `json:"created_at" db:"created_at"`
	ClosedAt       *time.Time    `json:"closed_at,omitempty" db:"closed_at"`
}

// Expired reports whether the hold has lapsed at now
func (b *Booking) Expired(now time.Time) bool {
	return !now.Before(b.ExpiresAt)
}
