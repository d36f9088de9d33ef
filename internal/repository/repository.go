package repository

import (
	"context"
	"errors"
	"time"

	"bikefleet-backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("record not found")
	ErrDuplicate           = errors.New("duplicate record")
	ErrStaleState          = errors.New("record is not in the expected state")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

type ClientRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Client, error)
	SavePaymentMethod(ctx context.Context, clientID, methodID, title string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// PostOptions tunes how a ledger row touches the balance.
type PostOptions struct {
	// RequireFunds rejects a debit that would take the balance below zero.
	RequireFunds bool
}

// LedgerRepository owns payments and is the only writer of client balances.
type LedgerRepository interface {
	// Post inserts the payment row and, for succeeded rows, applies BalanceDelta to the
	// client balance in the same transaction. Returns the resulting balance.
	// ErrDuplicate means a row with the same entry key was already posted.
	Post(ctx context.Context, p *domain.Payment, opts PostOptions) (domain.Money, error)
	GetByEntryKey(ctx context.Context, key string) (*domain.Payment, error)
	// FindSucceededByChargeID returns the gateway row of a fully applied charge.
	FindSucceededByChargeID(ctx context.Context, chargeID string) (*domain.Payment, error)
	// MarkRefunded flips the gateway row of the charge to refunded and reverses the
	// part of its balance effect covered by amount, atomically.
	MarkRefunded(ctx context.Context, chargeID string, amount domain.Money) (domain.Money, error)
	ListByClient(ctx context.Context, clientID string) ([]domain.Payment, error)
	SumBalanceDeltas(ctx context.Context, clientID string) (domain.Money, error)
}

type RentalRepository interface {
	// Create inserts a rental. ErrDuplicate means another rental already carries SourceKey.
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int64) (*domain.Rental, error)
	GetBySourceKey(ctx context.Context, key string) (*domain.Rental, error)
	ListByClient(ctx context.Context, clientID string) ([]domain.Rental, error)
	// ListDue returns active rentals whose current period ended before t.
	ListDue(ctx context.Context, before time.Time) ([]domain.Rental, error)
	ListBatteries(ctx context.Context, rentalID int64) ([]domain.Battery, error)
	// Delete removes a rental that never left its initial status. Used by compensations.
	Delete(ctx context.Context, id int64) error

	// Transition moves the rental from one status to another only if it is still in
	// from, merging extra into its extra data. ErrStaleState otherwise.
	Transition(ctx context.Context, id int64, from, to domain.RentalStatus, extra domain.ExtraData) error
	// AssignBike reserves the bike and advances a pending_assignment rental.
	AssignBike(ctx context.Context, rentalID, bikeID int64) error
	// AssignBatteries marks the batteries in use, links them and advances the rental.
	AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) error
	// Extend pushes the period end by days and adds paid to TotalPaid once per charge.
	Extend(ctx context.Context, rentalID int64, chargeID string, days int, paid domain.Money) error
	// Reject closes a pending_assignment rental, frees its bike and posts refund to the balance.
	Reject(ctx context.Context, rentalID int64, refund *domain.Payment) (domain.Money, error)
	// FinalizeReturn releases the bike and batteries of a pending_return or overdue rental
	// and moves it to awaiting_return_signature.
	FinalizeReturn(ctx context.Context, rentalID int64, bikeStatus domain.BikeStatus, serviceReason string, extra domain.ExtraData) error
}

type BikeRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Bike, error)
	GetByCode(ctx context.Context, code string) (*domain.Bike, error)
	// ListAvailable returns available bikes in the city usable with the tariff.
	ListAvailable(ctx context.Context, tariffID int64, city string) ([]domain.Bike, error)
	// CompareAndSetStatus changes status only if the bike is still in from.
	CompareAndSetStatus(ctx context.Context, id int64, from, to domain.BikeStatus, reason string) error
}

type BookingRepository interface {
	// Create inserts a booking. ErrDuplicate means the charge already produced one.
	Create(ctx context.Context, booking *domain.Booking) error
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetBySourceCharge(ctx context.Context, chargeID string) (*domain.Booking, error)
	// Close moves an active booking to status. ErrStaleState if it is no longer active.
	Close(ctx context.Context, id int64, status domain.BookingStatus, at time.Time) error
	// ExpireBefore cancels active bookings whose hold lapsed and returns them.
	ExpireBefore(ctx context.Context, now time.Time) ([]domain.Booking, error)
}

type TariffRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Tariff, error)
}

type IssueRepository interface {
	// Create inserts an issue. ErrDuplicate means an issue with the same Key exists.
	Create(ctx context.Context, issue *domain.ReconciliationIssue) error
	ListOpen(ctx context.Context) ([]domain.ReconciliationIssue, error)
	Resolve(ctx context.Context, id int64, resolution string, at time.Time) error
}

// RefundRemainder builds the row that keeps the unrefunded part of a partially
// refunded balance credit on the balance.
func RefundRemainder(p *domain.Payment, remainder domain.Money) *domain.Payment {
	return &domain.Payment{
		ClientID:        p.ClientID,
		RentalID:        p.RentalID,
		BookingID:       p.BookingID,
		Amount:          remainder,
		BalanceDelta:    remainder,
		Status:          domain.PaymentStatusSucceeded,
		Type:            domain.PaymentTypeAdjustment,
		Method:          domain.PaymentMethodBalance,
		GatewayChargeID: p.GatewayChargeID,
		EntryKey:        p.EntryKey + ":refund-remainder",
		Description:     "unrefunded part of a partial refund",
	}
}
