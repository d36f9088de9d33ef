// Package service holds the rental fulfillment and payment reconciliation core.
package service

import (
	"context"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/repository"
)

type InventoryService interface {
	// SelectBike returns a bike that can be rented on the tariff in the city. With a
	// required code only that bike is considered.
	SelectBike(ctx context.Context, tariffID int64, city, requiredCode string) (*domain.Bike, error)
	Reserve(ctx context.Context, bikeID int64) error
	Release(ctx context.Context, bikeID int64) error
	// Allocate selects and reserves a bike. Candidates are tried in random order until
	// one conditional reserve succeeds.
	Allocate(ctx context.Context, tariffID int64, city, requiredCode string) (*domain.Bike, error)
}

type RentalService interface {
	GetRental(ctx context.Context, rentalID int64) (*domain.Rental, error)
	// GetRentalDetails is the back-office view of a rental with its batteries.
	GetRentalDetails(ctx context.Context, rentalID int64) (*RentalDetails, error)
	ListClientRentals(ctx context.Context, clientID string) ([]domain.Rental, error)
	AssignBike(ctx context.Context, rentalID, bikeID int64) (*domain.Rental, error)
	AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) (*domain.Rental, error)
	ConfirmContract(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error)
	RequestReturn(ctx context.Context, clientID string, rentalID int64) (*domain.Rental, error)
	MarkOverdue(ctx context.Context, rentalID int64, reason string) (*domain.Rental, error)
	FinalizeReturn(ctx context.Context, req FinalizeReturnRequest) (*FinalizeReturnResult, error)
	ConfirmReturn(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error)
	CompleteByAdmin(ctx context.Context, rentalID int64, note string) (*domain.Rental, error)
	// Reject refunds total_paid to the balance exactly once and frees the bike.
	Reject(ctx context.Context, rentalID int64, reason string) (*domain.Rental, domain.Money, error)
}

type PaymentService interface {
	CreateCharge(ctx context.Context, clientID string, intent ChargeIntent) (*ChargeResult, error)
	ChargeFromBalance(ctx context.Context, req BalanceRentalRequest) (*domain.Rental, error)
	HandleGatewayNotification(ctx context.Context, n *gateway.Notification) (Outcome, error)
	CreateRefund(ctx context.Context, chargeID string, amount domain.Money, reason string) (*gateway.Refund, error)
	SaveCard(ctx context.Context, clientID string) (*ChargeResult, error)
	GetBalance(ctx context.Context, clientID string) (domain.Money, []domain.Payment, error)
}

type BillingService interface {
	AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (domain.Money, error)
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*BillingResult, error)
	ChargeForDamages(ctx context.Context, req DamageRequest) (*BillingResult, error)
	ResolveIssue(ctx context.Context, issueID int64, resolution string) error
	ListOpenIssues(ctx context.Context) ([]domain.ReconciliationIssue, error)
	// AuditBalances compares every stored balance with its ledger and escalates mismatches.
	AuditBalances(ctx context.Context) (int, error)
}

type BookingService interface {
	Accept(ctx context.Context, bookingID int64) (*domain.Booking, error)
	Cancel(ctx context.Context, bookingID int64) (*domain.Booking, error)
	ExpireStale(ctx context.Context) (int, error)
}

type RenewalService interface {
	// RenewDue charges active rentals whose period ended. Rentals that cannot be paid for
	// become overdue.
	RenewDue(ctx context.Context) (*RenewalReport, error)
}

// Escalator records fatal inconsistencies for manual review.
type Escalator interface {
	Escalate(ctx context.Context, issue *domain.ReconciliationIssue) error
}

// Repositories groups the store contracts the services use.
type Repositories struct {
	Clients  repository.ClientRepository
	Ledger   repository.LedgerRepository
	Rentals  repository.RentalRepository
	Bikes    repository.BikeRepository
	Bookings repository.BookingRepository
	Tariffs  repository.TariffRepository
	Issues   repository.IssueRepository
}

// Settings carries the money rules and clock shared by the services.
type Settings struct {
	BookingCost       domain.Money
	BookingHold       time.Duration
	DefaultRentalDays int
	SaveCardAmount    domain.Money
	DefaultCity       string
	ReturnURL         string
	Now               func() time.Time
}

func (s Settings) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s Settings) city(c *domain.Client) string {
	if c.City != "" {
		return c.City
	}
	return s.DefaultCity
}
