package http

import (
	"context"

	"github.com/stretchr/testify/mock"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/service"
)

type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) CreateCharge(ctx context.Context, clientID string, intent service.ChargeIntent) (*service.ChargeResult, error) {
	args := m.Called(ctx, clientID, intent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ChargeResult), args.Error(1)
}
func (m *MockPaymentService) ChargeFromBalance(ctx context.Context, req service.BalanceRentalRequest) (*domain.Rental, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rental), args.Error(1)
}
func (m *MockPaymentService) HandleGatewayNotification(ctx context.Context, n *gateway.Notification) (service.Outcome, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(service.Outcome), args.Error(1)
}
func (m *MockPaymentService) CreateRefund(ctx context.Context, chargeID string, amount domain.Money, reason string) (*gateway.Refund, error) {
	args := m.Called(ctx, chargeID, amount, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}
func (m *MockPaymentService) SaveCard(ctx context.Context, clientID string) (*service.ChargeResult, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ChargeResult), args.Error(1)
}
func (m *MockPaymentService) GetBalance(ctx context.Context, clientID string) (domain.Money, []domain.Payment, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).(domain.Money), args.Get(1).([]domain.Payment), args.Error(2)
}

type MockBillingService struct {
	mock.Mock
}

func (m *MockBillingService) AdjustBalance(ctx context.Context, req service.AdjustBalanceRequest) (domain.Money, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(domain.Money), args.Error(1)
}
func (m *MockBillingService) CreateInvoice(ctx context.Context, req service.InvoiceRequest) (*service.BillingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BillingResult), args.Error(1)
}
func (m *MockBillingService) ChargeForDamages(ctx context.Context, req service.DamageRequest) (*service.BillingResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.BillingResult), args.Error(1)
}
func (m *MockBillingService) ResolveIssue(ctx context.Context, issueID int64, resolution string) error {
	args := m.Called(ctx, issueID, resolution)
	return args.Error(0)
}
func (m *MockBillingService) ListOpenIssues(ctx context.Context) ([]domain.ReconciliationIssue, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.ReconciliationIssue), args.Error(1)
}
func (m *MockBillingService) AuditBalances(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type MockRentalService struct {
	mock.Mock
}

func (m *MockRentalService) rental(args mock.Arguments) (*domain.Rental, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Rental), args.Error(1)
}
func (m *MockRentalService) GetRental(ctx context.Context, rentalID int64) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, rentalID))
}
func (m *MockRentalService) GetRentalDetails(ctx context.Context, rentalID int64) (*service.RentalDetails, error) {
	args := m.Called(ctx, rentalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.RentalDetails), args.Error(1)
}
func (m *MockRentalService) ListClientRentals(ctx context.Context, clientID string) ([]domain.Rental, error) {
	args := m.Called(ctx, clientID)
	return args.Get(0).([]domain.Rental), args.Error(1)
}
func (m *MockRentalService) AssignBike(ctx context.Context, rentalID, bikeID int64) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, rentalID, bikeID))
}
func (m *MockRentalService) AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, rentalID, batteryIDs))
}
func (m *MockRentalService) ConfirmContract(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, clientID, rentalID, documentURL))
}
func (m *MockRentalService) RequestReturn(ctx context.Context, clientID string, rentalID int64) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, clientID, rentalID))
}
func (m *MockRentalService) MarkOverdue(ctx context.Context, rentalID int64, reason string) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, rentalID, reason))
}
func (m *MockRentalService) FinalizeReturn(ctx context.Context, req service.FinalizeReturnRequest) (*service.FinalizeReturnResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FinalizeReturnResult), args.Error(1)
}
func (m *MockRentalService) ConfirmReturn(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, clientID, rentalID, documentURL))
}
func (m *MockRentalService) CompleteByAdmin(ctx context.Context, rentalID int64, note string) (*domain.Rental, error) {
	return m.rental(m.Called(ctx, rentalID, note))
}
func (m *MockRentalService) Reject(ctx context.Context, rentalID int64, reason string) (*domain.Rental, domain.Money, error) {
	args := m.Called(ctx, rentalID, reason)
	if args.Get(0) == nil {
		return nil, 0, args.Error(2)
	}
	return args.Get(0).(*domain.Rental), args.Get(1).(domain.Money), args.Error(2)
}

type MockBookingService struct {
	mock.Mock
}

func (m *MockBookingService) Accept(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}
func (m *MockBookingService) Cancel(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}
func (m *MockBookingService) ExpireStale(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
