package service_test

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/lock"
	"bikefleet-backend/internal/repository"
	"bikefleet-backend/internal/repository/memory"
	"bikefleet-backend/internal/service"
)

const (
	testCity   = "Moscow"
	tariffCost = domain.Money(50000)
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, m domain.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

func (n *recordingNotifier) kinds() []domain.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.NotificationKind, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Kind)
	}
	return out
}

type recordingEscalator struct {
	mu     sync.Mutex
	issues []domain.ReconciliationIssue
}

func (e *recordingEscalator) Escalate(ctx context.Context, issue *domain.ReconciliationIssue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	issue.Status = domain.IssueStatusOpen
	e.issues = append(e.issues, *issue)
	return nil
}

func (e *recordingEscalator) kinds() []domain.IssueKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.IssueKind, 0, len(e.issues))
	for _, i := range e.issues {
		out = append(out, i.Kind)
	}
	return out
}

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Charge), args.Error(1)
}

func (m *MockGateway) CreateRefund(ctx context.Context, req gateway.RefundRequest) (*gateway.Refund, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Refund), args.Error(1)
}

// flakyRentals fails rental creation while createErr is set
type flakyRentals struct {
	repository.RentalRepository
	mu        sync.Mutex
	createErr error
}

func (f *flakyRentals) Create(ctx context.Context, rental *domain.Rental) error {
	f.mu.Lock()
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.RentalRepository.Create(ctx, rental)
}

func (f *flakyRentals) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createErr = err
}

type fixture struct {
	store     *memory.Store
	repos     service.Repositories
	gw        gateway.Gateway
	mockGW    *gateway.MockGateway
	locker    *lock.Local
	notifier  *recordingNotifier
	escalator *recordingEscalator
	escalate  service.Escalator
	settings  service.Settings

	inventory service.InventoryService
	payments  service.PaymentService
	billing   service.BillingService
	rentals   service.RentalService
	bookings  service.BookingService
	renewals  service.RenewalService

	tariffID int64
}

type fixtureOption func(*fixture)

func withGateway(gw gateway.Gateway) fixtureOption {
	return func(f *fixture) { f.gw = gw }
}

// withEscalator replaces the recording escalator with a real one
func withEscalator(e service.Escalator) fixtureOption {
	return func(f *fixture) { f.escalate = e }
}

func withRentals(wrap func(repository.RentalRepository) repository.RentalRepository) fixtureOption {
	return func(f *fixture) { f.repos.Rentals = wrap(f.repos.Rentals) }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.SetClock(func() time.Time { return testNow })

	f := &fixture{
		store:     store,
		mockGW:    gateway.NewMockGateway("http://localhost:8080"),
		locker:    lock.NewLocal(),
		notifier:  &recordingNotifier{},
		escalator: &recordingEscalator{},
		repos: service.Repositories{
			Clients:  store.ClientRepository,
			Ledger:   store.LedgerRepository,
			Rentals:  store.RentalRepository,
			Bikes:    store.BikeRepository,
			Bookings: store.BookingRepository,
			Tariffs:  store.TariffRepository,
			Issues:   store.IssueRepository,
		},
		settings: service.Settings{
			BookingCost:       100000,
			BookingHold:       2 * time.Hour,
			DefaultRentalDays: 7,
			SaveCardAmount:    100,
			DefaultCity:       testCity,
			ReturnURL:         "https://app.example.com/payments/return",
			Now:               func() time.Time { return testNow },
		},
	}
	f.gw = f.mockGW
	f.escalate = f.escalator
	for _, opt := range opts {
		opt(f)
	}

	f.tariffID = store.AddTariff(domain.Tariff{Name: "Week", Price: tariffCost, DurationDays: 7, Active: true})

	f.inventory = service.NewInventoryService(f.repos.Bikes, rand.New(rand.NewPCG(1, 2)))
	f.payments = service.NewPaymentService(f.repos, f.inventory, f.gw, f.locker, f.escalate, f.notifier, f.settings)
	f.billing = service.NewBillingService(f.repos, f.payments, f.gw, f.escalate, f.notifier, f.settings)
	f.rentals = service.NewRentalService(f.repos.Rentals, f.repos.Bikes, f.billing, f.notifier, f.settings)
	f.bookings = service.NewBookingService(f.repos.Bookings, f.settings)
	f.renewals = service.NewRenewalService(f.repos, f.payments, f.rentals, f.settings)
	return f
}

func (f *fixture) addClient(id string, balance domain.Money) {
	f.store.AddClient(domain.Client{ID: id, Name: "Client " + id, Phone: "8 (900) 123-45-67", City: testCity, Balance: balance})
}

func (f *fixture) addCardClient(id string, balance domain.Money) {
	method := "pm_" + id
	f.store.AddClient(domain.Client{
		ID:                 id,
		City:               testCity,
		Balance:            balance,
		PaymentMethodID:    &method,
		PaymentMethodTitle: "Visa *4242",
		AutopayEnabled:     true,
	})
}

func (f *fixture) addBike(code string) int64 {
	return f.store.AddBike(domain.Bike{Code: code, City: testCity})
}

func (f *fixture) balance(t *testing.T, clientID string) domain.Money {
	t.Helper()
	c, err := f.repos.Clients.GetByID(context.Background(), clientID)
	require.NoError(t, err)
	return c.Balance
}

// requireLedgerConsistent checks the stored balance against the ledger sum
func (f *fixture) requireLedgerConsistent(t *testing.T, clientID string) {
	t.Helper()
	sum, err := f.repos.Ledger.SumBalanceDeltas(context.Background(), clientID)
	require.NoError(t, err)
	require.Equal(t, sum, f.balance(t, clientID), "balance of %s drifted from its ledger", clientID)
}

func (f *fixture) bike(t *testing.T, id int64) *domain.Bike {
	t.Helper()
	b, err := f.repos.Bikes.GetByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

// settle confirms a pending charge at the mock gateway and delivers its notification
func (f *fixture) settle(t *testing.T, chargeID string) service.Outcome {
	t.Helper()
	n, err := f.mockGW.Settle(chargeID, nil)
	require.NoError(t, err)
	outcome, err := f.payments.HandleGatewayNotification(context.Background(), n)
	require.NoError(t, err)
	return outcome
}

// activeRental drives a paid rental to active and returns it
func (f *fixture) activeRental(t *testing.T, clientID string) *domain.Rental {
	t.Helper()
	ctx := context.Background()
	rental, err := f.payments.ChargeFromBalance(ctx, service.BalanceRentalRequest{ClientID: clientID, TariffID: f.tariffID})
	require.NoError(t, err)
	battery := f.store.AddBattery(domain.Battery{Serial: "BAT-" + clientID})
	_, err = f.rentals.AssignBatteries(ctx, rental.ID, []int64{battery})
	require.NoError(t, err)
	rental, err = f.rentals.ConfirmContract(ctx, clientID, rental.ID, "https://docs.example.com/contract.pdf")
	require.NoError(t, err)
	require.Equal(t, domain.RentalStatusActive, rental.Status)
	return rental
}

func notification(chargeID string, amount domain.Money, meta map[string]string) *gateway.Notification {
	return &gateway.Notification{
		Type:  "notification",
		Event: gateway.EventPaymentSucceeded,
		Object: gateway.NotificationObject{
			ID:       chargeID,
			Status:   string(gateway.ChargeStatusSucceeded),
			Amount:   gateway.AmountPayload{Value: amount.String(), Currency: "RUB"},
			Metadata: meta,
		},
	}
}
