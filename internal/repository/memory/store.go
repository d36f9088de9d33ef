// Package memory is an in-process implementation of the repository contracts.
// Every operation runs under one mutex, which makes multi-entity methods atomic.
package memory

import (
	"sync"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type state struct {
	mu sync.Mutex

	clients        map[string]*domain.Client
	payments       []*domain.Payment
	entryKeys      map[string]int
	rentals        map[int64]*domain.Rental
	rentalSources  map[string]int64
	rentalBattery  []domain.RentalBattery
	renewals       map[string]bool
	bikes          map[int64]*domain.Bike
	batteries      map[int64]*domain.Battery
	bookings       map[int64]*domain.Booking
	bookingSources map[string]int64
	tariffs        map[int64]*domain.Tariff
	issues         map[int64]*domain.ReconciliationIssue

	nextID int64
	now    func() time.Time
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

type Store struct {
	st *state
	repository.ClientRepository
	repository.LedgerRepository
	repository.RentalRepository
	repository.BikeRepository
	repository.BookingRepository
	repository.TariffRepository
	repository.IssueRepository
}

func NewStore() *Store {
	st := &state{
		clients:        map[string]*domain.Client{},
		entryKeys:      map[string]int{},
		rentals:        map[int64]*domain.Rental{},
		rentalSources:  map[string]int64{},
		renewals:       map[string]bool{},
		bikes:          map[int64]*domain.Bike{},
		batteries:      map[int64]*domain.Battery{},
		bookings:       map[int64]*domain.Booking{},
		bookingSources: map[string]int64{},
		tariffs:        map[int64]*domain.Tariff{},
		issues:         map[int64]*domain.ReconciliationIssue{},
		now:            func() time.Time { return time.Now().UTC() },
	}
	return &Store{
		st:                st,
		ClientRepository:  &clientRepository{st},
		LedgerRepository:  &ledgerRepository{st},
		RentalRepository:  &rentalRepository{st},
		BikeRepository:    &bikeRepository{st},
		BookingRepository: &bookingRepository{st},
		TariffRepository:  &tariffRepository{st},
		IssueRepository:   &issueRepository{st},
	}
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	s.st.now = now
}

// AddClient seeds a client. The balance must be backed by payments, so a
// non-zero starting balance is posted as an adjustment row.
func (s *Store) AddClient(c domain.Client) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	opening := c.Balance
	c.Balance = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.st.now()
	}
	c.UpdatedAt = c.CreatedAt
	s.st.clients[c.ID] = &c
	if opening != 0 {
		_, _ = s.st.post(&domain.Payment{
			ClientID:     c.ID,
			Amount:       opening,
			BalanceDelta: opening,
			Status:       domain.PaymentStatusSucceeded,
			Type:         domain.PaymentTypeAdjustment,
			Method:       domain.PaymentMethodBalance,
			EntryKey:     "opening:" + c.ID,
			Description:  "opening balance",
		}, repository.PostOptions{})
	}
}

// AddBike seeds a bike and returns its id.
func (s *Store) AddBike(b domain.Bike) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.st.id()
	}
	if b.Status == "" {
		b.Status = domain.BikeStatusAvailable
	}
	s.st.bikes[b.ID] = &b
	return b.ID
}

// AddBattery seeds a battery and returns its id.
func (s *Store) AddBattery(b domain.Battery) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if b.ID == 0 {
		b.ID = s.st.id()
	}
	if b.Status == "" {
		b.Status = domain.BatteryStatusAvailable
	}
	s.st.batteries[b.ID] = &b
	return b.ID
}

// AddTariff seeds a tariff and returns its id.
func (s *Store) AddTariff(t domain.Tariff) int64 {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.st.id()
	}
	s.st.tariffs[t.ID] = &t
	return t.ID
}

// Battery returns a copy of a seeded battery.
func (s *Store) Battery(id int64) (domain.Battery, bool) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	b, ok := s.st.batteries[id]
	if !ok {
		return domain.Battery{}, false
	}
	return *b, true
}

// Payments returns a copy of every ledger row.
func (s *Store) Payments() []domain.Payment {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]domain.Payment, 0, len(s.st.payments))
	for _, p := range s.st.payments {
		out = append(out, *p)
	}
	return out
}

// Rentals returns a copy of every rental.
func (s *Store) Rentals() []domain.Rental {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	out := make([]domain.Rental, 0, len(s.st.rentals))
	for _, r := range s.st.rentals {
		out = append(out, copyRental(r))
	}
	return out
}

func copyRental(r *domain.Rental) domain.Rental {
	out := *r
	out.ExtraData = domain.ExtraData{}.Merge(r.ExtraData)
	if r.BikeID != nil {
		id := *r.BikeID
		out.BikeID = &id
	}
	return out
}
