package memory

import (
	"context"
	"sort"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type rentalRepository struct{ st *state }

func (r *rentalRepository) Create(ctx context.Context, rental *domain.Rental) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if rental.SourceKey != nil {
		if _, exists := r.st.rentalSources[*rental.SourceKey]; exists {
			return repository.ErrDuplicate
		}
	}
	if _, ok := r.st.clients[rental.ClientID]; !ok {
		return repository.ErrNotFound
	}
	rental.ID = r.st.id()
	rental.CreatedAt = r.st.now()
	rental.UpdatedAt = rental.CreatedAt
	if rental.ExtraData == nil {
		rental.ExtraData = domain.ExtraData{}
	}
	stored := copyRental(rental)
	r.st.rentals[rental.ID] = &stored
	if rental.SourceKey != nil {
		r.st.rentalSources[*rental.SourceKey] = rental.ID
	}
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int64) (*domain.Rental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyRental(rental)
	return &out, nil
}

func (r *rentalRepository) GetBySourceKey(ctx context.Context, key string) (*domain.Rental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	id, ok := r.st.rentalSources[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := copyRental(r.st.rentals[id])
	return &out, nil
}

func (r *rentalRepository) ListByClient(ctx context.Context, clientID string) ([]domain.Rental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Rental
	for _, rental := range r.st.rentals {
		if rental.ClientID == clientID {
			out = append(out, copyRental(rental))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *rentalRepository) ListDue(ctx context.Context, before time.Time) ([]domain.Rental, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Rental
	for _, rental := range r.st.rentals {
		if rental.Status == domain.RentalStatusActive && !rental.CurrentPeriodEndsAt.After(before) {
			out = append(out, copyRental(rental))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *rentalRepository) ListBatteries(ctx context.Context, rentalID int64) ([]domain.Battery, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Battery
	for _, link := range r.st.rentalBattery {
		if link.RentalID == rentalID {
			out = append(out, *r.st.batteries[link.BatteryID])
		}
	}
	return out, nil
}

func (r *rentalRepository) Delete(ctx context.Context, id int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[id]
	if !ok {
		return nil
	}
	for _, p := range r.st.payments {
		if p.RentalID != nil && *p.RentalID == id {
			return repository.ErrStaleState
		}
	}
	if rental.SourceKey != nil {
		delete(r.st.rentalSources, *rental.SourceKey)
	}
	delete(r.st.rentals, id)
	return nil
}

func (r *rentalRepository) Transition(ctx context.Context, id int64, from, to domain.RentalStatus, extra domain.ExtraData) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[id]
	if !ok {
		return repository.ErrNotFound
	}
	if rental.Status != from {
		return repository.ErrStaleState
	}
	rental.Status = to
	rental.ExtraData = rental.ExtraData.Merge(extra)
	rental.UpdatedAt = r.st.now()
	return nil
}

func (r *rentalRepository) AssignBike(ctx context.Context, rentalID, bikeID int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[rentalID]
	if !ok {
		return repository.ErrNotFound
	}
	bike, ok := r.st.bikes[bikeID]
	if !ok {
		return repository.ErrNotFound
	}
	if rental.Status != domain.RentalStatusPendingAssignment || bike.Status != domain.BikeStatusAvailable {
		return repository.ErrStaleState
	}
	bike.Status = domain.BikeStatusRented
	rental.BikeID = &bikeID
	rental.Status = domain.RentalStatusAwaitingBatteryAssignment
	rental.UpdatedAt = r.st.now()
	return nil
}

func (r *rentalRepository) AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[rentalID]
	if !ok {
		return repository.ErrNotFound
	}
	if rental.Status != domain.RentalStatusAwaitingBatteryAssignment {
		return repository.ErrStaleState
	}
	for _, id := range batteryIDs {
		b, ok := r.st.batteries[id]
		if !ok {
			return repository.ErrNotFound
		}
		if b.Status != domain.BatteryStatusAvailable {
			return repository.ErrStaleState
		}
	}
	now := r.st.now()
	for _, id := range batteryIDs {
		r.st.batteries[id].Status = domain.BatteryStatusInUse
		r.st.rentalBattery = append(r.st.rentalBattery, domain.RentalBattery{RentalID: rentalID, BatteryID: id, AssignedAt: now})
	}
	rental.Status = domain.RentalStatusAwaitingContractSigning
	rental.UpdatedAt = now
	return nil
}

func (r *rentalRepository) Extend(ctx context.Context, rentalID int64, chargeID string, days int, paid domain.Money) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[rentalID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.st.renewals[chargeID] {
		return repository.ErrDuplicate
	}
	if rental.Status.IsTerminal() {
		return repository.ErrStaleState
	}
	r.st.renewals[chargeID] = true
	rental.CurrentPeriodEndsAt = rental.CurrentPeriodEndsAt.AddDate(0, 0, days)
	rental.TotalPaid += paid
	rental.UpdatedAt = r.st.now()
	return nil
}

func (r *rentalRepository) Reject(ctx context.Context, rentalID int64, refund *domain.Payment) (domain.Money, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[rentalID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if rental.Status != domain.RentalStatusPendingAssignment {
		return 0, repository.ErrStaleState
	}
	refund.Amount = rental.TotalPaid
	refund.BalanceDelta = rental.TotalPaid
	balance, err := r.st.post(refund, repository.PostOptions{})
	if err != nil {
		return 0, err
	}
	if rental.BikeID != nil {
		if bike, ok := r.st.bikes[*rental.BikeID]; ok && bike.Status == domain.BikeStatusRented {
			bike.Status = domain.BikeStatusAvailable
		}
	}
	rental.BikeID = nil
	rental.Status = domain.RentalStatusRejected
	rental.UpdatedAt = r.st.now()
	return balance, nil
}

func (r *rentalRepository) FinalizeReturn(ctx context.Context, rentalID int64, bikeStatus domain.BikeStatus, serviceReason string, extra domain.ExtraData) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	rental, ok := r.st.rentals[rentalID]
	if !ok {
		return repository.ErrNotFound
	}
	if rental.Status != domain.RentalStatusPendingReturn && rental.Status != domain.RentalStatusOverdue {
		return repository.ErrStaleState
	}
	if rental.BikeID != nil {
		bike, ok := r.st.bikes[*rental.BikeID]
		if !ok {
			return repository.ErrNotFound
		}
		if bike.Status != domain.BikeStatusRented {
			return repository.ErrStaleState
		}
		bike.Status = bikeStatus
		bike.ServiceReason = serviceReason
	}
	for _, link := range r.st.rentalBattery {
		if link.RentalID == rentalID {
			if b, ok := r.st.batteries[link.BatteryID]; ok && b.Status == domain.BatteryStatusInUse {
				b.Status = domain.BatteryStatusAvailable
			}
		}
	}
	rental.Status = domain.RentalStatusAwaitingReturnSignature
	rental.ExtraData = rental.ExtraData.Merge(extra)
	rental.UpdatedAt = r.st.now()
	return nil
}
