package memory

import (
	"context"
	"sort"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/repository"
)

type bikeRepository struct{ st *state }

func (r *bikeRepository) GetByID(ctx context.Context, id int64) (*domain.Bike, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bikes[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (r *bikeRepository) GetByCode(ctx context.Context, code string) (*domain.Bike, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	for _, b := range r.st.bikes {
		if b.Code == code {
			out := *b
			return &out, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *bikeRepository) ListAvailable(ctx context.Context, tariffID int64, city string) ([]domain.Bike, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Bike
	for _, b := range r.st.bikes {
		if b.Status != domain.BikeStatusAvailable || b.City != city {
			continue
		}
		if b.TariffID != nil && *b.TariffID != tariffID {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *bikeRepository) CompareAndSetStatus(ctx context.Context, id int64, from, to domain.BikeStatus, reason string) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bikes[id]
	if !ok {
		return repository.ErrNotFound
	}
	if b.Status != from {
		return repository.ErrStaleState
	}
	b.Status = to
	b.ServiceReason = reason
	return nil
}

type tariffRepository struct{ st *state }

func (r *tariffRepository) GetByID(ctx context.Context, id int64) (*domain.Tariff, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	t, ok := r.st.tariffs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *t
	return &out, nil
}

type bookingRepository struct{ st *state }

func (r *bookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if booking.SourceChargeID != nil {
		if _, exists := r.st.bookingSources[*booking.SourceChargeID]; exists {
			return repository.ErrDuplicate
		}
	}
	booking.ID = r.st.id()
	booking.CreatedAt = r.st.now()
	stored := *booking
	r.st.bookings[booking.ID] = &stored
	if booking.SourceChargeID != nil {
		r.st.bookingSources[*booking.SourceChargeID] = booking.ID
	}
	return nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *b
	return &out, nil
}

func (r *bookingRepository) GetBySourceCharge(ctx context.Context, chargeID string) (*domain.Booking, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	id, ok := r.st.bookingSources[chargeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *r.st.bookings[id]
	return &out, nil
}

func (r *bookingRepository) Close(ctx context.Context, id int64, status domain.BookingStatus, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	b, ok := r.st.bookings[id]
	if !ok {
		return repository.ErrNotFound
	}
	if b.Status != domain.BookingStatusActive {
		return repository.ErrStaleState
	}
	b.Status = status
	b.ClosedAt = &at
	return nil
}

func (r *bookingRepository) ExpireBefore(ctx context.Context, now time.Time) ([]domain.Booking, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.st.bookings {
		if b.Status == domain.BookingStatusActive && b.Expired(now) {
			closedAt := now
			b.Status = domain.BookingStatusCancelled
			b.ClosedAt = &closedAt
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type issueRepository struct{ st *state }

func (r *issueRepository) Create(ctx context.Context, issue *domain.ReconciliationIssue) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	if issue.Key != nil {
		for _, i := range r.st.issues {
			if i.Key != nil && *i.Key == *issue.Key {
				return repository.ErrDuplicate
			}
		}
	}
	issue.ID = r.st.id()
	issue.CreatedAt = r.st.now()
	if issue.Status == "" {
		issue.Status = domain.IssueStatusOpen
	}
	stored := *issue
	r.st.issues[issue.ID] = &stored
	return nil
}

func (r *issueRepository) ListOpen(ctx context.Context) ([]domain.ReconciliationIssue, error) {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	var out []domain.ReconciliationIssue
	for _, i := range r.st.issues {
		if i.Status == domain.IssueStatusOpen {
			out = append(out, *i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (r *issueRepository) Resolve(ctx context.Context, id int64, resolution string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()
	i, ok := r.st.issues[id]
	if !ok {
		return repository.ErrNotFound
	}
	if i.Status != domain.IssueStatusOpen {
		return repository.ErrStaleState
	}
	i.Status = domain.IssueStatusResolved
	i.Resolution = resolution
	i.ResolvedAt = &at
	return nil
}
