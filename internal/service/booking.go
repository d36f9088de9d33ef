package service

import (
	"context"
	"errors"
	"fmt"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/repository"
)

type bookingService struct {
	bookings repository.BookingRepository
	settings Settings
}

// NewBookingService manages paid visit reservations. The booking cost stays on the
// client balance whatever happens to the booking.
func NewBookingService(bookings repository.BookingRepository, settings Settings) BookingService {
	return &bookingService{bookings: bookings, settings: settings}
}

func (s *bookingService) Accept(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	booking, err := s.active(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	now := s.settings.now()
	if booking.Expired(now) {
		if err := s.close(ctx, booking, domain.BookingStatusCancelled); err != nil {
			return nil, err
		}
		return nil, domain.Conflictf("booking %d expired at %s", bookingID, booking.ExpiresAt.Format("2006-01-02 15:04"))
	}
	if err := s.close(ctx, booking, domain.BookingStatusCompleted); err != nil {
		return nil, err
	}
	return s.get(ctx, bookingID)
}

func (s *bookingService) Cancel(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	booking, err := s.active(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.close(ctx, booking, domain.BookingStatusCancelled); err != nil {
		return nil, err
	}
	return s.get(ctx, bookingID)
}

func (s *bookingService) ExpireStale(ctx context.Context) (int, error) {
	expired, err := s.bookings.ExpireBefore(ctx, s.settings.now())
	if err != nil {
		return 0, storeErr(err, "expire bookings")
	}
	for _, b := range expired {
		logger.Info("Booking expired", "booking_id", b.ID, "client_id", b.ClientID, "expires_at", b.ExpiresAt)
	}
	return len(expired), nil
}

func (s *bookingService) get(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("booking %d", bookingID))
	}
	return booking, nil
}

func (s *bookingService) active(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	booking, err := s.get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.Status != domain.BookingStatusActive {
		return nil, domain.Conflictf("booking %d is %s", bookingID, booking.Status)
	}
	return booking, nil
}

func (s *bookingService) close(ctx context.Context, booking *domain.Booking, status domain.BookingStatus) error {
	err := s.bookings.Close(ctx, booking.ID, status, s.settings.now())
	if errors.Is(err, repository.ErrStaleState) {
		return domain.Conflictf("booking %d was closed concurrently", booking.ID)
	}
	if err != nil {
		return storeErr(err, "close booking")
	}
	logger.Info("Booking closed", "booking_id", booking.ID, "status", status)
	return nil
}
