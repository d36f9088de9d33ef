package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/service"
)

func paidBooking(t *testing.T, f *fixture, clientID string) *domain.Booking {
	t.Helper()
	ctx := context.Background()
	res, err := f.payments.CreateCharge(ctx, clientID, service.ChargeIntent{Kind: gateway.IntentBooking})
	require.NoError(t, err)
	f.settle(t, res.ChargeID)
	booking, err := f.repos.Bookings.GetBySourceCharge(ctx, res.ChargeID)
	require.NoError(t, err)
	return booking
}

func TestBookingService(t *testing.T) {
	ctx := context.Background()

	t.Run("AcceptKeepsCredit", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		booking := paidBooking(t, f, "c1")
		assert.Equal(t, domain.BookingStatusActive, booking.Status)
		assert.Equal(t, testNow.Add(2*time.Hour), booking.ExpiresAt)
		assert.Equal(t, domain.Money(100000), f.balance(t, "c1"))

		accepted, err := f.bookings.Accept(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCompleted, accepted.Status)
		require.NotNil(t, accepted.ClosedAt)
		assert.Equal(t, domain.Money(100000), f.balance(t, "c1"))

		_, err = f.bookings.Accept(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)
		_, err = f.bookings.Cancel(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("CancelKeepsCredit", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		booking := paidBooking(t, f, "c1")

		cancelled, err := f.bookings.Cancel(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, cancelled.Status)
		assert.Equal(t, domain.Money(100000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("ExpiredBookingCannotBeAccepted", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		booking := paidBooking(t, f, "c1")

		later := service.NewBookingService(f.repos.Bookings, service.Settings{Now: func() time.Time { return testNow.Add(3 * time.Hour) }})
		_, err := later.Accept(ctx, booking.ID)
		assert.ErrorIs(t, err, domain.ErrConflict)

		closed, err := f.repos.Bookings.GetByID(ctx, booking.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, closed.Status)
		assert.Equal(t, domain.Money(100000), f.balance(t, "c1"))
	})

	t.Run("ExpireStale", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		f.addClient("c2", 0)
		paidBooking(t, f, "c1")
		paidBooking(t, f, "c2")

		n, err := f.bookings.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		later := service.NewBookingService(f.repos.Bookings, service.Settings{Now: func() time.Time { return testNow.Add(2 * time.Hour) }})
		n, err = later.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		n, err = later.ExpireStale(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("Unknown", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.bookings.Accept(ctx, 42)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
