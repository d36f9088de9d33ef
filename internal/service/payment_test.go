package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/escalation"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/repository"
	"bikefleet-backend/internal/repository/memory"
	"bikefleet-backend/internal/service"
)

func TestPaymentService_CreateCharge(t *testing.T) {
	ctx := context.Background()

	t.Run("SplitsRentalWithBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 30000)
		bikeID := f.addBike("B-001")

		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentRental, TariffID: f.tariffID})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(20000), res.Amount)
		assert.Equal(t, domain.Money(30000), res.BalancePortion)
		assert.Equal(t, service.OutcomePending, res.Outcome)
		assert.Contains(t, res.ConfirmationURL, res.ChargeID)

		// nothing moves before the gateway confirms
		assert.Equal(t, domain.Money(30000), f.balance(t, "c1"))
		assert.Equal(t, domain.BikeStatusAvailable, f.bike(t, bikeID).Status)

		assert.Equal(t, service.OutcomeApplied, f.settle(t, res.ChargeID))
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")

		rentals := f.store.Rentals()
		require.Len(t, rentals, 1)
		assert.Equal(t, domain.RentalStatusAwaitingBatteryAssignment, rentals[0].Status)
		assert.Equal(t, tariffCost, rentals[0].TotalPaid)
		require.NotNil(t, rentals[0].BikeID)
		assert.Equal(t, bikeID, *rentals[0].BikeID)
		assert.Equal(t, domain.BikeStatusRented, f.bike(t, bikeID).Status)

		gatewayRow, err := f.repos.Ledger.GetByEntryKey(ctx, domain.GatewayEntryKey(res.ChargeID))
		require.NoError(t, err)
		assert.Equal(t, domain.Money(-20000), gatewayRow.Amount)
		assert.Equal(t, domain.Money(0), gatewayRow.BalanceDelta)
		portionRow, err := f.repos.Ledger.GetByEntryKey(ctx, domain.BalancePortionEntryKey(res.ChargeID))
		require.NoError(t, err)
		assert.Equal(t, domain.Money(-30000), portionRow.BalanceDelta)
		assert.Contains(t, f.notifier.kinds(), domain.NotifyRentalCreated)
	})

	t.Run("BalanceCoveringCostIsRejected", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 60000)
		f.addBike("B-001")

		_, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentRental, TariffID: f.tariffID})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("NoBikeIsConflict", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)

		_, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentRental, TariffID: f.tariffID})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("TopUpNeedsPositiveAmount", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)

		_, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp})
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("SavedMethodSettlesSynchronously", func(t *testing.T) {
		f := newFixture(t)
		f.addCardClient("c1", 0)

		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: 25000, UseSavedMethod: true})
		require.NoError(t, err)
		assert.Equal(t, gateway.ChargeStatusSucceeded, res.Status)
		assert.Equal(t, service.OutcomeApplied, res.Outcome)
		assert.Equal(t, domain.Money(25000), f.balance(t, "c1"))
	})

	t.Run("SavedMethodRequired", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)

		_, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: 25000, UseSavedMethod: true})
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("GatewayUnavailableLeavesNoTrace", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateCharge", mock.Anything, mock.AnythingOfType("gateway.ChargeRequest")).
			Return(nil, fmt.Errorf("%w: 503", gateway.ErrUnavailable))
		f := newFixture(t, withGateway(gw))
		f.addClient("c1", 0)
		before := len(f.store.Payments())

		_, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: 1000})
		assert.ErrorIs(t, err, domain.ErrUpstream)
		assert.ErrorIs(t, err, gateway.ErrUnavailable)
		assert.Len(t, f.store.Payments(), before)
		gw.AssertExpectations(t)
	})

	t.Run("RequestCarriesReceiptAndKey", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gateway.ChargeRequest) bool {
			return req.IdempotencyKey == "renewal:fixed" &&
				req.ReceiptPhone == "+79001234567" &&
				req.Metadata.Intent == gateway.IntentTopUp
		})).Return(&gateway.Charge{ID: "ch_1", Status: gateway.ChargeStatusPending, ConfirmationURL: "https://pay/ch_1"}, nil)
		f := newFixture(t, withGateway(gw))
		f.addClient("c1", 0)

		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: 1000, IdempotencyKey: "renewal:fixed"})
		require.NoError(t, err)
		assert.Equal(t, "https://pay/ch_1", res.ConfirmationURL)
		gw.AssertExpectations(t)
	})
}

func TestPaymentService_HandleGatewayNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("AppliedExactlyOnce", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: 50000})
		require.NoError(t, err)
		n, err := f.mockGW.Settle(res.ChargeID, nil)
		require.NoError(t, err)

		outcomes := make([]service.Outcome, 8)
		var wg sync.WaitGroup
		for i := range outcomes {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out, err := f.payments.HandleGatewayNotification(ctx, n)
				if assert.NoError(t, err) {
					outcomes[i] = out
				}
			}(i)
		}
		wg.Wait()

		applied := 0
		for _, o := range outcomes {
			if o == service.OutcomeApplied {
				applied++
			} else {
				assert.Equal(t, service.OutcomeDuplicate, o)
			}
		}
		assert.Equal(t, 1, applied)
		assert.Equal(t, domain.Money(50000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
		assert.Equal(t, 0, f.locker.Held())
	})

	t.Run("NonSuccessIsIgnored", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		n := notification("ch_1", 1000, map[string]string{"client_id": "c1"})
		n.Object.Status = "canceled"

		out, err := f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeIgnored, out)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
	})

	t.Run("UnknownClientIsEscalated", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", 1000, map[string]string{"client_id": "ghost"}))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeEscalated, out)
		assert.Equal(t, []domain.IssueKind{domain.IssueChargeNotApplied}, f.escalator.kinds())
	})

	t.Run("MissingMetadataIsEscalated", func(t *testing.T) {
		f := newFixture(t)
		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", 1000, nil))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeEscalated, out)
	})

	t.Run("UnknownTypeCreditsBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", 1500, map[string]string{"client_id": "c1", "payment_type": "gift"}))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)
		assert.Equal(t, domain.Money(1500), f.balance(t, "c1"))
	})

	t.Run("SavesReportedMethod", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		res, err := f.payments.SaveCard(ctx, "c1")
		require.NoError(t, err)
		n, err := f.mockGW.Settle(res.ChargeID, &gateway.PaymentMethod{ID: "pm_42", Type: "bank_card", Title: "Mir *0042", Saved: true})
		require.NoError(t, err)

		out, err := f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)

		client, err := f.repos.Clients.GetByID(ctx, "c1")
		require.NoError(t, err)
		require.True(t, client.HasSavedMethod())
		assert.Equal(t, "pm_42", *client.PaymentMethodID)
		assert.Equal(t, domain.Money(0), client.Balance)
		assert.Empty(t, f.store.Payments())
		assert.Contains(t, f.notifier.kinds(), domain.NotifyCardSaved)

		out, err = f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
		assert.Empty(t, f.store.Payments())
	})

	t.Run("CardVerificationWithoutMethodIsIgnored", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_v", 100, map[string]string{"client_id": "c1", "payment_type": "save_card"}))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeIgnored, out)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
		assert.Empty(t, f.store.Payments())
	})

	t.Run("NoBikeLeavesRentalPendingAssignment", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		meta := map[string]string{"client_id": "c1", "payment_type": "rental", "tariff_id": fmt.Sprint(f.tariffID)}

		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", tariffCost, meta))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)

		rentals := f.store.Rentals()
		require.Len(t, rentals, 1)
		assert.Equal(t, domain.RentalStatusPendingAssignment, rentals[0].Status)
		assert.Nil(t, rentals[0].BikeID)
		assert.Equal(t, tariffCost, rentals[0].TotalPaid)

		_, err = f.repos.Ledger.FindSucceededByChargeID(ctx, "ch_1")
		assert.NoError(t, err)
	})

	t.Run("StoreFailureIsRetriedForward", func(t *testing.T) {
		flaky := &flakyRentals{}
		f := newFixture(t, withRentals(func(r repository.RentalRepository) repository.RentalRepository {
			flaky.RentalRepository = r
			return flaky
		}))
		f.addClient("c1", 10000)
		bikeID := f.addBike("B-001")
		meta := map[string]string{"client_id": "c1", "payment_type": "rental", "tariff_id": fmt.Sprint(f.tariffID), "debit_from_balance": "100.00"}
		n := notification("ch_9", 40000, meta)

		flaky.fail(errors.New("connection reset"))
		_, err := f.payments.HandleGatewayNotification(ctx, n)
		require.ErrorIs(t, err, domain.ErrFatalInconsistency)
		assert.Equal(t, []domain.IssueKind{domain.IssueChargeNotApplied}, f.escalator.kinds())
		assert.Equal(t, domain.BikeStatusAvailable, f.bike(t, bikeID).Status)
		assert.Equal(t, domain.Money(10000), f.balance(t, "c1"))

		flaky.fail(nil)
		out, err := f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
		assert.Equal(t, domain.BikeStatusRented, f.bike(t, bikeID).Status)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("SplitDebitBelowZeroIsEscalated", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 5000)
		f.addBike("B-001")
		meta := map[string]string{"client_id": "c1", "payment_type": "rental", "tariff_id": fmt.Sprint(f.tariffID), "debit_from_balance": "100.00"}

		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", 40000, meta))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeApplied, out)
		assert.Equal(t, domain.Money(-5000), f.balance(t, "c1"))
		assert.Equal(t, []domain.IssueKind{domain.IssueNegativeBalance}, f.escalator.kinds())
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("BookingCreditsBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentBooking})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(100000), res.Amount)

		assert.Equal(t, service.OutcomeApplied, f.settle(t, res.ChargeID))
		assert.Equal(t, domain.Money(100000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
		assert.Contains(t, f.notifier.kinds(), domain.NotifyBookingCreated)
	})

	t.Run("RenewalExtendsRental", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", tariffCost)
		f.addBike("B-001")
		rental := f.activeRental(t, "c1")

		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentRenewal, RentalID: rental.ID})
		require.NoError(t, err)
		assert.Equal(t, tariffCost, res.Amount)
		f.settle(t, res.ChargeID)

		renewed, err := f.rentals.GetRental(ctx, rental.ID)
		require.NoError(t, err)
		assert.Equal(t, rental.CurrentPeriodEndsAt.AddDate(0, 0, 7), renewed.CurrentPeriodEndsAt)
		assert.Equal(t, 2*tariffCost, renewed.TotalPaid)
	})

	t.Run("RenewalOfClosedRentalKeepsBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", tariffCost+30000)
		f.addBike("B-001")
		rental := f.activeRental(t, "c1")
		_, err := f.rentals.RequestReturn(ctx, "c1", rental.ID)
		require.NoError(t, err)
		_, err = f.rentals.FinalizeReturn(ctx, service.FinalizeReturnRequest{RentalID: rental.ID, BikeStatus: domain.BikeStatusAvailable})
		require.NoError(t, err)
		_, err = f.rentals.CompleteByAdmin(ctx, rental.ID, "returned early")
		require.NoError(t, err)
		require.Equal(t, domain.Money(30000), f.balance(t, "c1"))

		meta := map[string]string{"client_id": "c1", "payment_type": "renewal", "rental_id": fmt.Sprint(rental.ID), "debit_from_balance": "300.00"}
		n := notification("ch_late", 20000, meta)
		out, err := f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeEscalated, out)
		assert.Equal(t, domain.Money(30000), f.balance(t, "c1"))
		assert.Equal(t, []domain.IssueKind{domain.IssueChargeNotApplied}, f.escalator.kinds())

		row, err := f.repos.Ledger.FindSucceededByChargeID(ctx, "ch_late")
		require.NoError(t, err)
		assert.Equal(t, domain.Money(-20000), row.Amount)
		assert.Equal(t, domain.Money(0), row.BalanceDelta)
		f.requireLedgerConsistent(t, "c1")

		out, err = f.payments.HandleGatewayNotification(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeDuplicate, out)
		assert.Equal(t, domain.Money(30000), f.balance(t, "c1"))
	})

	t.Run("RenewalOfUnknownRentalKeepsBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 30000)
		meta := map[string]string{"client_id": "c1", "payment_type": "renewal", "rental_id": "404", "debit_from_balance": "300.00"}

		out, err := f.payments.HandleGatewayNotification(ctx, notification("ch_lost", 20000, meta))
		require.NoError(t, err)
		assert.Equal(t, service.OutcomeEscalated, out)
		assert.Equal(t, domain.Money(30000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("RedeliveredFailureKeepsOneIssue", func(t *testing.T) {
		flaky := &flakyRentals{}
		store := memory.NewStore()
		f := newFixture(t,
			withEscalator(escalation.New(escalation.NewStoreSink(store.IssueRepository))),
			withRentals(func(r repository.RentalRepository) repository.RentalRepository {
				flaky.RentalRepository = r
				return flaky
			}),
		)
		f.addClient("c1", 0)
		f.addBike("B-001")
		n := notification("ch_7", tariffCost, map[string]string{"client_id": "c1", "payment_type": "rental", "tariff_id": fmt.Sprint(f.tariffID)})

		flaky.fail(errors.New("connection reset"))
		for range 3 {
			_, err := f.payments.HandleGatewayNotification(ctx, n)
			require.ErrorIs(t, err, domain.ErrFatalInconsistency)
		}

		open, err := store.IssueRepository.ListOpen(ctx)
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, domain.NotAppliedIssueKey("ch_7"), *open[0].Key)
	})
}

func TestPaymentService_ChargeFromBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 60000)
		bikeID := f.addBike("B-001")

		rental, err := f.payments.ChargeFromBalance(ctx, service.BalanceRentalRequest{ClientID: "c1", TariffID: f.tariffID})
		require.NoError(t, err)
		assert.Equal(t, domain.RentalStatusAwaitingBatteryAssignment, rental.Status)
		assert.Equal(t, testNow.AddDate(0, 0, 7), rental.CurrentPeriodEndsAt)
		assert.Equal(t, domain.Money(10000), f.balance(t, "c1"))
		assert.Equal(t, domain.BikeStatusRented, f.bike(t, bikeID).Status)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 100)
		bikeID := f.addBike("B-001")

		_, err := f.payments.ChargeFromBalance(ctx, service.BalanceRentalRequest{ClientID: "c1", TariffID: f.tariffID})
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, domain.BikeStatusAvailable, f.bike(t, bikeID).Status)
	})

	t.Run("CompensatesWhenRentalCreateFails", func(t *testing.T) {
		flaky := &flakyRentals{createErr: errors.New("disk full")}
		f := newFixture(t, withRentals(func(r repository.RentalRepository) repository.RentalRepository {
			flaky.RentalRepository = r
			return flaky
		}))
		f.addClient("c1", 60000)
		bikeID := f.addBike("B-001")

		_, err := f.payments.ChargeFromBalance(ctx, service.BalanceRentalRequest{ClientID: "c1", TariffID: f.tariffID})
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrFatalInconsistency)
		assert.Equal(t, domain.BikeStatusAvailable, f.bike(t, bikeID).Status)
		assert.Equal(t, domain.Money(60000), f.balance(t, "c1"))
		assert.Empty(t, f.store.Rentals())
		assert.Empty(t, f.escalator.kinds())
	})

	t.Run("BikesAreNeverDoubleAllocated", func(t *testing.T) {
		f := newFixture(t)
		const clients, bikes = 12, 4
		for i := range bikes {
			f.addBike(fmt.Sprintf("B-%03d", i))
		}
		for i := range clients {
			f.addClient(fmt.Sprintf("c%d", i), tariffCost)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		won := 0
		for i := range clients {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := f.payments.ChargeFromBalance(ctx, service.BalanceRentalRequest{ClientID: id, TariffID: f.tariffID})
				if err == nil {
					mu.Lock()
					won++
					mu.Unlock()
					return
				}
				assert.ErrorIs(t, err, domain.ErrConflict)
			}(fmt.Sprintf("c%d", i))
		}
		wg.Wait()

		assert.Equal(t, bikes, won)
		seen := map[int64]bool{}
		for _, r := range f.store.Rentals() {
			require.NotNil(t, r.BikeID)
			assert.False(t, seen[*r.BikeID], "bike %d allocated twice", *r.BikeID)
			seen[*r.BikeID] = true
		}
		for i := range clients {
			f.requireLedgerConsistent(t, fmt.Sprintf("c%d", i))
		}
	})

	t.Run("RenewalFromBalanceIsIdempotentPerKey", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 3*tariffCost)
		f.addBike("B-001")
		rental := f.activeRental(t, "c1")

		req := service.BalanceRentalRequest{ClientID: "c1", RentalID: rental.ID, RequestKey: "renew-balance:test"}
		_, err := f.payments.ChargeFromBalance(ctx, req)
		require.NoError(t, err)
		renewed, err := f.payments.ChargeFromBalance(ctx, req)
		require.NoError(t, err)

		assert.Equal(t, rental.CurrentPeriodEndsAt.AddDate(0, 0, 7), renewed.CurrentPeriodEndsAt)
		assert.Equal(t, tariffCost, f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
	})
}

func TestPaymentService_CreateRefund(t *testing.T) {
	ctx := context.Background()

	topUp := func(t *testing.T, f *fixture, amount domain.Money) string {
		res, err := f.payments.CreateCharge(ctx, "c1", service.ChargeIntent{Kind: gateway.IntentTopUp, Amount: amount})
		require.NoError(t, err)
		f.settle(t, res.ChargeID)
		return res.ChargeID
	}

	t.Run("FullRefundOnce", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		chargeID := topUp(t, f, 50000)

		refund, err := f.payments.CreateRefund(ctx, chargeID, 50000, "client request")
		require.NoError(t, err)
		assert.Equal(t, gateway.RefundStatusSucceeded, refund.Status)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))

		_, err = f.payments.CreateRefund(ctx, chargeID, 50000, "again")
		assert.ErrorIs(t, err, domain.ErrConflict)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("PartialRefundKeepsRemainder", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		chargeID := topUp(t, f, 50000)

		_, err := f.payments.CreateRefund(ctx, chargeID, 20000, "")
		require.NoError(t, err)
		assert.Equal(t, domain.Money(30000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("Validation", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		chargeID := topUp(t, f, 50000)

		_, err := f.payments.CreateRefund(ctx, chargeID, 0, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.payments.CreateRefund(ctx, chargeID, 50001, "")
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.payments.CreateRefund(ctx, "ch_unknown", 100, "")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("PendingRefundLeavesLedger", func(t *testing.T) {
		gw := new(MockGateway)
		f := newFixture(t, withGateway(gw))
		f.addClient("c1", 0)
		_, err := f.payments.HandleGatewayNotification(ctx, notification("ch_1", 50000, map[string]string{"client_id": "c1"}))
		require.NoError(t, err)
		gw.On("CreateRefund", mock.Anything, mock.MatchedBy(func(r gateway.RefundRequest) bool { return r.ChargeID == "ch_1" })).
			Return(&gateway.Refund{ID: "rf_1", ChargeID: "ch_1", Status: gateway.RefundStatusPending, Amount: 50000}, nil)

		refund, err := f.payments.CreateRefund(ctx, "ch_1", 50000, "")
		require.NoError(t, err)
		assert.Equal(t, gateway.RefundStatusPending, refund.Status)
		assert.Equal(t, domain.Money(50000), f.balance(t, "c1"))
	})
}

func TestPaymentService_GetBalance(t *testing.T) {
	f := newFixture(t)
	f.addClient("c1", 12345)

	balance, payments, err := f.payments.GetBalance(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(12345), balance)
	require.Len(t, payments, 1)
	assert.Equal(t, domain.PaymentTypeAdjustment, payments[0].Type)

	_, _, err = f.payments.GetBalance(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
