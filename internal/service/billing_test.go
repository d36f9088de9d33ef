package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/repository"
	"bikefleet-backend/internal/service"
)

func TestBillingService_AdjustBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("CreditAndDebit", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 1000)

		balance, err := f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: 4000, Reason: "goodwill"})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(5000), balance)

		balance, err = f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: -5000, Reason: "correction"})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(0), balance)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("RepeatedRequestAppliesOnce", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		req := service.AdjustBalanceRequest{ClientID: "c1", Amount: 700, Reason: "promo", RequestID: "req-1"}

		_, err := f.billing.AdjustBalance(ctx, req)
		require.NoError(t, err)
		balance, err := f.billing.AdjustBalance(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, domain.Money(700), balance)
	})

	t.Run("Rejections", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 100)

		_, err := f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: 0, Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: 10})
		assert.ErrorIs(t, err, domain.ErrValidation)
		_, err = f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: -101, Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrConflict)
		_, err = f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "ghost", Amount: 10, Reason: "x"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.Equal(t, domain.Money(100), f.balance(t, "c1"))
	})
}

func TestBillingService_CreateInvoice(t *testing.T) {
	ctx := context.Background()

	t.Run("PaidFromBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 10000)

		res, err := f.billing.CreateInvoice(ctx, service.InvoiceRequest{ClientID: "c1", Amount: 4000, Description: "Helmet"})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(4000), res.PaidFromBalance)
		assert.Zero(t, res.ChargedToCard)
		assert.Equal(t, domain.Money(6000), res.Balance)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("RemainderToSavedCard", func(t *testing.T) {
		f := newFixture(t)
		f.addCardClient("c1", 1000)

		res, err := f.billing.CreateInvoice(ctx, service.InvoiceRequest{ClientID: "c1", Amount: 4000})
		require.NoError(t, err)
		assert.Equal(t, domain.Money(1000), res.PaidFromBalance)
		assert.Equal(t, domain.Money(3000), res.ChargedToCard)
		assert.Equal(t, gateway.ChargeStatusSucceeded, res.Status)
		assert.Equal(t, domain.Money(0), res.Balance)

		row, err := f.repos.Ledger.FindSucceededByChargeID(ctx, res.ChargeID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentTypeInvoice, row.Type)
		assert.Equal(t, domain.Money(-3000), row.Amount)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("RepeatedRequestBillsOnce", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 10000)
		req := service.InvoiceRequest{ClientID: "c1", Amount: 4000, Description: "Helmet", RequestID: "inv-1"}

		_, err := f.billing.CreateInvoice(ctx, req)
		require.NoError(t, err)
		res, err := f.billing.CreateInvoice(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, domain.Money(4000), res.PaidFromBalance)
		assert.Equal(t, domain.Money(6000), res.Balance)
		assert.Equal(t, domain.Money(6000), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("RequestIDKeysCardCharge", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gateway.ChargeRequest) bool {
			return req.IdempotencyKey == "invoice:inv-2"
		})).Return(&gateway.Charge{ID: "ch_i", Status: gateway.ChargeStatusPending, Amount: 4000}, nil)
		f := newFixture(t, withGateway(gw))
		f.addCardClient("c1", 0)

		res, err := f.billing.CreateInvoice(ctx, service.InvoiceRequest{ClientID: "c1", Amount: 4000, RequestID: "inv-2"})
		require.NoError(t, err)
		assert.Equal(t, "ch_i", res.ChargeID)
		gw.AssertExpectations(t)
	})

	t.Run("NoCardNoBalance", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 1000)

		_, err := f.billing.CreateInvoice(ctx, service.InvoiceRequest{ClientID: "c1", Amount: 4000})
		assert.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, domain.Money(1000), f.balance(t, "c1"))
	})
}

func TestBillingService_ChargeForDamages(t *testing.T) {
	ctx := context.Background()

	t.Run("DeclinedCardIsRecorded", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateCharge", mock.Anything, mock.MatchedBy(func(req gateway.ChargeRequest) bool {
			return req.PaymentMethodID == "pm_c1" && req.Metadata.Intent == gateway.IntentDamage
		})).Return(&gateway.Charge{ID: "ch_d", Status: gateway.ChargeStatusCanceled, Amount: 3000}, nil)
		f := newFixture(t, withGateway(gw))
		f.addCardClient("c1", 0)
		rental := pendingRental(t, f, "c1", tariffCost)

		res, err := f.billing.ChargeForDamages(ctx, service.DamageRequest{RentalID: rental.ID, Amount: 3000})
		require.ErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, gateway.ChargeStatusCanceled, res.Status)

		row, err := f.repos.Ledger.GetByEntryKey(ctx, "damage-failed:ch_d")
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentStatusFailed, row.Status)
		assert.Equal(t, domain.Money(0), f.balance(t, "c1"))
		f.requireLedgerConsistent(t, "c1")
		gw.AssertExpectations(t)
	})

	t.Run("RepeatedRequestBillsOnce", func(t *testing.T) {
		f := newFixture(t)
		f.addClient("c1", 0)
		rental := pendingRental(t, f, "c1", tariffCost)
		_, err := f.billing.AdjustBalance(ctx, service.AdjustBalanceRequest{ClientID: "c1", Amount: 5000, Reason: "deposit"})
		require.NoError(t, err)
		req := service.DamageRequest{RentalID: rental.ID, Amount: 3000, RequestID: "dmg-1"}

		_, err = f.billing.ChargeForDamages(ctx, req)
		require.NoError(t, err)
		res, err := f.billing.ChargeForDamages(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.Equal(t, domain.Money(2000), f.balance(t, "c1"))

		damaged := 0
		for _, kind := range f.notifier.kinds() {
			if kind == domain.NotifyDamageCharged {
				damaged++
			}
		}
		assert.Equal(t, 1, damaged)
		f.requireLedgerConsistent(t, "c1")
	})

	t.Run("PendingCardCharge", func(t *testing.T) {
		gw := new(MockGateway)
		gw.On("CreateCharge", mock.Anything, mock.Anything).
			Return(&gateway.Charge{ID: "ch_p", Status: gateway.ChargeStatusPending, Amount: 3000}, nil)
		f := newFixture(t, withGateway(gw))
		f.addCardClient("c1", 0)
		rental := pendingRental(t, f, "c1", tariffCost)

		res, err := f.billing.ChargeForDamages(ctx, service.DamageRequest{RentalID: rental.ID, Amount: 3000})
		require.NoError(t, err)
		assert.Equal(t, gateway.ChargeStatusPending, res.Status)
		_, err = f.repos.Ledger.FindSucceededByChargeID(ctx, "ch_p")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("UnknownRental", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.billing.ChargeForDamages(ctx, service.DamageRequest{RentalID: 99, Amount: 3000})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestBillingService_Issues(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chargeID := "ch_1"
	require.NoError(t, f.repos.Issues.Create(ctx, &domain.ReconciliationIssue{Kind: domain.IssueChargeNotApplied, ChargeID: &chargeID}))

	open, err := f.billing.ListOpenIssues(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)

	assert.ErrorIs(t, f.billing.ResolveIssue(ctx, open[0].ID, ""), domain.ErrValidation)
	require.NoError(t, f.billing.ResolveIssue(ctx, open[0].ID, "applied by hand"))
	assert.ErrorIs(t, f.billing.ResolveIssue(ctx, open[0].ID, "again"), domain.ErrConflict)
	assert.ErrorIs(t, f.billing.ResolveIssue(ctx, 404, "x"), domain.ErrNotFound)

	open, err = f.billing.ListOpenIssues(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// skewedClients reports a balance that the ledger does not back
type skewedClients struct {
	repository.ClientRepository
	skew map[string]domain.Money
}

func (s *skewedClients) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	c, err := s.ClientRepository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Balance += s.skew[id]
	return c, nil
}

func TestBillingService_AuditBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addClient("c1", 1000)
	f.addClient("c2", 2000)

	mismatches, err := f.billing.AuditBalances(ctx)
	require.NoError(t, err)
	assert.Zero(t, mismatches)

	repos := f.repos
	repos.Clients = &skewedClients{ClientRepository: f.repos.Clients, skew: map[string]domain.Money{"c2": 500}}
	audit := service.NewBillingService(repos, f.payments, f.gw, f.escalator, f.notifier, f.settings)

	mismatches, err = audit.AuditBalances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mismatches)
	require.Len(t, f.escalator.issues, 1)
	issue := f.escalator.issues[0]
	assert.Equal(t, domain.IssueLedgerMismatch, issue.Kind)
	assert.Equal(t, "c2", *issue.ClientID)
	assert.Equal(t, domain.Money(500), issue.Amount)
}
