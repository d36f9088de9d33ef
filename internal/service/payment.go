package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/lock"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/notify"
	"bikefleet-backend/internal/repository"
	"bikefleet-backend/internal/saga"
	"bikefleet-backend/internal/utils"
)

// Outcome is what happened to a charge notification or a charge request.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeEscalated Outcome = "escalated"
	OutcomePending   Outcome = "pending"
	OutcomeDeclined  Outcome = "declined"
)

// ChargeIntent describes what a gateway charge pays for.
type ChargeIntent struct {
	Kind     gateway.Intent
	Amount   domain.Money // top-up only
	TariffID int64
	BikeCode string
	Days     int
	RentalID int64 // renewal only
	// UseSavedMethod charges the client's saved method without a redirect.
	UseSavedMethod bool
	// IdempotencyKey overrides the fresh per-attempt key.
	IdempotencyKey string
}

type ChargeResult struct {
	ChargeID        string
	Status          gateway.ChargeStatus
	Amount          domain.Money
	BalancePortion  domain.Money
	ConfirmationURL string
	Outcome         Outcome
}

// BalanceRentalRequest pays a rental, or the renewal of RentalID, from the balance alone.
type BalanceRentalRequest struct {
	ClientID string
	TariffID int64
	BikeCode string
	Days     int
	RentalID int64
	// RequestKey makes a renewal from balance safe to repeat. Empty means a fresh key.
	RequestKey string
}

type paymentService struct {
	repos     Repositories
	inventory InventoryService
	gateway   gateway.Gateway
	locker    lock.Locker
	escalator Escalator
	notifier  notify.Notifier
	settings  Settings
}

func NewPaymentService(
	repos Repositories,
	inventory InventoryService,
	gw gateway.Gateway,
	locker lock.Locker,
	escalator Escalator,
	notifier notify.Notifier,
	settings Settings,
) PaymentService {
	return &paymentService{
		repos:     repos,
		inventory: inventory,
		gateway:   gw,
		locker:    locker,
		escalator: escalator,
		notifier:  notifier,
		settings:  settings,
	}
}

type quote struct {
	cost        domain.Money
	split       bool
	meta        gateway.Metadata
	description string
}

func (s *paymentService) CreateCharge(ctx context.Context, clientID string, intent ChargeIntent) (*ChargeResult, error) {
	logger.EnterMethod("PaymentService.CreateCharge", "client_id", clientID, "intent", intent.Kind)
	client, err := s.client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	q, err := s.quote(ctx, client, intent)
	if err != nil {
		return nil, err
	}

	amount := q.cost
	if q.split {
		if client.Balance >= q.cost {
			return nil, domain.Validationf("balance %s covers the cost %s, use charge-from-balance", client.Balance, q.cost)
		}
		if client.Balance > 0 {
			q.meta.BalancePortion = client.Balance
			amount = q.cost - client.Balance
		}
	}

	res, err := s.charge(ctx, client, chargeSpec{
		amount:         amount,
		description:    q.description,
		meta:           q.meta,
		useSaved:       intent.UseSavedMethod,
		idempotencyKey: intent.IdempotencyKey,
	})
	if err != nil {
		logger.ExitMethodWithError("PaymentService.CreateCharge", err, "client_id", clientID)
		return res, err
	}
	logger.ExitMethod("PaymentService.CreateCharge", "client_id", clientID, "charge_id", res.ChargeID, "amount", res.Amount.String(), "balance_portion", res.BalancePortion.String())
	return res, nil
}

func (s *paymentService) SaveCard(ctx context.Context, clientID string) (*ChargeResult, error) {
	client, err := s.client(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return s.charge(ctx, client, chargeSpec{
		amount:      s.settings.SaveCardAmount,
		description: "Card verification",
		meta:        gateway.Metadata{ClientID: client.ID, Intent: gateway.IntentSaveCard},
		saveMethod:  true,
	})
}

// quote prices an intent for a client
func (s *paymentService) quote(ctx context.Context, client *domain.Client, intent ChargeIntent) (*quote, error) {
	meta := gateway.Metadata{ClientID: client.ID, Intent: intent.Kind}

	switch intent.Kind {
	case gateway.IntentTopUp:
		if intent.Amount <= 0 {
			return nil, domain.Validationf("top-up amount must be positive")
		}
		return &quote{cost: intent.Amount, meta: meta, description: "Balance top-up"}, nil

	case gateway.IntentBooking:
		return &quote{cost: s.settings.BookingCost, meta: meta, description: "Bike booking"}, nil

	case gateway.IntentRental:
		tariff, err := s.tariff(ctx, intent.TariffID)
		if err != nil {
			return nil, err
		}
		days := s.days(intent.Days, tariff)
		cost, err := utils.RentalCost(*tariff, days)
		if err != nil {
			return nil, domain.Validationf("%v", err)
		}
		if _, err := s.inventory.SelectBike(ctx, tariff.ID, s.settings.city(client), intent.BikeCode); err != nil {
			return nil, err
		}
		meta.TariffID, meta.BikeCode, meta.Days = tariff.ID, intent.BikeCode, days
		return &quote{cost: cost, split: true, meta: meta, description: fmt.Sprintf("Bike rental, %s, %d days", tariff.Name, days)}, nil

	case gateway.IntentRenewal:
		rental, tariff, err := s.renewable(ctx, client.ID, intent.RentalID)
		if err != nil {
			return nil, err
		}
		days := s.days(intent.Days, tariff)
		cost, err := utils.RentalCost(*tariff, days)
		if err != nil {
			return nil, domain.Validationf("%v", err)
		}
		meta.RentalID, meta.TariffID, meta.Days = rental.ID, tariff.ID, days
		return &quote{cost: cost, split: true, meta: meta, description: fmt.Sprintf("Rental #%d renewal, %d days", rental.ID, days)}, nil
	}
	return nil, domain.Validationf("unsupported payment type %q", intent.Kind)
}

type chargeSpec struct {
	amount         domain.Money
	description    string
	meta           gateway.Metadata
	useSaved       bool
	saveMethod     bool
	idempotencyKey string
}

// sendCharge builds the gateway request for a client and sends it
func sendCharge(ctx context.Context, gw gateway.Gateway, settings Settings, client *domain.Client, spec chargeSpec) (*gateway.Charge, error) {
	if spec.amount <= 0 {
		return nil, domain.Validationf("charge amount must be positive")
	}
	req := gateway.ChargeRequest{
		Amount:            spec.amount,
		Description:       spec.description,
		Metadata:          spec.meta,
		IdempotencyKey:    spec.idempotencyKey,
		ReturnURL:         settings.ReturnURL,
		SavePaymentMethod: spec.saveMethod,
		ReceiptPhone:      client.NormalizedPhone(),
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}
	if spec.useSaved {
		if !client.HasSavedMethod() {
			return nil, domain.Conflictf("client %s has no saved payment method", client.ID)
		}
		req.PaymentMethodID = *client.PaymentMethodID
	}

	charge, err := gw.CreateCharge(ctx, req)
	if err != nil {
		return nil, gatewayErr(err, "create charge")
	}
	if charge.Metadata == nil {
		charge.Metadata = spec.meta.Map()
	}
	if charge.Amount == 0 {
		charge.Amount = spec.amount
	}
	return charge, nil
}

// charge sends one charge to the gateway. A charge that settles synchronously is
// applied through the same path as its notification.
func (s *paymentService) charge(ctx context.Context, client *domain.Client, spec chargeSpec) (*ChargeResult, error) {
	charge, err := sendCharge(ctx, s.gateway, s.settings, client, spec)
	if err != nil {
		return nil, err
	}

	res := &ChargeResult{
		ChargeID:        charge.ID,
		Status:          charge.Status,
		Amount:          spec.amount,
		BalancePortion:  spec.meta.BalancePortion,
		ConfirmationURL: charge.ConfirmationURL,
		Outcome:         OutcomePending,
	}
	switch charge.Status {
	case gateway.ChargeStatusSucceeded:
		res.Outcome, err = s.HandleGatewayNotification(ctx, gateway.NotificationFromCharge(charge))
		return res, err
	case gateway.ChargeStatusCanceled:
		res.Outcome = OutcomeDeclined
		return res, domain.Conflictf("payment %s was declined", charge.ID)
	}
	return res, nil
}

func (s *paymentService) ChargeFromBalance(ctx context.Context, req BalanceRentalRequest) (*domain.Rental, error) {
	logger.EnterMethod("PaymentService.ChargeFromBalance", "client_id", req.ClientID, "tariff_id", req.TariffID, "rental_id", req.RentalID)
	client, err := s.client(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	if req.RentalID != 0 {
		return s.renewFromBalance(ctx, client, req)
	}

	tariff, err := s.tariff(ctx, req.TariffID)
	if err != nil {
		return nil, err
	}
	days := s.days(req.Days, tariff)
	cost, err := utils.RentalCost(*tariff, days)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	if client.Balance < cost {
		return nil, domain.Conflictf("insufficient balance: %s, rental costs %s", client.Balance, cost)
	}

	attempt := "balance:" + uuid.NewString()
	city := s.settings.city(client)
	now := s.settings.now()
	var bike *domain.Bike
	var rental *domain.Rental

	workflow := saga.New("charge-from-balance").
		Add(saga.Step{
			Name: "reserve bike",
			Action: func(ctx context.Context) error {
				b, err := s.inventory.Allocate(ctx, tariff.ID, city, req.BikeCode)
				bike = b
				return err
			},
			Compensate: func(ctx context.Context) error {
				if bike == nil {
					return nil
				}
				return s.inventory.Release(ctx, bike.ID)
			},
		}).
		Add(saga.Step{
			Name: "create rental",
			Action: func(ctx context.Context) error {
				rental = &domain.Rental{
					ClientID:            client.ID,
					BikeID:              &bike.ID,
					TariffID:            tariff.ID,
					Status:              domain.RentalStatusAwaitingBatteryAssignment,
					StartsAt:            now,
					CurrentPeriodEndsAt: utils.PeriodEnd(now, days),
					TotalPaid:           cost,
					SourceKey:           &attempt,
				}
				return s.repos.Rentals.Create(ctx, rental)
			},
			Compensate: func(ctx context.Context) error {
				if rental == nil || rental.ID == 0 {
					return nil
				}
				return s.repos.Rentals.Delete(ctx, rental.ID)
			},
		}).
		Add(saga.Step{
			Name: "debit balance",
			Action: func(ctx context.Context) error {
				_, err := s.repos.Ledger.Post(ctx, &domain.Payment{
					ClientID:     client.ID,
					RentalID:     &rental.ID,
					Amount:       -cost,
					BalanceDelta: -cost,
					Status:       domain.PaymentStatusSucceeded,
					Type:         domain.PaymentTypeRental,
					Method:       domain.PaymentMethodBalance,
					EntryKey:     attempt,
					Description:  fmt.Sprintf("Rental paid from balance, %d days", days),
				}, repository.PostOptions{RequireFunds: true})
				return err
			},
		})

	if err := workflow.Run(ctx); err != nil {
		if saga.IsCompensationFailure(err) {
			issue := &domain.ReconciliationIssue{
				Kind:     domain.IssueCompensationFailed,
				ClientID: &client.ID,
				Amount:   cost,
				Detail:   fmt.Sprintf("charge from balance rollback failed: %v", err),
			}
			if rental != nil && rental.ID != 0 {
				issue.RentalID = &rental.ID
			}
			s.escalate(ctx, issue)
			return nil, fatal("rental from balance could not be rolled back: %v", err)
		}
		logger.ExitMethodWithError("PaymentService.ChargeFromBalance", err, "client_id", client.ID)
		return nil, storeErr(err, "charge from balance")
	}

	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyRentalCreated,
		ClientID: client.ID,
		Title:    "Rental paid",
		Body:     fmt.Sprintf("Bike %s is reserved for you.", bike.Code),
		Data:     map[string]string{"rental_id": strconv.FormatInt(rental.ID, 10), "bike_code": bike.Code},
	})
	logger.ExitMethod("PaymentService.ChargeFromBalance", "client_id", client.ID, "rental_id", rental.ID)
	return s.rental(ctx, rental.ID)
}

func (s *paymentService) renewFromBalance(ctx context.Context, client *domain.Client, req BalanceRentalRequest) (*domain.Rental, error) {
	rental, tariff, err := s.renewable(ctx, client.ID, req.RentalID)
	if err != nil {
		return nil, err
	}
	days := s.days(req.Days, tariff)
	cost, err := utils.RentalCost(*tariff, days)
	if err != nil {
		return nil, domain.Validationf("%v", err)
	}
	key := req.RequestKey
	if key == "" {
		key = "renewal-balance:" + uuid.NewString()
	}

	_, dup, err := s.post(ctx, &domain.Payment{
		ClientID:     client.ID,
		RentalID:     &rental.ID,
		Amount:       -cost,
		BalanceDelta: -cost,
		Status:       domain.PaymentStatusSucceeded,
		Type:         domain.PaymentTypeRenewal,
		Method:       domain.PaymentMethodBalance,
		EntryKey:     key,
		Description:  fmt.Sprintf("Renewal paid from balance, %d days", days),
	}, repository.PostOptions{RequireFunds: true})
	if err != nil {
		return nil, storeErr(err, "renewal debit")
	}
	if dup {
		logger.Info("Renewal debit already posted, finishing extension", "rental_id", rental.ID, "key", key)
	}

	if err := s.repos.Rentals.Extend(ctx, rental.ID, key, days, cost); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueChargeNotApplied,
			ClientID: &client.ID,
			RentalID: &rental.ID,
			Amount:   cost,
			Detail:   fmt.Sprintf("balance debited under %s but rental not extended: %v", key, err),
		})
		return nil, fatal("rental %d paid but not extended: %v", rental.ID, err)
	}
	return s.rental(ctx, rental.ID)
}

func (s *paymentService) CreateRefund(ctx context.Context, chargeID string, amount domain.Money, reason string) (*gateway.Refund, error) {
	logger.EnterMethod("PaymentService.CreateRefund", "charge_id", chargeID, "amount", amount.String())
	if chargeID == "" {
		return nil, domain.Validationf("charge id is required")
	}
	if amount <= 0 {
		return nil, domain.Validationf("refund amount must be positive")
	}
	payment, err := s.repos.Ledger.FindSucceededByChargeID(ctx, chargeID)
	if err != nil {
		return nil, storeErr(err, "payment for charge "+chargeID)
	}
	if payment.Status == domain.PaymentStatusRefunded {
		return nil, domain.Conflictf("charge %s is already refunded", chargeID)
	}
	if amount > payment.Amount.Abs() {
		return nil, domain.Validationf("refund %s exceeds charged amount %s", amount, payment.Amount.Abs())
	}

	refund, err := s.gateway.CreateRefund(ctx, gateway.RefundRequest{
		ChargeID:       chargeID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, gatewayErr(err, "create refund")
	}
	if refund.Status != gateway.RefundStatusSucceeded {
		logger.Info("Refund accepted by gateway, not final yet", "charge_id", chargeID, "refund_id", refund.ID, "status", refund.Status)
		return refund, nil
	}

	balance, err := s.repos.Ledger.MarkRefunded(ctx, chargeID, amount)
	if err != nil {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueRefundNotRecorded,
			ChargeID: &chargeID,
			ClientID: &payment.ClientID,
			Amount:   amount,
			Detail:   fmt.Sprintf("refund %s succeeded at the gateway but the payment was not marked: %v", refund.ID, err),
		})
		return refund, fatal("refund %s not recorded: %v", refund.ID, err)
	}
	if balance < 0 {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueNegativeBalance,
			ChargeID: &chargeID,
			ClientID: &payment.ClientID,
			Amount:   balance,
			Detail:   "refund of a top-up left the balance negative",
		})
	}
	logger.ExitMethod("PaymentService.CreateRefund", "charge_id", chargeID, "refund_id", refund.ID)
	return refund, nil
}

func (s *paymentService) GetBalance(ctx context.Context, clientID string) (domain.Money, []domain.Payment, error) {
	client, err := s.client(ctx, clientID)
	if err != nil {
		return 0, nil, err
	}
	payments, err := s.repos.Ledger.ListByClient(ctx, clientID)
	if err != nil {
		return 0, nil, storeErr(err, "payments")
	}
	return client.Balance, payments, nil
}

func (s *paymentService) client(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, domain.Validationf("client id is required")
	}
	client, err := s.repos.Clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, storeErr(err, "client "+clientID)
	}
	return client, nil
}

func (s *paymentService) tariff(ctx context.Context, id int64) (*domain.Tariff, error) {
	if id == 0 {
		return nil, domain.Validationf("tariff id is required")
	}
	tariff, err := s.repos.Tariffs.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("tariff %d", id))
	}
	if !tariff.Active {
		return nil, domain.Conflictf("tariff %d is not available", id)
	}
	return tariff, nil
}

func (s *paymentService) rental(ctx context.Context, id int64) (*domain.Rental, error) {
	rental, err := s.repos.Rentals.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("rental %d", id))
	}
	return rental, nil
}

// renewable loads a client's rental that can still be extended and its tariff
func (s *paymentService) renewable(ctx context.Context, clientID string, rentalID int64) (*domain.Rental, *domain.Tariff, error) {
	if rentalID == 0 {
		return nil, nil, domain.Validationf("rental id is required")
	}
	rental, err := s.rental(ctx, rentalID)
	if err != nil {
		return nil, nil, err
	}
	if rental.ClientID != clientID {
		return nil, nil, domain.NotFoundf("rental %d", rentalID)
	}
	if rental.Status != domain.RentalStatusActive && rental.Status != domain.RentalStatusOverdue {
		return nil, nil, domain.Conflictf("rental %d is %s and cannot be renewed", rentalID, rental.Status)
	}
	tariff, err := s.repos.Tariffs.GetByID(ctx, rental.TariffID)
	if err != nil {
		return nil, nil, storeErr(err, fmt.Sprintf("tariff %d", rental.TariffID))
	}
	return rental, tariff, nil
}

func (s *paymentService) days(requested int, tariff *domain.Tariff) int {
	switch {
	case requested > 0:
		return requested
	case tariff.DurationDays > 0:
		return tariff.DurationDays
	}
	return s.settings.DefaultRentalDays
}

func (s *paymentService) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		logger.Warn("Notification not queued", "kind", n.Kind, "client_id", n.ClientID, "error", err)
	}
}

// escalate records an issue. A charge whose effects are missing keeps a single issue
// however often the gateway redelivers it.
func (s *paymentService) escalate(ctx context.Context, issue *domain.ReconciliationIssue) {
	if issue.Kind == domain.IssueChargeNotApplied && issue.ChargeID != nil && issue.Key == nil {
		key := domain.NotAppliedIssueKey(*issue.ChargeID)
		issue.Key = &key
	}
	if err := s.escalator.Escalate(context.WithoutCancel(ctx), issue); err != nil {
		logger.Error("Inconsistency could not be escalated", "kind", issue.Kind, "error", err)
	}
}

// post writes a ledger row. A row already posted under the same entry key is reported
// as dup instead of an error.
func (s *paymentService) post(ctx context.Context, p *domain.Payment, opts repository.PostOptions) (domain.Money, bool, error) {
	balance, err := s.repos.Ledger.Post(ctx, p, opts)
	if errors.Is(err, repository.ErrDuplicate) {
		return balance, true, nil
	}
	return balance, false, err
}

func metricsIntent(n *gateway.Notification) string {
	if v := n.Object.Metadata["payment_type"]; v != "" {
		return v
	}
	return string(gateway.IntentTopUp)
}
