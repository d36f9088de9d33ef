package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/notify"
	"bikefleet-backend/internal/repository"
)

type AdjustBalanceRequest struct {
	ClientID string
	Amount   domain.Money // signed
	Reason   string
	// RequestID makes a repeated command a no-op. Empty means a fresh one.
	RequestID string
}

type InvoiceRequest struct {
	ClientID    string
	Amount      domain.Money
	Description string
	RentalID    *int64
	// RequestID makes a repeated command a no-op. Empty means a fresh one.
	RequestID string
}

type DamageRequest struct {
	RentalID    int64
	Amount      domain.Money
	Description string
	RequestID   string
}

// BillingResult tells how an operator charge was paid.
type BillingResult struct {
	PaidFromBalance domain.Money         `json:"paid_from_balance"`
	ChargedToCard   domain.Money         `json:"charged_to_card"`
	ChargeID        string               `json:"charge_id,omitempty"`
	Status          gateway.ChargeStatus `json:"status,omitempty"`
	Balance         domain.Money         `json:"balance"`
	// Replayed is set when the request id was already billed from the balance.
	Replayed bool `json:"replayed,omitempty"`
}

type billingService struct {
	repos     Repositories
	payments  PaymentService
	gateway   gateway.Gateway
	escalator Escalator
	notifier  notify.Notifier
	settings  Settings
}

func NewBillingService(
	repos Repositories,
	payments PaymentService,
	gw gateway.Gateway,
	escalator Escalator,
	notifier notify.Notifier,
	settings Settings,
) BillingService {
	return &billingService{
		repos:     repos,
		payments:  payments,
		gateway:   gw,
		escalator: escalator,
		notifier:  notifier,
		settings:  settings,
	}
}

func (s *billingService) AdjustBalance(ctx context.Context, req AdjustBalanceRequest) (domain.Money, error) {
	logger.EnterMethod("BillingService.AdjustBalance", "client_id", req.ClientID, "amount", req.Amount.String())
	if req.Amount == 0 {
		return 0, domain.Validationf("adjustment amount must not be zero")
	}
	if req.Reason == "" {
		return 0, domain.Validationf("adjustment reason is required")
	}
	key := req.RequestID
	if key == "" {
		key = uuid.NewString()
	}

	balance, err := s.repos.Ledger.Post(ctx, &domain.Payment{
		ClientID:     req.ClientID,
		Amount:       req.Amount,
		BalanceDelta: req.Amount,
		Status:       domain.PaymentStatusSucceeded,
		Type:         domain.PaymentTypeAdjustment,
		Method:       domain.PaymentMethodBalance,
		EntryKey:     "adjust:" + key,
		Description:  req.Reason,
	}, repository.PostOptions{RequireFunds: req.Amount < 0})
	switch {
	case errors.Is(err, repository.ErrDuplicate):
		logger.Info("Balance adjustment already applied", "client_id", req.ClientID, "request_id", key)
	case errors.Is(err, repository.ErrNotFound):
		return 0, domain.NotFoundf("client %s", req.ClientID)
	case err != nil:
		logger.ExitMethodWithError("BillingService.AdjustBalance", err, "client_id", req.ClientID)
		return 0, storeErr(err, "adjust balance")
	}
	logger.ExitMethod("BillingService.AdjustBalance", "client_id", req.ClientID, "balance", balance.String())
	return balance, nil
}

func (s *billingService) CreateInvoice(ctx context.Context, req InvoiceRequest) (*BillingResult, error) {
	logger.EnterMethod("BillingService.CreateInvoice", "client_id", req.ClientID, "amount", req.Amount.String())
	if req.Amount <= 0 {
		return nil, domain.Validationf("invoice amount must be positive")
	}
	client, err := s.client(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}
	description := req.Description
	if description == "" {
		description = "Invoice"
	}
	res, err := s.bill(ctx, client, operatorCharge{
		amount:      req.Amount,
		typ:         domain.PaymentTypeInvoice,
		intent:      gateway.IntentInvoice,
		rentalID:    req.RentalID,
		description: description,
		requestID:   req.RequestID,
	})
	if err != nil {
		logger.ExitMethodWithError("BillingService.CreateInvoice", err, "client_id", req.ClientID)
		return res, err
	}
	logger.ExitMethod("BillingService.CreateInvoice", "client_id", req.ClientID, "from_balance", res.PaidFromBalance.String(), "to_card", res.ChargedToCard.String())
	return res, nil
}

func (s *billingService) ChargeForDamages(ctx context.Context, req DamageRequest) (*BillingResult, error) {
	logger.EnterMethod("BillingService.ChargeForDamages", "rental_id", req.RentalID, "amount", req.Amount.String())
	if req.Amount <= 0 {
		return nil, domain.Validationf("damage amount must be positive")
	}
	rental, err := s.repos.Rentals.GetByID(ctx, req.RentalID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("rental %d", req.RentalID))
	}
	client, err := s.client(ctx, rental.ClientID)
	if err != nil {
		return nil, err
	}
	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Damage compensation for rental #%d", rental.ID)
	}
	res, err := s.bill(ctx, client, operatorCharge{
		amount:      req.Amount,
		typ:         domain.PaymentTypeDamage,
		intent:      gateway.IntentDamage,
		rentalID:    &rental.ID,
		description: description,
		requestID:   req.RequestID,
	})
	if err != nil {
		logger.ExitMethodWithError("BillingService.ChargeForDamages", err, "rental_id", req.RentalID)
		return res, err
	}
	if res.Replayed {
		return res, nil
	}

	if err := s.notifier.Notify(ctx, domain.Notification{
		Kind:     domain.NotifyDamageCharged,
		ClientID: client.ID,
		Title:    "Damage compensation",
		Body:     fmt.Sprintf("%s ₽ was charged for damage to the bike.", req.Amount),
		Data:     map[string]string{"rental_id": strconv.FormatInt(rental.ID, 10)},
	}); err != nil {
		logger.Warn("Notification not queued", "kind", domain.NotifyDamageCharged, "client_id", client.ID, "error", err)
	}
	logger.ExitMethod("BillingService.ChargeForDamages", "rental_id", req.RentalID, "charge_id", res.ChargeID)
	return res, nil
}

type operatorCharge struct {
	amount      domain.Money
	typ         domain.PaymentType
	intent      gateway.Intent
	rentalID    *int64
	description string
	requestID   string
}

// bill takes an operator charge from the balance when it covers the amount. Otherwise
// the positive balance is used up and the rest goes to the saved card. The request id
// keys both the balance debit and the card charge.
func (s *billingService) bill(ctx context.Context, client *domain.Client, b operatorCharge) (*BillingResult, error) {
	key := b.requestID
	if key == "" {
		key = uuid.NewString()
	}
	entryKey := string(b.typ) + ":" + key
	if b.requestID != "" {
		if res, err := s.replayed(ctx, client, entryKey); res != nil || err != nil {
			return res, err
		}
	}

	if client.Balance >= b.amount {
		balance, err := s.repos.Ledger.Post(ctx, &domain.Payment{
			ClientID:     client.ID,
			RentalID:     b.rentalID,
			Amount:       -b.amount,
			BalanceDelta: -b.amount,
			Status:       domain.PaymentStatusSucceeded,
			Type:         b.typ,
			Method:       domain.PaymentMethodBalance,
			EntryKey:     entryKey,
			Description:  b.description,
		}, repository.PostOptions{RequireFunds: true})
		if err == nil {
			return &BillingResult{PaidFromBalance: b.amount, Balance: balance}, nil
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return s.replayed(ctx, client, entryKey)
		}
		if !errors.Is(err, repository.ErrInsufficientBalance) {
			return nil, storeErr(err, "debit balance")
		}
		// balance moved underneath us, fall through to the card
		if client, err = s.client(ctx, client.ID); err != nil {
			return nil, err
		}
	}

	if !client.HasSavedMethod() {
		return nil, domain.Conflictf("balance %s does not cover %s and client %s has no saved payment method", client.Balance, b.amount, client.ID)
	}
	portion := max(client.Balance, 0)
	meta := gateway.Metadata{ClientID: client.ID, Intent: b.intent, BalancePortion: portion}
	if b.rentalID != nil {
		meta.RentalID = *b.rentalID
	}

	charge, err := sendCharge(ctx, s.gateway, s.settings, client, chargeSpec{
		amount:         b.amount - portion,
		description:    b.description,
		meta:           meta,
		useSaved:       true,
		idempotencyKey: entryKey,
	})
	if err != nil {
		return nil, err
	}
	res := &BillingResult{
		PaidFromBalance: portion,
		ChargedToCard:   b.amount - portion,
		ChargeID:        charge.ID,
		Status:          charge.Status,
	}

	switch charge.Status {
	case gateway.ChargeStatusSucceeded:
		if _, err := s.payments.HandleGatewayNotification(ctx, gateway.NotificationFromCharge(charge)); err != nil {
			return res, err
		}
	case gateway.ChargeStatusCanceled:
		s.recordDeclined(ctx, client, b, charge)
		return res, domain.Conflictf("saved card was declined for charge %s", charge.ID)
	default:
		logger.Info("Card charge pending, will be applied by notification", "charge_id", charge.ID, "client_id", client.ID)
	}

	if refreshed, err := s.repos.Clients.GetByID(ctx, client.ID); err == nil {
		res.Balance = refreshed.Balance
	}
	return res, nil
}

// replayed returns the result of a balance debit already posted under entryKey, or nil
// when there is none.
func (s *billingService) replayed(ctx context.Context, client *domain.Client, entryKey string) (*BillingResult, error) {
	row, err := s.repos.Ledger.GetByEntryKey(ctx, entryKey)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(err, "look up operator charge")
	}
	logger.Info("Operator charge already billed", "client_id", client.ID, "entry_key", entryKey)
	res := &BillingResult{PaidFromBalance: -row.BalanceDelta, Balance: client.Balance, Replayed: true}
	if refreshed, err := s.repos.Clients.GetByID(ctx, client.ID); err == nil {
		res.Balance = refreshed.Balance
	}
	return res, nil
}

// recordDeclined keeps a trace of a declined operator charge. Failed rows never touch the balance.
func (s *billingService) recordDeclined(ctx context.Context, client *domain.Client, b operatorCharge, charge *gateway.Charge) {
	chargeID := charge.ID
	_, err := s.repos.Ledger.Post(ctx, &domain.Payment{
		ClientID:        client.ID,
		RentalID:        b.rentalID,
		Amount:          -charge.Amount,
		Status:          domain.PaymentStatusFailed,
		Type:            b.typ,
		Method:          domain.PaymentMethodCard,
		GatewayChargeID: &chargeID,
		EntryKey:        string(b.typ) + "-failed:" + chargeID,
		Description:     b.description + " (declined)",
	}, repository.PostOptions{})
	if err != nil && !errors.Is(err, repository.ErrDuplicate) {
		logger.Error("Failed to record declined charge", "charge_id", chargeID, "error", err)
	}
}

func (s *billingService) ResolveIssue(ctx context.Context, issueID int64, resolution string) error {
	if resolution == "" {
		return domain.Validationf("resolution is required")
	}
	if err := s.repos.Issues.Resolve(ctx, issueID, resolution, s.settings.now()); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return domain.Conflictf("issue %d is already resolved", issueID)
		}
		return storeErr(err, fmt.Sprintf("issue %d", issueID))
	}
	logger.Info("Reconciliation issue resolved", "issue_id", issueID)
	return nil
}

func (s *billingService) ListOpenIssues(ctx context.Context) ([]domain.ReconciliationIssue, error) {
	issues, err := s.repos.Issues.ListOpen(ctx)
	if err != nil {
		return nil, storeErr(err, "issues")
	}
	return issues, nil
}

func (s *billingService) AuditBalances(ctx context.Context) (int, error) {
	logger.EnterMethod("BillingService.AuditBalances")
	ids, err := s.repos.Clients.ListIDs(ctx)
	if err != nil {
		return 0, storeErr(err, "clients")
	}
	open, err := s.repos.Issues.ListOpen(ctx)
	if err != nil {
		return 0, storeErr(err, "issues")
	}
	reported := map[string]bool{}
	for _, issue := range open {
		if issue.Kind == domain.IssueLedgerMismatch && issue.ClientID != nil {
			reported[*issue.ClientID] = true
		}
	}

	mismatches := 0
	for _, id := range ids {
		client, err := s.repos.Clients.GetByID(ctx, id)
		if err != nil {
			return mismatches, storeErr(err, "client "+id)
		}
		sum, err := s.repos.Ledger.SumBalanceDeltas(ctx, id)
		if err != nil {
			return mismatches, storeErr(err, "ledger of "+id)
		}
		if sum == client.Balance {
			continue
		}
		mismatches++
		if reported[id] {
			continue
		}
		clientID := id
		if err := s.escalator.Escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueLedgerMismatch,
			ClientID: &clientID,
			Amount:   client.Balance - sum,
			Detail:   fmt.Sprintf("stored balance %s, ledger sum %s", client.Balance, sum),
		}); err != nil {
			logger.Error("Inconsistency could not be escalated", "kind", domain.IssueLedgerMismatch, "client_id", id, "error", err)
		}
	}
	logger.ExitMethod("BillingService.AuditBalances", "clients", len(ids), "mismatches", mismatches)
	return mismatches, nil
}

func (s *billingService) client(ctx context.Context, clientID string) (*domain.Client, error) {
	if clientID == "" {
		return nil, domain.Validationf("client id is required")
	}
	client, err := s.repos.Clients.GetByID(ctx, clientID)
	if err != nil {
		return nil, storeErr(err, "client "+clientID)
	}
	return client, nil
}
