package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/metrics"
	"bikefleet-backend/internal/repository"
	"bikefleet-backend/internal/utils"
)

// settled is one succeeded charge being applied
type settled struct {
	chargeID string
	amount   domain.Money
	meta     gateway.Metadata
	method   *gateway.PaymentMethod
	client   *domain.Client
}

func (c *settled) total() domain.Money {
	return c.amount + c.meta.BalancePortion
}

func (c *settled) ledgerMethod() domain.PaymentMethod {
	if c.method == nil {
		return domain.PaymentMethodCard
	}
	return domain.MethodFromGateway(c.method.Type)
}

// HandleGatewayNotification applies the local effects of a succeeded charge exactly once.
// Effects are written before the gateway row, and the gateway row is what marks the
// charge applied, so a notification retried after a partial failure resumes where the
// previous attempt stopped.
func (s *paymentService) HandleGatewayNotification(ctx context.Context, n *gateway.Notification) (Outcome, error) {
	intent := metricsIntent(n)
	if !n.IsSuccess() {
		logger.Info("Ignoring gateway notification", "event", n.Event, "status", n.Object.Status, "charge_id", n.Object.ID)
		metrics.WebhookEvents.WithLabelValues(intent, string(OutcomeIgnored)).Inc()
		return OutcomeIgnored, nil
	}
	if n.Object.ID == "" {
		return "", domain.Validationf("notification has no charge id")
	}

	unlock, err := s.locker.Lock(ctx, "charge:"+n.Object.ID)
	if err != nil {
		return "", fmt.Errorf("lock charge %s: %w", n.Object.ID, err)
	}
	defer unlock()

	outcome, err := s.apply(ctx, n)
	label := string(outcome)
	if err != nil {
		label = "failed"
	}
	metrics.WebhookEvents.WithLabelValues(intent, label).Inc()
	return outcome, err
}

func (s *paymentService) apply(ctx context.Context, n *gateway.Notification) (Outcome, error) {
	chargeID := n.Object.ID
	logger.EnterMethod("PaymentService.apply", "charge_id", chargeID)

	if _, err := s.repos.Ledger.FindSucceededByChargeID(ctx, chargeID); err == nil {
		logger.Info("Charge already applied", "charge_id", chargeID)
		return OutcomeDuplicate, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return "", fmt.Errorf("look up charge %s: %w", chargeID, err)
	}

	amount, amountErr := n.Amount()
	meta, metaErr := gateway.ParseMetadata(n.Object.Metadata)
	if err := errors.Join(amountErr, metaErr); err != nil || amount <= 0 {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueChargeNotApplied,
			ChargeID: &chargeID,
			Amount:   amount,
			Detail:   fmt.Sprintf("unreadable charge notification (amount %q): %v", n.Object.Amount.Value, err),
		})
		return OutcomeEscalated, nil
	}

	client, err := s.repos.Clients.GetByID(ctx, meta.ClientID)
	if errors.Is(err, repository.ErrNotFound) {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueChargeNotApplied,
			ChargeID: &chargeID,
			ClientID: &meta.ClientID,
			Amount:   amount,
			Detail:   "charge succeeded for an unknown client",
		})
		return OutcomeEscalated, nil
	}
	if err != nil {
		return "", fmt.Errorf("load client %s: %w", meta.ClientID, err)
	}

	c := &settled{chargeID: chargeID, amount: amount, meta: meta, method: n.Method(), client: client}
	if c.method != nil && c.method.Saved && c.method.ID != "" {
		if err := s.repos.Clients.SavePaymentMethod(ctx, client.ID, c.method.ID, c.method.Title); err != nil {
			return s.notApplied(ctx, c, "save payment method", err)
		}
	}

	var outcome Outcome
	switch meta.Intent {
	case gateway.IntentRental:
		outcome, err = s.applyRental(ctx, c)
	case gateway.IntentRenewal:
		outcome, err = s.applyRenewal(ctx, c)
	case gateway.IntentBooking:
		outcome, err = s.applyBooking(ctx, c)
	case gateway.IntentInvoice:
		outcome, err = s.applyPurchase(ctx, c, domain.PaymentTypeInvoice)
	case gateway.IntentDamage:
		outcome, err = s.applyPurchase(ctx, c, domain.PaymentTypeDamage)
	case gateway.IntentSaveCard:
		outcome = s.applySaveCard(ctx, c)
	default:
		if meta.Intent != gateway.IntentTopUp {
			logger.Warn("Unknown payment type, crediting the balance", "charge_id", chargeID, "payment_type", meta.Intent)
		}
		outcome, err = s.applyCredit(ctx, c, "Balance top-up")
	}
	if err != nil {
		return s.notApplied(ctx, c, string(meta.Intent), err)
	}
	logger.ExitMethod("PaymentService.apply", "charge_id", chargeID, "intent", meta.Intent, "outcome", outcome)
	return outcome, nil
}

// notApplied escalates a store failure that happened after the money moved. The error
// is returned so the gateway retries the notification.
func (s *paymentService) notApplied(ctx context.Context, c *settled, stage string, err error) (Outcome, error) {
	s.escalate(ctx, &domain.ReconciliationIssue{
		Kind:     domain.IssueChargeNotApplied,
		ChargeID: &c.chargeID,
		ClientID: &c.client.ID,
		Amount:   c.amount,
		Detail:   fmt.Sprintf("%s: %v", stage, err),
	})
	return "", fmt.Errorf("%w: charge %s %s: %w", domain.ErrFatalInconsistency, c.chargeID, stage, err)
}

func (s *paymentService) applyRental(ctx context.Context, c *settled) (Outcome, error) {
	rental, err := s.repos.Rentals.GetBySourceKey(ctx, c.chargeID)
	if errors.Is(err, repository.ErrNotFound) {
		rental, err = s.createPaidRental(ctx, c)
	}
	if err != nil {
		return "", err
	}

	if err := s.postBalancePortion(ctx, c, domain.PaymentTypeRental, &rental.ID); err != nil {
		return "", err
	}
	if err := s.postGatewayRow(ctx, c, domain.PaymentTypeRental, -c.amount, 0, &rental.ID, nil); err != nil {
		return "", err
	}

	body := "Your rental is paid. We will assign a bike shortly."
	if rental.BikeID != nil {
		body = "Your rental is paid and a bike is reserved for you."
	}
	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyRentalCreated,
		ClientID: c.client.ID,
		Title:    "Rental paid",
		Body:     body,
		Data:     map[string]string{"rental_id": strconv.FormatInt(rental.ID, 10)},
	})
	return OutcomeApplied, nil
}

// createPaidRental makes the rental for a paid charge. Without a free bike the rental
// waits in pending_assignment for an operator.
func (s *paymentService) createPaidRental(ctx context.Context, c *settled) (*domain.Rental, error) {
	days := c.meta.Days
	if days <= 0 {
		tariff, err := s.repos.Tariffs.GetByID(ctx, c.meta.TariffID)
		if err != nil {
			return nil, fmt.Errorf("tariff %d: %w", c.meta.TariffID, err)
		}
		days = s.days(0, tariff)
	}

	now := s.settings.now()
	sourceKey := c.chargeID
	rental := &domain.Rental{
		ClientID:            c.client.ID,
		TariffID:            c.meta.TariffID,
		Status:              domain.RentalStatusPendingAssignment,
		StartsAt:            now,
		CurrentPeriodEndsAt: utils.PeriodEnd(now, days),
		TotalPaid:           c.total(),
		SourceKey:           &sourceKey,
		ExtraData:           domain.ExtraData{"charge_id": c.chargeID},
	}

	bike, err := s.inventory.Allocate(ctx, c.meta.TariffID, s.settings.city(c.client), c.meta.BikeCode)
	switch {
	case err == nil:
		rental.BikeID = &bike.ID
		rental.Status = domain.RentalStatusAwaitingBatteryAssignment
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		logger.Warn("No bike for paid rental, waiting for manual assignment", "charge_id", c.chargeID, "tariff_id", c.meta.TariffID, "reason", err)
		rental.ExtraData["assignment_note"] = err.Error()
	default:
		return nil, err
	}

	if err := s.repos.Rentals.Create(ctx, rental); err != nil {
		if bike != nil {
			if relErr := s.inventory.Release(context.WithoutCancel(ctx), bike.ID); relErr != nil {
				s.escalate(ctx, &domain.ReconciliationIssue{
					Kind:     domain.IssueCompensationFailed,
					ChargeID: &c.chargeID,
					ClientID: &c.client.ID,
					Detail:   fmt.Sprintf("bike %d reserved for a rental that was not created: %v", bike.ID, relErr),
				})
			}
		}
		if errors.Is(err, repository.ErrDuplicate) {
			return s.repos.Rentals.GetBySourceKey(ctx, c.chargeID)
		}
		return nil, fmt.Errorf("create rental: %w", err)
	}
	logger.Info("Rental created from charge", "rental_id", rental.ID, "charge_id", c.chargeID, "status", rental.Status)
	return rental, nil
}

// applyRenewal extends the paid rental. A renewal that cannot be applied is escalated
// without taking the balance part, and only the card payment is recorded.
func (s *paymentService) applyRenewal(ctx context.Context, c *settled) (Outcome, error) {
	rental, err := s.repos.Rentals.GetByID(ctx, c.meta.RentalID)
	switch {
	case errors.Is(err, repository.ErrNotFound), err == nil && rental.ClientID != c.client.ID:
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueChargeNotApplied,
			ChargeID: &c.chargeID,
			ClientID: &c.client.ID,
			Amount:   c.amount,
			Detail:   fmt.Sprintf("renewal paid for unknown rental %d", c.meta.RentalID),
		})
		return s.unappliedRenewal(ctx, c, nil)
	case err != nil:
		return "", err
	}

	days := c.meta.Days
	if days <= 0 {
		tariff, err := s.repos.Tariffs.GetByID(ctx, rental.TariffID)
		if err != nil {
			return "", fmt.Errorf("tariff %d: %w", rental.TariffID, err)
		}
		days = s.days(0, tariff)
	}
	err = s.repos.Rentals.Extend(ctx, rental.ID, c.chargeID, days, c.total())
	switch {
	case err == nil, errors.Is(err, repository.ErrDuplicate):
	case errors.Is(err, repository.ErrStaleState):
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueChargeNotApplied,
			ChargeID: &c.chargeID,
			ClientID: &c.client.ID,
			RentalID: &rental.ID,
			Amount:   c.amount,
			Detail:   fmt.Sprintf("renewal paid for rental in status %s", rental.Status),
		})
		return s.unappliedRenewal(ctx, c, &rental.ID)
	default:
		return "", fmt.Errorf("extend rental %d: %w", rental.ID, err)
	}

	if err := s.postBalancePortion(ctx, c, domain.PaymentTypeRenewal, &rental.ID); err != nil {
		return "", err
	}
	if err := s.postGatewayRow(ctx, c, domain.PaymentTypeRenewal, -c.amount, 0, &rental.ID, nil); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// unappliedRenewal records the card payment of a renewal that extended nothing so the
// charge stays visible for the refund decision.
func (s *paymentService) unappliedRenewal(ctx context.Context, c *settled, rentalID *int64) (Outcome, error) {
	if err := s.postGatewayRow(ctx, c, domain.PaymentTypeRenewal, -c.amount, 0, rentalID, nil); err != nil {
		return "", err
	}
	return OutcomeEscalated, nil
}

func (s *paymentService) applyBooking(ctx context.Context, c *settled) (Outcome, error) {
	booking, err := s.repos.Bookings.GetBySourceCharge(ctx, c.chargeID)
	if errors.Is(err, repository.ErrNotFound) {
		chargeID := c.chargeID
		booking = &domain.Booking{
			ClientID:       c.client.ID,
			Status:         domain.BookingStatusActive,
			Cost:           c.amount,
			ExpiresAt:      s.settings.now().Add(s.settings.BookingHold),
			SourceChargeID: &chargeID,
		}
		err = s.repos.Bookings.Create(ctx, booking)
		if errors.Is(err, repository.ErrDuplicate) {
			booking, err = s.repos.Bookings.GetBySourceCharge(ctx, c.chargeID)
		}
	}
	if err != nil {
		return "", fmt.Errorf("booking: %w", err)
	}

	if err := s.postGatewayRow(ctx, c, domain.PaymentTypeBooking, c.amount, c.amount, nil, &booking.ID); err != nil {
		return "", err
	}
	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyBookingCreated,
		ClientID: c.client.ID,
		Title:    "Booking paid",
		Body:     fmt.Sprintf("%s ₽ is on your balance. Visit us before %s.", c.amount, booking.ExpiresAt.Format("02.01 15:04")),
		Data:     map[string]string{"booking_id": strconv.FormatInt(booking.ID, 10)},
	})
	return OutcomeApplied, nil
}

// applyPurchase records an invoice or damage paid by card, possibly with a balance part
func (s *paymentService) applyPurchase(ctx context.Context, c *settled, typ domain.PaymentType) (Outcome, error) {
	var rentalID *int64
	if c.meta.RentalID != 0 {
		id := c.meta.RentalID
		rentalID = &id
	}
	if err := s.postBalancePortion(ctx, c, typ, rentalID); err != nil {
		return "", err
	}
	if err := s.postGatewayRow(ctx, c, typ, -c.amount, 0, rentalID, nil); err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

// applySaveCard only confirms the method stored above. The verification amount
// never reaches the ledger.
func (s *paymentService) applySaveCard(ctx context.Context, c *settled) Outcome {
	if c.method == nil || !c.method.Saved || c.method.ID == "" {
		logger.Warn("Card verification succeeded without a saved method", "charge_id", c.chargeID, "client_id", c.client.ID)
		return OutcomeIgnored
	}
	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyCardSaved,
		ClientID: c.client.ID,
		Title:    "Card saved",
		Body:     fmt.Sprintf("%s is saved for payments.", c.method.Title),
		Data:     map[string]string{"charge_id": c.chargeID},
	})
	return OutcomeApplied
}

func (s *paymentService) applyCredit(ctx context.Context, c *settled, description string) (Outcome, error) {
	if err := s.postGatewayRow(ctx, c, domain.PaymentTypeTopUp, c.amount, c.amount, nil, nil); err != nil {
		return "", err
	}
	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyBalanceTopUp,
		ClientID: c.client.ID,
		Title:    "Balance topped up",
		Body:     fmt.Sprintf("%s ₽ was added to your balance.", c.amount),
		Data:     map[string]string{"charge_id": c.chargeID, "description": description},
	})
	return OutcomeApplied, nil
}

// postBalancePortion debits the balance part of a split charge. The client already paid
// the rest, so the debit is taken even if the balance dropped since the charge was created.
func (s *paymentService) postBalancePortion(ctx context.Context, c *settled, typ domain.PaymentType, rentalID *int64) error {
	portion := c.meta.BalancePortion
	if portion <= 0 {
		return nil
	}
	chargeID := c.chargeID
	balance, dup, err := s.post(ctx, &domain.Payment{
		ClientID:        c.client.ID,
		RentalID:        rentalID,
		Amount:          -portion,
		BalanceDelta:    -portion,
		Status:          domain.PaymentStatusSucceeded,
		Type:            typ,
		Method:          domain.PaymentMethodBalance,
		GatewayChargeID: &chargeID,
		EntryKey:        domain.BalancePortionEntryKey(chargeID),
		Description:     "Balance part of a split payment",
	}, repository.PostOptions{})
	if err != nil {
		return fmt.Errorf("post balance portion: %w", err)
	}
	if !dup && balance < 0 {
		s.escalate(ctx, &domain.ReconciliationIssue{
			Kind:     domain.IssueNegativeBalance,
			ChargeID: &chargeID,
			ClientID: &c.client.ID,
			Amount:   balance,
			Detail:   fmt.Sprintf("balance part %s of a split charge exceeded the balance", portion),
		})
	}
	return nil
}

// postGatewayRow writes the row that marks the charge applied. It goes last.
func (s *paymentService) postGatewayRow(ctx context.Context, c *settled, typ domain.PaymentType, amount, delta domain.Money, rentalID, bookingID *int64) error {
	chargeID := c.chargeID
	_, dup, err := s.post(ctx, &domain.Payment{
		ClientID:        c.client.ID,
		RentalID:        rentalID,
		BookingID:       bookingID,
		Amount:          amount,
		BalanceDelta:    delta,
		Status:          domain.PaymentStatusSucceeded,
		Type:            typ,
		Method:          c.ledgerMethod(),
		GatewayChargeID: &chargeID,
		EntryKey:        domain.GatewayEntryKey(chargeID),
		Description:     describe(typ),
	}, repository.PostOptions{})
	if err != nil {
		return fmt.Errorf("post gateway row: %w", err)
	}
	if dup {
		logger.Warn("Gateway row already present", "charge_id", chargeID)
	}
	return nil
}

func describe(typ domain.PaymentType) string {
	switch typ {
	case domain.PaymentTypeRental:
		return "Rental payment"
	case domain.PaymentTypeRenewal:
		return "Rental renewal"
	case domain.PaymentTypeBooking:
		return "Booking payment"
	case domain.PaymentTypeInvoice:
		return "Invoice payment"
	case domain.PaymentTypeDamage:
		return "Damage compensation"
	}
	return "Balance top-up"
}
