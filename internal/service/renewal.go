package service

import (
	"context"
	"errors"
	"fmt"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/utils"
)

// RenewalReport counts what one renewal sweep did.
type RenewalReport struct {
	Renewed int `json:"renewed"`
	Pending int `json:"pending"`
	Overdue int `json:"overdue"`
	Failed  int `json:"failed"`
}

type renewalService struct {
	repos    Repositories
	payments PaymentService
	rentals  RentalService
	settings Settings
}

func NewRenewalService(repos Repositories, payments PaymentService, rentals RentalService, settings Settings) RenewalService {
	return &renewalService{
		repos:    repos,
		payments: payments,
		rentals:  rentals,
		settings: settings,
	}
}

type renewalResult int

const (
	renewed renewalResult = iota
	renewalPending
	renewalOverdue
)

func (s *renewalService) RenewDue(ctx context.Context) (*RenewalReport, error) {
	logger.EnterMethod("RenewalService.RenewDue")
	due, err := s.repos.Rentals.ListDue(ctx, s.settings.now())
	if err != nil {
		return nil, storeErr(err, "due rentals")
	}

	report := &RenewalReport{}
	for i := range due {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		rental := &due[i]
		res, err := s.renew(ctx, rental)
		if err != nil {
			report.Failed++
			logger.Error("Rental renewal failed, will retry", "rental_id", rental.ID, "error", err)
			continue
		}
		switch res {
		case renewed:
			report.Renewed++
		case renewalPending:
			report.Pending++
		case renewalOverdue:
			report.Overdue++
		}
	}
	logger.ExitMethod("RenewalService.RenewDue", "due", len(due), "renewed", report.Renewed, "overdue", report.Overdue, "failed", report.Failed)
	return report, nil
}

// renew pays the next period of one rental from the balance or the saved card. Keys are
// derived from the period being paid, so a sweep repeated before the period moves does
// not pay twice.
func (s *renewalService) renew(ctx context.Context, rental *domain.Rental) (renewalResult, error) {
	client, err := s.repos.Clients.GetByID(ctx, rental.ClientID)
	if err != nil {
		return 0, storeErr(err, "client "+rental.ClientID)
	}
	tariff, err := s.repos.Tariffs.GetByID(ctx, rental.TariffID)
	if err != nil {
		return 0, storeErr(err, fmt.Sprintf("tariff %d", rental.TariffID))
	}
	days := tariff.DurationDays
	if days <= 0 {
		days = s.settings.DefaultRentalDays
	}
	cost, err := utils.RentalCost(*tariff, days)
	if err != nil {
		return 0, err
	}
	period := fmt.Sprintf("%d:%s", rental.ID, rental.CurrentPeriodEndsAt.UTC().Format("20060102T150405"))

	if client.Balance >= cost {
		_, err := s.payments.ChargeFromBalance(ctx, BalanceRentalRequest{
			ClientID:   client.ID,
			RentalID:   rental.ID,
			Days:       days,
			RequestKey: "renew-balance:" + period,
		})
		if err == nil {
			logger.Info("Rental renewed from balance", "rental_id", rental.ID, "amount", cost.String())
			return renewed, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return 0, err
		}
		// the balance dropped since it was read, try the card
	}

	if client.AutopayEnabled && client.HasSavedMethod() {
		res, err := s.payments.CreateCharge(ctx, client.ID, ChargeIntent{
			Kind:           gateway.IntentRenewal,
			RentalID:       rental.ID,
			Days:           days,
			UseSavedMethod: true,
			IdempotencyKey: "renewal:" + period,
		})
		switch {
		case err == nil && res.Outcome == OutcomePending:
			logger.Info("Renewal charge pending", "rental_id", rental.ID, "charge_id", res.ChargeID)
			return renewalPending, nil
		case err == nil:
			logger.Info("Rental renewed from saved card", "rental_id", rental.ID, "charge_id", res.ChargeID)
			return renewed, nil
		case res != nil && res.Outcome == OutcomeDeclined:
			return s.overdue(ctx, rental, "saved card declined")
		case errors.Is(err, domain.ErrValidation):
			// balance covers the cost after all, next sweep takes it from there
			return renewalPending, nil
		default:
			return 0, err
		}
	}
	return s.overdue(ctx, rental, "insufficient balance and no autopay card")
}

func (s *renewalService) overdue(ctx context.Context, rental *domain.Rental, reason string) (renewalResult, error) {
	if _, err := s.rentals.MarkOverdue(ctx, rental.ID, reason); err != nil {
		return 0, err
	}
	logger.Info("Rental marked overdue", "rental_id", rental.ID, "reason", reason)
	return renewalOverdue, nil
}
