package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/notify"
	"bikefleet-backend/internal/repository"
)

// DamageCharger bills a client for damage found on return.
type DamageCharger interface {
	ChargeForDamages(ctx context.Context, req DamageRequest) (*BillingResult, error)
}

type FinalizeReturnRequest struct {
	RentalID      int64
	BikeStatus    domain.BikeStatus
	ServiceReason string
	Defects       []string
	DamageAmount  domain.Money
	ReturnActURL  string
}

type FinalizeReturnResult struct {
	Rental *domain.Rental
	Damage *BillingResult
	// DamageError is set when the return was recorded but the damage charge failed.
	DamageError error
}

type rentalService struct {
	rentals  repository.RentalRepository
	bikes    repository.BikeRepository
	damages  DamageCharger
	notifier notify.Notifier
	settings Settings
}

func NewRentalService(
	rentals repository.RentalRepository,
	bikes repository.BikeRepository,
	damages DamageCharger,
	notifier notify.Notifier,
	settings Settings,
) RentalService {
	return &rentalService{
		rentals:  rentals,
		bikes:    bikes,
		damages:  damages,
		notifier: notifier,
		settings: settings,
	}
}

func (s *rentalService) GetRental(ctx context.Context, rentalID int64) (*domain.Rental, error) {
	rental, err := s.rentals.GetByID(ctx, rentalID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("rental %d", rentalID))
	}
	return rental, nil
}

type RentalDetails struct {
	Rental    *domain.Rental   `json:"rental"`
	Batteries []domain.Battery `json:"batteries"`
}

func (s *rentalService) GetRentalDetails(ctx context.Context, rentalID int64) (*RentalDetails, error) {
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	batteries, err := s.rentals.ListBatteries(ctx, rentalID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("batteries of rental %d", rentalID))
	}
	if batteries == nil {
		batteries = []domain.Battery{}
	}
	return &RentalDetails{Rental: rental, Batteries: batteries}, nil
}

func (s *rentalService) ListClientRentals(ctx context.Context, clientID string) ([]domain.Rental, error) {
	rentals, err := s.rentals.ListByClient(ctx, clientID)
	if err != nil {
		return nil, storeErr(err, "rentals")
	}
	return rentals, nil
}

func (s *rentalService) AssignBike(ctx context.Context, rentalID, bikeID int64) (*domain.Rental, error) {
	logger.EnterMethod("RentalService.AssignBike", "rental_id", rentalID, "bike_id", bikeID)
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(rental, domain.RentalStatusAwaitingBatteryAssignment); err != nil {
		return nil, err
	}

	bike, err := s.bikes.GetByID(ctx, bikeID)
	if err != nil {
		return nil, storeErr(err, fmt.Sprintf("bike %d", bikeID))
	}
	if err := checkRentable(bike, rental.TariffID); err != nil {
		return nil, err
	}

	if err := s.rentals.AssignBike(ctx, rentalID, bikeID); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, domain.Conflictf("bike %d or rental %d changed concurrently", bikeID, rentalID)
		}
		return nil, storeErr(err, "assign bike")
	}

	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyBikeAssigned,
		ClientID: rental.ClientID,
		Title:    "Bike assigned",
		Body:     fmt.Sprintf("Bike %s is ready for you. Batteries will be issued at pickup.", bike.Code),
		Data:     map[string]string{"rental_id": strconv.FormatInt(rentalID, 10), "bike_code": bike.Code},
	})
	logger.ExitMethod("RentalService.AssignBike", "rental_id", rentalID)
	return s.GetRental(ctx, rentalID)
}

func (s *rentalService) AssignBatteries(ctx context.Context, rentalID int64, batteryIDs []int64) (*domain.Rental, error) {
	if len(batteryIDs) == 0 {
		return nil, domain.Validationf("at least one battery is required")
	}
	seen := make(map[int64]bool, len(batteryIDs))
	for _, id := range batteryIDs {
		if seen[id] {
			return nil, domain.Validationf("battery %d listed twice", id)
		}
		seen[id] = true
	}

	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(rental, domain.RentalStatusAwaitingContractSigning); err != nil {
		return nil, err
	}

	if err := s.rentals.AssignBatteries(ctx, rentalID, batteryIDs); err != nil {
		switch {
		case errors.Is(err, repository.ErrStaleState):
			return nil, domain.Conflictf("a battery is not available or rental %d changed concurrently", rentalID)
		case errors.Is(err, repository.ErrNotFound):
			return nil, domain.NotFoundf("battery")
		}
		return nil, storeErr(err, "assign batteries")
	}

	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyBatteriesAssigned,
		ClientID: rental.ClientID,
		Title:    "Sign your rental contract",
		Body:     "Batteries are assigned. Open the app and sign the contract to start riding.",
		Data:     map[string]string{"rental_id": strconv.FormatInt(rentalID, 10)},
	})
	return s.GetRental(ctx, rentalID)
}

func (s *rentalService) ConfirmContract(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error) {
	if documentURL == "" {
		return nil, domain.Validationf("contract document is required")
	}
	rental, err := s.ownRental(ctx, clientID, rentalID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, rental, domain.RentalStatusActive, domain.ExtraData{
		"contract_url":       documentURL,
		"contract_signed_at": s.settings.now().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *rentalService) RequestReturn(ctx context.Context, clientID string, rentalID int64) (*domain.Rental, error) {
	rental, err := s.ownRental(ctx, clientID, rentalID)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, rental, domain.RentalStatusPendingReturn, domain.ExtraData{
		"return_requested_at": s.settings.now().Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (s *rentalService) MarkOverdue(ctx context.Context, rentalID int64, reason string) (*domain.Rental, error) {
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	updated, err := s.transition(ctx, rental, domain.RentalStatusOverdue, domain.ExtraData{"overdue_reason": reason})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyRenewalFailed,
		ClientID: rental.ClientID,
		Title:    "Rental overdue",
		Body:     "We could not renew your rental. Top up your balance or return the bike.",
		Data:     map[string]string{"rental_id": strconv.FormatInt(rentalID, 10)},
	})
	return updated, nil
}

func (s *rentalService) FinalizeReturn(ctx context.Context, req FinalizeReturnRequest) (*FinalizeReturnResult, error) {
	logger.EnterMethod("RentalService.FinalizeReturn", "rental_id", req.RentalID, "bike_status", req.BikeStatus)
	switch req.BikeStatus {
	case domain.BikeStatusAvailable:
	case domain.BikeStatusInService:
		if req.ServiceReason == "" {
			return nil, domain.Validationf("service reason is required when the bike goes to service")
		}
	default:
		return nil, domain.Validationf("bike status after return must be available or in_service, got %q", req.BikeStatus)
	}
	if req.DamageAmount < 0 {
		return nil, domain.Validationf("damage amount must not be negative")
	}

	rental, err := s.GetRental(ctx, req.RentalID)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(rental, domain.RentalStatusAwaitingReturnSignature); err != nil {
		return nil, err
	}

	extra := domain.ExtraData{
		"returned_at":        s.settings.now().Format("2006-01-02T15:04:05Z07:00"),
		"bike_status_return": string(req.BikeStatus),
	}
	if len(req.Defects) > 0 {
		extra["defects"] = req.Defects
	}
	if req.DamageAmount > 0 {
		extra["damage_amount"] = req.DamageAmount.String()
	}
	if req.ReturnActURL != "" {
		extra["return_act_url"] = req.ReturnActURL
	}

	if err := s.rentals.FinalizeReturn(ctx, req.RentalID, req.BikeStatus, req.ServiceReason, extra); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, domain.Conflictf("rental %d changed concurrently", req.RentalID)
		}
		return nil, storeErr(err, "finalize return")
	}

	result := &FinalizeReturnResult{}
	if req.DamageAmount > 0 {
		result.Damage, result.DamageError = s.damages.ChargeForDamages(ctx, DamageRequest{
			RentalID:    req.RentalID,
			Amount:      req.DamageAmount,
			Description: "Damage found on return",
			RequestID:   fmt.Sprintf("return-%d", req.RentalID),
		})
		if result.DamageError != nil {
			logger.Warn("Return finalized but damage charge failed", "rental_id", req.RentalID, "error", result.DamageError)
		}
	}

	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyReturnFinalized,
		ClientID: rental.ClientID,
		Title:    "Return accepted",
		Body:     "Please sign the return act in the app.",
		Data:     map[string]string{"rental_id": strconv.FormatInt(req.RentalID, 10)},
	})

	result.Rental, err = s.GetRental(ctx, req.RentalID)
	if err != nil {
		return nil, err
	}
	logger.ExitMethod("RentalService.FinalizeReturn", "rental_id", req.RentalID)
	return result, nil
}

func (s *rentalService) ConfirmReturn(ctx context.Context, clientID string, rentalID int64, documentURL string) (*domain.Rental, error) {
	rental, err := s.ownRental(ctx, clientID, rentalID)
	if err != nil {
		return nil, err
	}
	extra := domain.ExtraData{"return_signed_at": s.settings.now().Format("2006-01-02T15:04:05Z07:00")}
	if documentURL != "" {
		extra["return_signed_url"] = documentURL
	}
	return s.transition(ctx, rental, domain.RentalStatusCompleted, extra)
}

func (s *rentalService) CompleteByAdmin(ctx context.Context, rentalID int64, note string) (*domain.Rental, error) {
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	extra := domain.ExtraData{"completed_by_admin_at": s.settings.now().Format("2006-01-02T15:04:05Z07:00")}
	if note != "" {
		extra["admin_note"] = note
	}
	return s.transition(ctx, rental, domain.RentalStatusCompletedByAdmin, extra)
}

func (s *rentalService) Reject(ctx context.Context, rentalID int64, reason string) (*domain.Rental, domain.Money, error) {
	logger.EnterMethod("RentalService.Reject", "rental_id", rentalID)
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, 0, err
	}
	if err := checkTransition(rental, domain.RentalStatusRejected); err != nil {
		return nil, 0, err
	}

	description := "Refund for rejected rental"
	if reason != "" {
		description += ": " + reason
	}
	refund := &domain.Payment{
		ClientID:    rental.ClientID,
		RentalID:    &rental.ID,
		Status:      domain.PaymentStatusSucceeded,
		Type:        domain.PaymentTypeRefundToBalance,
		Method:      domain.PaymentMethodBalance,
		EntryKey:    domain.RejectRefundEntryKey(rental.ID),
		Description: description,
	}
	balance, err := s.rentals.Reject(ctx, rentalID, refund)
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) || errors.Is(err, repository.ErrDuplicate) {
			return nil, 0, domain.Conflictf("rental %d was already rejected or moved on", rentalID)
		}
		return nil, 0, storeErr(err, "reject rental")
	}

	s.notify(ctx, domain.Notification{
		Kind:     domain.NotifyRentalRejected,
		ClientID: rental.ClientID,
		Title:    "Rental cancelled",
		Body:     fmt.Sprintf("%s ₽ was returned to your balance.", rental.TotalPaid),
		Data:     map[string]string{"rental_id": strconv.FormatInt(rentalID, 10)},
	})

	updated, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, 0, err
	}
	logger.ExitMethod("RentalService.Reject", "rental_id", rentalID, "balance", balance.String())
	return updated, balance, nil
}

// ownRental loads a rental on behalf of a client. Other clients' rentals look missing.
func (s *rentalService) ownRental(ctx context.Context, clientID string, rentalID int64) (*domain.Rental, error) {
	rental, err := s.GetRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	if rental.ClientID != clientID {
		return nil, domain.NotFoundf("rental %d", rentalID)
	}
	return rental, nil
}

func (s *rentalService) transition(ctx context.Context, rental *domain.Rental, to domain.RentalStatus, extra domain.ExtraData) (*domain.Rental, error) {
	if err := checkTransition(rental, to); err != nil {
		return nil, err
	}
	if err := s.rentals.Transition(ctx, rental.ID, rental.Status, to, extra); err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, domain.Conflictf("rental %d changed concurrently", rental.ID)
		}
		return nil, storeErr(err, "rental transition")
	}
	logger.Info("Rental transitioned", "rental_id", rental.ID, "from", rental.Status, "to", to)
	return s.GetRental(ctx, rental.ID)
}

func (s *rentalService) notify(ctx context.Context, n domain.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		logger.Warn("Notification not queued", "kind", n.Kind, "client_id", n.ClientID, "error", err)
	}
}

func checkTransition(rental *domain.Rental, to domain.RentalStatus) error {
	if !rental.Status.CanTransitionTo(to) {
		return &domain.TransitionError{RentalID: rental.ID, From: rental.Status, To: to}
	}
	return nil
}
