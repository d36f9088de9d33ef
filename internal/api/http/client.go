package http

import (
	"net/http"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/service"
)

type clientPaymentRequest struct {
	Action       string       `json:"action"`
	PaymentType  string       `json:"payment_type"`
	Amount       domain.Money `json:"amount"`
	TariffID     int64        `json:"tariff_id"`
	BikeCode     string       `json:"bike_code"`
	Days         int          `json:"days"`
	RentalID     int64        `json:"rental_id"`
	UseSavedCard bool         `json:"use_saved_card"`
}

type chargeResponse struct {
	ChargeID        string               `json:"charge_id"`
	Status          gateway.ChargeStatus `json:"status"`
	Amount          domain.Money         `json:"amount"`
	BalancePortion  domain.Money         `json:"balance_portion"`
	ConfirmationURL string               `json:"confirmation_url,omitempty"`
	Outcome         service.Outcome      `json:"outcome,omitempty"`
}

func newChargeResponse(res *service.ChargeResult) chargeResponse {
	return chargeResponse{
		ChargeID:        res.ChargeID,
		Status:          res.Status,
		Amount:          res.Amount,
		BalancePortion:  res.BalancePortion,
		ConfirmationURL: res.ConfirmationURL,
		Outcome:         res.Outcome,
	}
}

func (s *Server) handleClientPayment(w http.ResponseWriter, r *http.Request) {
	clientID := claimsFrom(r.Context()).ClientID()

	var req clientPaymentRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	switch req.Action {
	case "create-payment":
		if req.PaymentType == "" {
			writeError(w, r, missingFields([]string{"payment_type"}))
			return
		}
		res, err := s.services.Payments.CreateCharge(r.Context(), clientID, service.ChargeIntent{
			Kind:           gateway.Intent(req.PaymentType),
			Amount:         req.Amount,
			TariffID:       req.TariffID,
			BikeCode:       req.BikeCode,
			Days:           req.Days,
			RentalID:       req.RentalID,
			UseSavedMethod: req.UseSavedCard,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newChargeResponse(res))

	case "charge-from-balance":
		if req.TariffID == 0 && req.RentalID == 0 {
			writeError(w, r, missingFields([]string{"tariff_id"}))
			return
		}
		rental, err := s.services.Payments.ChargeFromBalance(r.Context(), service.BalanceRentalRequest{
			ClientID: clientID,
			TariffID: req.TariffID,
			BikeCode: req.BikeCode,
			Days:     req.Days,
			RentalID: req.RentalID,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rental)

	case "save-card":
		res, err := s.services.Payments.SaveCard(r.Context(), clientID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newChargeResponse(res))

	case "":
		writeError(w, r, missingFields([]string{"action"}))
	default:
		writeError(w, r, domain.Validationf("unknown action %q", req.Action))
	}
}

type clientRentalRequest struct {
	Action      string `json:"action"`
	RentalID    int64  `json:"rental_id"`
	DocumentURL string `json:"document_url"`
}

func (s *Server) handleClientRental(w http.ResponseWriter, r *http.Request) {
	clientID := claimsFrom(r.Context()).ClientID()

	var req clientRentalRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.RentalID == 0 {
		writeError(w, r, missingFields([]string{"rental_id"}))
		return
	}

	var (
		rental *domain.Rental
		err    error
	)
	switch req.Action {
	case "confirm-contract":
		rental, err = s.services.Rentals.ConfirmContract(r.Context(), clientID, req.RentalID, req.DocumentURL)
	case "request-return":
		rental, err = s.services.Rentals.RequestReturn(r.Context(), clientID, req.RentalID)
	case "confirm-return":
		rental, err = s.services.Rentals.ConfirmReturn(r.Context(), clientID, req.RentalID, req.DocumentURL)
	default:
		err = domain.Validationf("unknown action %q", req.Action)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rental)
}

func (s *Server) listRentals(w http.ResponseWriter, r *http.Request) {
	rentals, err := s.services.Rentals.ListClientRentals(r.Context(), claimsFrom(r.Context()).ClientID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if rentals == nil {
		rentals = []domain.Rental{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rentals": rentals})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, payments, err := s.services.Payments.GetBalance(r.Context(), claimsFrom(r.Context()).ClientID())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if payments == nil {
		payments = []domain.Payment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balance": balance, "payments": payments})
}
