package http

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/service"
)

// adminCommand is the union of the fields the back-office actions take.
type adminCommand struct {
	Action        string        `json:"action"`
	ClientID      string        `json:"client_id"`
	RentalID      int64         `json:"rental_id"`
	BikeID        int64         `json:"bike_id"`
	BatteryIDs    []int64       `json:"battery_ids"`
	BookingID     int64         `json:"booking_id"`
	IssueID       int64         `json:"issue_id"`
	ChargeID      string        `json:"charge_id"`
	Amount        *domain.Money `json:"amount"`
	Reason        string        `json:"reason"`
	Description   string        `json:"description"`
	RequestID     string        `json:"request_id"`
	BikeStatus    string        `json:"bike_status"`
	ServiceReason string        `json:"service_reason"`
	Defects       []string      `json:"defects"`
	DamageAmount  *domain.Money `json:"damage_amount"`
	ReturnActURL  string        `json:"return_act_url"`
	Note          string        `json:"note"`
	Resolution    string        `json:"resolution"`
}

// has reports whether a required field is present
func (c *adminCommand) has(field string) bool {
	switch field {
	case "client_id":
		return c.ClientID != ""
	case "rental_id":
		return c.RentalID != 0
	case "bike_id":
		return c.BikeID != 0
	case "battery_ids":
		return len(c.BatteryIDs) > 0
	case "booking_id":
		return c.BookingID != 0
	case "issue_id":
		return c.IssueID != 0
	case "charge_id":
		return c.ChargeID != ""
	case "amount":
		return c.Amount != nil
	case "reason":
		return c.Reason != ""
	case "description":
		return c.Description != ""
	case "bike_status":
		return c.BikeStatus != ""
	case "resolution":
		return c.Resolution != ""
	}
	return false
}

func (c *adminCommand) amount() domain.Money {
	if c.Amount == nil {
		return 0
	}
	return *c.Amount
}

type adminAction struct {
	required []string
	run      func(s *Server, ctx context.Context, c *adminCommand) (any, error)
}

var adminActions = map[string]adminAction{
	"adjust-balance": {
		required: []string{"client_id", "amount", "reason"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			balance, err := s.services.Billing.AdjustBalance(ctx, service.AdjustBalanceRequest{
				ClientID:  c.ClientID,
				Amount:    c.amount(),
				Reason:    c.Reason,
				RequestID: c.RequestID,
			})
			if err != nil {
				return nil, err
			}
			return map[string]any{"balance": balance}, nil
		},
	},
	"assign-bike": {
		required: []string{"rental_id", "bike_id"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Rentals.AssignBike(ctx, c.RentalID, c.BikeID)
		},
	},
	"assign-batteries": {
		required: []string{"rental_id", "battery_ids"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Rentals.AssignBatteries(ctx, c.RentalID, c.BatteryIDs)
		},
	},
	"create-invoice": {
		required: []string{"client_id", "amount", "description"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			req := service.InvoiceRequest{
				ClientID:    c.ClientID,
				Amount:      c.amount(),
				Description: c.Description,
				RequestID:   c.RequestID,
			}
			if c.RentalID != 0 {
				req.RentalID = &c.RentalID
			}
			return s.services.Billing.CreateInvoice(ctx, req)
		},
	},
	"create-refund": {
		required: []string{"charge_id", "amount"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			refund, err := s.services.Payments.CreateRefund(ctx, c.ChargeID, c.amount(), c.Reason)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"refund_id": refund.ID,
				"charge_id": refund.ChargeID,
				"status":    refund.Status,
				"amount":    refund.Amount,
			}, nil
		},
	},
	"reject-rental": {
		required: []string{"rental_id"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			rental, refunded, err := s.services.Rentals.Reject(ctx, c.RentalID, c.Reason)
			if err != nil {
				return nil, err
			}
			return map[string]any{"rental": rental, "refunded_to_balance": refunded}, nil
		},
	},
	"finalize-return": {
		required: []string{"rental_id", "bike_status"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			req := service.FinalizeReturnRequest{
				RentalID:      c.RentalID,
				BikeStatus:    domain.BikeStatus(c.BikeStatus),
				ServiceReason: c.ServiceReason,
				Defects:       c.Defects,
				ReturnActURL:  c.ReturnActURL,
			}
			if c.DamageAmount != nil {
				req.DamageAmount = *c.DamageAmount
			}
			res, err := s.services.Rentals.FinalizeReturn(ctx, req)
			if err != nil {
				return nil, err
			}
			body := map[string]any{"rental": res.Rental}
			if res.Damage != nil {
				body["damage"] = res.Damage
			}
			if res.DamageError != nil {
				body["damage_error"] = res.DamageError.Error()
			}
			return body, nil
		},
	},
	"charge-for-damages": {
		required: []string{"rental_id", "amount", "description"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Billing.ChargeForDamages(ctx, service.DamageRequest{
				RentalID:    c.RentalID,
				Amount:      c.amount(),
				Description: c.Description,
				RequestID:   c.RequestID,
			})
		},
	},
	"accept-booking": {
		required: []string{"booking_id"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Bookings.Accept(ctx, c.BookingID)
		},
	},
	"cancel-booking": {
		required: []string{"booking_id"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Bookings.Cancel(ctx, c.BookingID)
		},
	},
	"complete-rental": {
		required: []string{"rental_id"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			return s.services.Rentals.CompleteByAdmin(ctx, c.RentalID, c.Note)
		},
	},
	"resolve-issue": {
		required: []string{"issue_id", "resolution"},
		run: func(s *Server, ctx context.Context, c *adminCommand) (any, error) {
			if err := s.services.Billing.ResolveIssue(ctx, c.IssueID, c.Resolution); err != nil {
				return nil, err
			}
			return map[string]any{"issue_id": c.IssueID, "status": domain.IssueStatusResolved}, nil
		},
	},
}

func (s *Server) handleAdminCommand(w http.ResponseWriter, r *http.Request) {
	var cmd adminCommand
	if err := decode(w, r, &cmd); err != nil {
		writeError(w, r, err)
		return
	}

	action, ok := adminActions[cmd.Action]
	if !ok {
		if cmd.Action == "" {
			writeError(w, r, missingFields([]string{"action"}))
			return
		}
		writeError(w, r, domain.Validationf("unknown action %q", cmd.Action))
		return
	}

	var missing []string
	for _, field := range action.required {
		if !cmd.has(field) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		writeError(w, r, missingFields(missing))
		return
	}

	logger.Info("Admin command", "action", cmd.Action, "client_id", cmd.ClientID, "rental_id", cmd.RentalID)
	result, err := action.run(s, r.Context(), &cmd)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.services.Billing.ListOpenIssues(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if issues == nil {
		issues = []domain.ReconciliationIssue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (s *Server) getRental(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, r, domain.Validationf("bad rental id"))
		return
	}
	details, err := s.services.Rentals.GetRentalDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}
