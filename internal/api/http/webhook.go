package http

import (
	"errors"
	"io"
	"net/http"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/logger"
)

// handleWebhook applies a gateway notification. A non-2xx answer makes the gateway
// redeliver, so only failures that a retry can repair return 500.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unreadable body"})
		return
	}
	n, err := gateway.ParseNotification(body)
	if err != nil {
		logger.Warn("Malformed gateway notification", "error", err)
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed notification"})
		return
	}

	outcome, err := s.services.Payments.HandleGatewayNotification(r.Context(), n)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, r, err)
			return
		}
		logger.Error("Gateway notification not applied",
			"charge_id", n.Object.ID,
			"event", n.Event,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "notification not applied"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}
