package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warn("Failed to encode response", "error", err)
	}
}

// statusFor maps the error taxonomy onto HTTP statuses
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case errors.Is(err, domain.ErrFatalInconsistency):
		logger.Error("Request ended in a fatal inconsistency", "path", r.URL.Path, "error", err)
		msg = "payment received but not applied; the operation was sent for manual review"
	case status == http.StatusBadGateway:
		logger.Warn("Payment gateway call failed", "path", r.URL.Path, "error", err)
		msg = "payment provider is unavailable, try again"
	case status == http.StatusInternalServerError:
		logger.Error("Request failed", "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

// decode reads a JSON body of at most 1 MiB
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return domain.Validationf("invalid request payload: %v", err)
	}
	return nil
}

func missingFields(names []string) error {
	return domain.Validationf("missing required fields: %s", fmt.Sprint(names))
}
