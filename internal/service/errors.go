package service

import (
	"errors"
	"fmt"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/gateway"
	"bikefleet-backend/internal/repository"
)

// storeErr translates repository sentinels into the domain taxonomy
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return domain.NotFoundf("%s", what)
	case errors.Is(err, repository.ErrStaleState):
		return domain.Conflictf("%s changed concurrently or is in the wrong state", what)
	case errors.Is(err, repository.ErrDuplicate):
		return domain.Conflictf("%s already exists", what)
	case errors.Is(err, repository.ErrInsufficientBalance):
		return domain.Conflictf("insufficient balance")
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}

// gatewayErr classifies a failed gateway call. Both kinds leave no local effect.
func gatewayErr(err error, op string) error {
	if errors.Is(err, gateway.ErrRejected) {
		return fmt.Errorf("%w: %s declined: %w", domain.ErrUpstream, op, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrUpstream, op, err)
}

func fatal(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrFatalInconsistency, fmt.Sprintf(format, args...))
}
