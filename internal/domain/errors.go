package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by services. Wrap one of these with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrUpstream           = errors.New("payment gateway unavailable")
	ErrFatalInconsistency = errors.New("fatal inconsistency")
)

// TransitionError reports a rental status change outside the allowed graph.
type TransitionError struct {
	RentalID int64
	From     RentalStatus
	To       RentalStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("rental %d: illegal transition %s -> %s", e.RentalID, e.From, e.To)
}

// Unwrap makes illegal transitions classify as conflicts
func (e *TransitionError) Unwrap() error {
	return ErrConflict
}

// Validationf builds a validation error with a message
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf builds a not-found error with a message
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflictf builds a conflict error with a message
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
