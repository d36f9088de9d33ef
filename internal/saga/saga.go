// Package saga runs a workflow as ordered steps with compensations. When a step
// fails, the compensations of the steps that completed run in reverse order.
package saga

import (
	"context"
	"errors"
	"fmt"

	"bikefleet-backend/internal/logger"
)

// Step is one unit of a workflow. Compensate may be nil for steps with nothing to undo,
// and must be safe to run when Action only partially applied.
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// CompensationError reports that rollback itself failed. The original step error
// is kept as Cause; Failed lists the compensations that did not complete.
type CompensationError struct {
	Saga   string
	Cause  error
	Failed map[string]error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: %d compensation(s) failed after: %v", e.Saga, len(e.Failed), e.Cause)
}

func (e *CompensationError) Unwrap() error {
	return e.Cause
}

type Saga struct {
	name  string
	steps []Step
}

func New(name string) *Saga {
	return &Saga{name: name}
}

// Add appends a step and returns the saga for chaining
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order. On the first failure it compensates the completed
// steps, including the failed one when it has a compensation, and returns the step
// error, or a *CompensationError when some compensation also failed.
func (s *Saga) Run(ctx context.Context) error {
	for i, step := range s.steps {
		err := step.Action(ctx)
		if err == nil {
			continue
		}
		logger.Debug("Saga step failed, compensating", "saga", s.name, "step", step.Name, "error", err)

		failed := s.compensate(ctx, i, err)
		if len(failed) > 0 {
			return &CompensationError{Saga: s.name, Cause: err, Failed: failed}
		}
		return err
	}
	return nil
}

func (s *Saga) compensate(ctx context.Context, failedAt int, cause error) map[string]error {
	// Compensations must run even if the request context was cancelled.
	ctx = context.WithoutCancel(ctx)
	failed := map[string]error{}

	for i := failedAt; i >= 0; i-- {
		step := s.steps[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			logger.Error("Saga compensation failed", "saga", s.name, "step", step.Name, "error", err, "cause", cause)
			failed[step.Name] = err
		}
	}
	return failed
}

// IsCompensationFailure reports whether err carries a failed rollback
func IsCompensationFailure(err error) bool {
	var ce *CompensationError
	return errors.As(err, &ce)
}
