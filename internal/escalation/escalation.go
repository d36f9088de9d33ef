// Package escalation records fatal inconsistencies, where money moved at the
// gateway but the local ledger or inventory did not follow, for manual review.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/metrics"
	"bikefleet-backend/internal/repository"
)

// Sink is one durable destination of the review queue.
type Sink interface {
	Name() string
	Record(ctx context.Context, issue *domain.ReconciliationIssue) error
}

// Escalator fans an issue out to every sink. It logs and counts every issue first,
// so an issue is never lost silently even when all sinks are down.
type Escalator struct {
	sinks []Sink
	now   func() time.Time
}

func New(sinks ...Sink) *Escalator {
	return &Escalator{sinks: sinks, now: func() time.Time { return time.Now().UTC() }}
}

// Escalate records the issue. It fails only when no sink accepted it. An issue whose
// Key the first sink already holds is not reported again.
func (e *Escalator) Escalate(ctx context.Context, issue *domain.ReconciliationIssue) error {
	if issue.Status == "" {
		issue.Status = domain.IssueStatusOpen
	}
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = e.now()
	}

	chargeID := ""
	if issue.ChargeID != nil {
		chargeID = *issue.ChargeID
	}

	var errs []error
	rest := e.sinks
	if len(e.sinks) > 0 {
		first := e.sinks[0]
		err := first.Record(ctx, issue)
		if errors.Is(err, repository.ErrDuplicate) && issue.Key != nil {
			logger.Info("Issue already recorded", "kind", issue.Kind, "charge_id", chargeID, "key", *issue.Key)
			return nil
		}
		if err != nil {
			logger.Error("Escalation sink failed", "sink", first.Name(), "kind", issue.Kind, "charge_id", chargeID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", first.Name(), err))
		}
		rest = e.sinks[1:]
	}

	args := []any{"amount", issue.Amount.String(), "detail", issue.Detail}
	if issue.ClientID != nil {
		args = append(args, "client_id", *issue.ClientID)
	}
	if issue.RentalID != nil {
		args = append(args, "rental_id", *issue.RentalID)
	}
	logger.Inconsistency(string(issue.Kind), chargeID, domain.ErrFatalInconsistency, args...)
	metrics.Inconsistencies.WithLabelValues(string(issue.Kind)).Inc()

	for _, s := range rest {
		if err := s.Record(ctx, issue); err != nil {
			logger.Error("Escalation sink failed", "sink", s.Name(), "kind", issue.Kind, "charge_id", chargeID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(e.sinks) > 0 && len(errs) == len(e.sinks) {
		return fmt.Errorf("issue was not recorded by any sink: %w", errors.Join(errs...))
	}
	return nil
}

// StoreSink keeps issues in the reconciliation_issues table, where admins resolve them.
type StoreSink struct {
	issues repository.IssueRepository
}

func NewStoreSink(issues repository.IssueRepository) *StoreSink {
	return &StoreSink{issues: issues}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Record(ctx context.Context, issue *domain.ReconciliationIssue) error {
	return s.issues.Create(ctx, issue)
}
