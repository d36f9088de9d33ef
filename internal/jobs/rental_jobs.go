package jobs

import (
	"context"

	"bikefleet-backend/internal/logger"
)

// RenewDueRentals charges active rentals whose period ended; unpaid ones go overdue
func (jr *JobRunner) RenewDueRentals() {
	jr.runWithRecovery("RenewDueRentals", func(ctx context.Context) error {
		report, err := jr.services.Renewals.RenewDue(ctx)
		if err != nil {
			return err
		}
		logger.Info("Renewal sweep finished",
			"renewed", report.Renewed,
			"pending", report.Pending,
			"overdue", report.Overdue,
			"failed", report.Failed,
		)
		return nil
	})
}
