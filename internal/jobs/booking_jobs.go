package jobs

import (
	"context"

	"bikefleet-backend/internal/logger"
)

// ExpireBookings cancels active bookings past their hold. The balance credit stays.
func (jr *JobRunner) ExpireBookings() {
	jr.runWithRecovery("ExpireBookings", func(ctx context.Context) error {
		count, err := jr.services.Bookings.ExpireStale(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			logger.Info("Expired bookings", "count", count)
		}
		return nil
	})
}
