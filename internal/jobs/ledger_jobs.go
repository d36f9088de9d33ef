package jobs

import (
	"context"

	"bikefleet-backend/internal/logger"
)

// AuditLedger compares stored balances with the ledger and escalates mismatches
func (jr *JobRunner) AuditLedger() {
	jr.runWithRecovery("AuditLedger", func(ctx context.Context) error {
		mismatches, err := jr.services.Billing.AuditBalances(ctx)
		if err != nil {
			return err
		}
		if mismatches > 0 {
			logger.Warn("Ledger audit found mismatches", "count", mismatches)
		} else {
			logger.Info("Ledger audit clean")
		}
		return nil
	})
}
