package jobs

import (
	"context"
	"fmt"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
)

// ProcessPayouts sends pending and retryable payouts to car owners
func (jr *JobRunner) ProcessPayouts() error {
	return jr.runWithRecovery("ProcessPayouts", func(ctx context.Context) error {
		result, err := jr.services.Payouts.ProcessPayouts(ctx)
		if err != nil {
			return err
		}
		logger.Info("Payout sweep finished",
			"completed", result.Completed,
			"failed", result.Failed,
			"failures", summarize(result.Errors))
		if result.Failed > 0 {
			return fmt.Errorf("%w: %d payouts failed", ErrBatchFailures, result.Failed)
		}
		return nil
	})
}

func summarize(errs []domain.BatchError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("rental %d: %s", e.RentalID, e.Error))
	}
	return out
}
