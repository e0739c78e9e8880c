package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

// ErrBatchFailures is returned when a batch ran to the end but some rentals
// or payouts failed
var ErrBatchFailures = errors.New("batch finished with failures")

// ProcessWeeklyBilling bills every rental that is due. With a rental id set
// only that rental is billed.
func (jr *JobRunner) ProcessWeeklyBilling() error {
	return jr.runWithRecovery("ProcessWeeklyBilling", func(ctx context.Context) error {
		if jr.opts.RentalID != 0 {
			inv, err := jr.services.Billing.BillRental(ctx, jr.opts.RentalID, jr.opts.Force)
			if err != nil {
				return fmt.Errorf("bill rental %d: %w", jr.opts.RentalID, err)
			}
			logger.Info("Rental billed",
				"rental_id", jr.opts.RentalID,
				"invoice_number", inv.InvoiceNumber,
				"total", inv.TotalAmount)
			return nil
		}

		result, err := jr.services.Billing.ProcessWeeklyBilling(ctx)
		if err != nil {
			return err
		}
		for _, e := range result.Errors {
			logger.Warn("Rental billing failed", "rental_id", e.RentalID, "error", e.Error)
		}
		logger.Info("Weekly billing finished",
			"processed", result.Processed,
			"failed", result.Failed,
			"skipped", result.Skipped)
		if result.Failed > 0 {
			return fmt.Errorf("%w: %d of %d rentals failed", ErrBatchFailures, result.Failed, result.Processed+result.Failed)
		}
		return nil
	})
}

// MarkOverdueInvoices flags pending invoices past their due date
func (jr *JobRunner) MarkOverdueInvoices() error {
	return jr.runWithRecovery("MarkOverdueInvoices", func(ctx context.Context) error {
		invoices, err := jr.services.Billing.MarkOverdueInvoices(ctx, jr.opts.DryRun)
		for _, inv := range invoices {
			logger.Debug("Overdue invoice",
				"invoice_number", inv.InvoiceNumber,
				"rental_id", inv.RentalID,
				"due_date", utils.FormatDate(inv.DueDate),
				"dry_run", jr.opts.DryRun)
		}
		logger.Info("Overdue invoices", "count", len(invoices), "dry_run", jr.opts.DryRun)
		return err
	})
}

// BillingReport writes the invoice summary for the selected range, by
// default the current calendar month
func (jr *JobRunner) BillingReport() error {
	return jr.runWithRecovery("BillingReport", func(ctx context.Context) error {
		start, end := jr.reportRange()
		report, err := jr.services.Billing.GenerateBillingReport(ctx, start, end)
		if err != nil {
			return err
		}
		return RenderReport(jr.out, report, jr.opts.Format)
	})
}

func (jr *JobRunner) reportRange() (time.Time, time.Time) {
	today := utils.TruncateDay(jr.now().UTC())
	start, end := jr.opts.Start, jr.opts.End
	if start.IsZero() {
		start = utils.StartOfMonth(today)
	}
	if end.IsZero() {
		end = utils.EndOfMonth(start)
	}
	return start, end
}
