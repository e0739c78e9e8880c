package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"rental-billing-engine/internal/billing"
	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

// ErrNothingToBill is returned when a rental is not due or already billed
// through its end date
var ErrNothingToBill = errors.New("nothing to bill")

type billingService struct {
	deps     *Dependencies
	calc     *billing.Calculator
	gen      *billing.Generator
	payments PaymentService
}

func NewBillingService(deps *Dependencies, calc *billing.Calculator, gen *billing.Generator, payments PaymentService) BillingService {
	return &billingService{deps: deps, calc: calc, gen: gen, payments: payments}
}

// ProcessWeeklyBilling bills every rental whose next billing date has come,
// bounded by the configured worker count. A failing rental is recorded in
// the result and never affects the others.
func (s *billingService) ProcessWeeklyBilling(ctx context.Context) (*domain.BatchResult, error) {
	log := logger.WithService("billing")
	today := s.deps.today()
	log.Info("Starting billing batch", "as_of", utils.FormatDate(today))

	due, err := s.deps.Repos.Rentals.ListDueForBilling(ctx, today)
	if err != nil {
		return nil, fmt.Errorf("list rentals due for billing: %w", err)
	}

	var (
		mu     sync.Mutex
		result = &domain.BatchResult{Errors: []domain.BatchError{}}
		g      errgroup.Group
	)
	workers := s.deps.Policy.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)

	for _, r := range due {
		rentalID := r.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			inv, err := s.billRental(ctx, rentalID, false)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, ErrNothingToBill), errors.Is(err, lock.ErrNotAcquired):
				result.Skipped++
				logger.WithRental(rentalID).Info("Rental skipped", "reason", err)
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, domain.BatchError{RentalID: rentalID, Error: err.Error()})
				logger.WithRental(rentalID).Error("Failed to bill rental", "error", err)
			default:
				result.Processed++
				logger.WithRental(rentalID).Info("Rental billed", "invoice_number", inv.InvoiceNumber, "total", inv.TotalAmount)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Errors, func(i, j int) bool { return result.Errors[i].RentalID < result.Errors[j].RentalID })
	log.Info("Billing batch finished", "processed", result.Processed, "failed", result.Failed, "skipped", result.Skipped)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *billingService) BillRental(ctx context.Context, rentalID int32, force bool) (*domain.Invoice, error) {
	logger.EnterMethod("billingService.BillRental", "rentalID", rentalID, "force", force)
	inv, err := s.billRental(ctx, rentalID, force)
	if err != nil {
		logger.ExitMethodWithError("billingService.BillRental", err, "rentalID", rentalID)
		return inv, err
	}
	logger.ExitMethod("billingService.BillRental", "invoiceNumber", inv.InvoiceNumber)
	return inv, nil
}

// billRental runs the per-rental pipeline in one unit of work. A collection
// failure commits the failed invoice and leaves the rental where it was, so
// the next run bills the same period again.
func (s *billingService) billRental(ctx context.Context, rentalID int32, force bool) (*domain.Invoice, error) {
	release, err := s.deps.lockRental(ctx, rentalID)
	defer release()
	if err != nil {
		return nil, err
	}

	var (
		inv        *domain.Invoice
		collectErr error
		out        outbox
	)
	err = s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		r, err := s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if !r.Status.InProgress() {
			if force {
				return fmt.Errorf("%w: rental %d is %s", domain.ErrInvalidTransition, r.ID, r.Status)
			}
			return fmt.Errorf("%w: rental %d is %s", ErrNothingToBill, r.ID, r.Status)
		}
		if r.FullyBilled() {
			return fmt.Errorf("%w: rental %d is billed through %s", ErrNothingToBill, r.ID, utils.FormatDate(r.EndDate))
		}
		today := s.deps.today()
		if !force && (r.NextBillingDate == nil || r.NextBillingDate.After(today)) {
			return fmt.Errorf("%w: rental %d is not due", ErrNothingToBill, r.ID)
		}

		incidents, err := s.deps.Repos.Incidents.ListByRentalAndStatus(ctx, r.ID, []domain.IncidentStatus{domain.IncidentStatusApproved})
		if err != nil {
			return err
		}
		amounts, err := s.calc.Calculate(r, billing.NextPeriodStart(r), incidents)
		if err != nil {
			return err
		}
		inv, err = s.gen.Period(r, amounts)
		if err != nil {
			return err
		}
		now := s.deps.now()
		if err := s.deps.issue(ctx, inv, now); err != nil {
			return err
		}

		if err := s.settle(ctx, inv, now); err != nil {
			if errors.Is(err, domain.ErrCollectionFailed) {
				collectErr = err
				s.deps.invoiceNotice(&out, inv)
				return nil
			}
			return err
		}

		if err := billing.Apply(r, amounts); err != nil {
			return err
		}
		if err := s.deps.Repos.Rentals.Update(ctx, r); err != nil {
			return err
		}
		if err := s.deps.chargeIncidents(ctx, amounts.Incidents, inv.ID, now); err != nil {
			return err
		}
		s.deps.invoiceNotice(&out, inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.deps.flush(ctx, &out)
	if collectErr != nil {
		return inv, collectErr
	}
	return inv, nil
}

// settle collects a positive invoice and closes a zero one without charging
func (s *billingService) settle(ctx context.Context, inv *domain.Invoice, now time.Time) error {
	if inv.TotalAmount.IsZero() {
		if err := inv.MarkPaid("", now); err != nil {
			return err
		}
		return s.deps.Repos.Invoices.Update(ctx, inv)
	}
	return s.payments.Collect(ctx, inv)
}

// MarkOverdueInvoices flags pending invoices due before today. Each invoice
// is its own unit of work; failures are collected and returned together.
func (s *billingService) MarkOverdueInvoices(ctx context.Context, dryRun bool) ([]domain.Invoice, error) {
	log := logger.WithService("billing")
	today := s.deps.today()

	pending, err := s.deps.Repos.Invoices.ListByStatusDueBefore(ctx, domain.InvoiceStatusPending, today)
	if err != nil {
		return nil, fmt.Errorf("list pending invoices: %w", err)
	}

	var (
		marked []domain.Invoice
		errs   []error
	)
	for i := range pending {
		inv := pending[i]
		if !inv.MarkOverdue(today) {
			continue
		}
		if dryRun {
			marked = append(marked, inv)
			continue
		}
		changed := false
		err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
			current, err := s.deps.Repos.Invoices.GetByID(ctx, inv.ID)
			if err != nil {
				return err
			}
			if !current.MarkOverdue(today) {
				return nil
			}
			if err := s.deps.Repos.Invoices.Update(ctx, current); err != nil {
				return err
			}
			inv, changed = *current, true
			return nil
		})
		if err != nil {
			log.Error("Failed to mark invoice overdue", "invoice_number", inv.InvoiceNumber, "error", err)
			errs = append(errs, fmt.Errorf("invoice %s: %w", inv.InvoiceNumber, err))
			continue
		}
		if !changed {
			continue
		}
		marked = append(marked, inv)
		var out outbox
		out.add(events.InvoiceOverdue, inv.RentalID, map[string]any{
			"invoice_id":     inv.ID,
			"invoice_number": inv.InvoiceNumber,
			"due_date":       utils.FormatDate(inv.DueDate),
			"total_amount":   inv.TotalAmount,
		})
		s.deps.flush(ctx, &out)
	}

	log.Info("Overdue invoices processed", "marked", len(marked), "failed", len(errs), "dry_run", dryRun)
	return marked, errors.Join(errs...)
}

// GenerateBillingReport summarizes invoices created between start and the
// end of the end day
func (s *billingService) GenerateBillingReport(ctx context.Context, start, end time.Time) (*domain.BillingReport, error) {
	start = utils.TruncateDay(start)
	end = utils.TruncateDay(end)
	if end.Before(start) {
		return nil, fmt.Errorf("report end %s is before start %s", utils.FormatDate(end), utils.FormatDate(start))
	}

	invoices, err := s.deps.Repos.Invoices.ListCreatedBetween(ctx, start, utils.AddDays(end, 1).Add(-time.Nanosecond))
	if err != nil {
		return nil, fmt.Errorf("list invoices for report: %w", err)
	}

	report := &domain.BillingReport{
		PeriodStart: start,
		PeriodEnd:   end,
		Summary: domain.ReportSummary{
			TotalAmount:   decimal.Zero,
			PaidAmount:    decimal.Zero,
			PendingAmount: decimal.Zero,
			OverdueAmount: decimal.Zero,
		},
		ByStatus: make(map[domain.InvoiceStatus]domain.ReportBucket, len(domain.AllInvoiceStatuses)),
		ByCycle:  make(map[domain.InvoiceCycle]domain.ReportBucket, len(domain.AllInvoiceCycles)),
	}
	for _, st := range domain.AllInvoiceStatuses {
		report.ByStatus[st] = domain.ReportBucket{TotalAmount: decimal.Zero}
	}
	for _, c := range domain.AllInvoiceCycles {
		report.ByCycle[c] = domain.ReportBucket{TotalAmount: decimal.Zero}
	}

	for _, inv := range invoices {
		report.Summary.TotalInvoices++
		report.Summary.TotalAmount = report.Summary.TotalAmount.Add(inv.TotalAmount)
		switch inv.Status {
		case domain.InvoiceStatusPaid:
			report.Summary.PaidAmount = report.Summary.PaidAmount.Add(inv.TotalAmount)
		case domain.InvoiceStatusPending:
			report.Summary.PendingAmount = report.Summary.PendingAmount.Add(inv.TotalAmount)
		case domain.InvoiceStatusOverdue:
			report.Summary.OverdueAmount = report.Summary.OverdueAmount.Add(inv.TotalAmount)
		case domain.InvoiceStatusDraft, domain.InvoiceStatusCancelled, domain.InvoiceStatusFailed:
		}
		report.ByStatus[inv.Status] = addToBucket(report.ByStatus[inv.Status], inv.TotalAmount)
		report.ByCycle[inv.BillingCycle] = addToBucket(report.ByCycle[inv.BillingCycle], inv.TotalAmount)
	}
	return report, nil
}

func addToBucket(b domain.ReportBucket, amount decimal.Decimal) domain.ReportBucket {
	b.Count++
	b.TotalAmount = b.TotalAmount.Add(amount)
	return b
}

// RefundInvoice refunds a paid invoice in full. Incidents charged on it
// move to refunded.
func (s *billingService) RefundInvoice(ctx context.Context, invoiceID int32, reason string) (*domain.Invoice, error) {
	logger.EnterMethod("billingService.RefundInvoice", "invoiceID", invoiceID, "reason", reason)

	var inv *domain.Invoice
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.deps.Repos.Invoices.GetByID(ctx, invoiceID)
		if err != nil {
			return err
		}
		if err := s.payments.Refund(ctx, inv, reason); err != nil {
			return err
		}
		charged, err := s.deps.Repos.Incidents.ListByRentalAndStatus(ctx, inv.RentalID, []domain.IncidentStatus{domain.IncidentStatusCharged})
		if err != nil {
			return err
		}
		for i := range charged {
			inc := &charged[i]
			if inc.ChargedInvoiceID == nil || *inc.ChargedInvoiceID != inv.ID || !inc.CanBeRefunded() {
				continue
			}
			if err := inc.TransitionTo(domain.IncidentStatusRefunded); err != nil {
				return err
			}
			if err := s.deps.Repos.Incidents.Update(ctx, inc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("billingService.RefundInvoice", err)
		return nil, err
	}

	logger.ExitMethod("billingService.RefundInvoice", "invoiceNumber", inv.InvoiceNumber, "refundRef", inv.ExternalRefundRef)
	return inv, nil
}

func (s *billingService) ListInvoices(ctx context.Context, rentalID int32) ([]domain.Invoice, error) {
	return s.deps.Repos.Invoices.ListByRental(ctx, rentalID)
}
