package service

import (
	"context"
	"time"

	"rental-billing-engine/internal/billing"
	"rental-billing-engine/internal/config"
	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/payments"
	"rental-billing-engine/internal/repository"
	"rental-billing-engine/internal/utils"
)

// Dependencies are the stores and collaborators shared by every service
type Dependencies struct {
	Repos   repository.Repositories
	Gateway payments.Gateway
	Rail    payments.PayoutRail
	Events  events.Publisher
	Locker  lock.Locker
	Email   EmailService
	Policy  config.BillingPolicy
	Payout  config.PayoutConfig
	Rates   domain.RateTable
	// Clock defaults to time.Now
	Clock func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Clock == nil {
		return time.Now().UTC()
	}
	return d.Clock().UTC()
}

func (d *Dependencies) today() time.Time {
	return utils.TruncateDay(d.now())
}

// callContext bounds one call to the payment collaborator
func (d *Dependencies) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Policy.PaymentTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Policy.PaymentTimeout)
}

// Services is the wired service layer
type Services struct {
	Rental    RentalService
	Billing   BillingService
	Payments  PaymentService
	Payouts   PayoutService
	Deposits  DepositService
	Incidents IncidentService
}

// New wires the services over one set of dependencies. Missing optional
// collaborators fall back to log-only events, local locks and no email.
func New(deps Dependencies) *Services {
	if deps.Events == nil {
		deps.Events = events.LogPublisher{}
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocalLocker()
	}
	if deps.Email == nil {
		deps.Email = NoopEmailService{}
	}

	calc := billing.NewCalculator(deps.Policy.TaxRate)
	gen := billing.NewGenerator(calc, deps.Policy.DueDays)

	paymentSvc := NewPaymentService(&deps)
	depositSvc := NewDepositService(&deps)
	payoutSvc := NewPayoutService(&deps)
	billingSvc := NewBillingService(&deps, calc, gen, paymentSvc)
	rentalSvc := NewRentalService(&deps, calc, gen, paymentSvc, depositSvc, payoutSvc)

	return &Services{
		Rental:    rentalSvc,
		Billing:   billingSvc,
		Payments:  paymentSvc,
		Payouts:   payoutSvc,
		Deposits:  depositSvc,
		Incidents: NewIncidentService(&deps),
	}
}

const defaultLeaseTTL = 2 * time.Minute

// lockRental takes the per-rental lease that keeps two workers off the same
// rental; release is always safe to call
func (d *Dependencies) lockRental(ctx context.Context, rentalID int32) (release func(), err error) {
	ttl := d.Policy.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	lease, err := d.Locker.TryAcquire(ctx, lock.RentalKey(rentalID), ttl)
	if err != nil {
		return func() {}, err
	}
	return func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("Failed to release rental lease", "key", lease.Key(), "error", err)
		}
	}, nil
}

// outbox collects events and emails inside a unit of work so they go out
// only after it commits
type outbox struct {
	events []events.Event
	mails  []func(ctx context.Context) error
}

func (o *outbox) add(t events.Type, rentalID int32, payload any) {
	o.events = append(o.events, events.New(t, rentalID, payload))
}

func (o *outbox) mail(fn func(ctx context.Context) error) {
	o.mails = append(o.mails, fn)
}

func (d *Dependencies) flush(ctx context.Context, o *outbox) {
	for _, ev := range o.events {
		if err := d.Events.Publish(ctx, ev); err != nil {
			logger.Warn("Failed to publish event", "event_type", ev.Type, "rental_id", ev.RentalID, "error", err)
		}
	}
	for _, send := range o.mails {
		if err := send(ctx); err != nil {
			logger.Warn("Failed to send notification email", "error", err)
		}
	}
	o.events, o.mails = nil, nil
}

// issue numbers the invoice in the month of at and stores it with its items
func (d *Dependencies) issue(ctx context.Context, inv *domain.Invoice, at time.Time) error {
	seq, err := d.Repos.Invoices.NextSequence(ctx, at.Year(), int(at.Month()))
	if err != nil {
		return err
	}
	billing.AssignNumber(inv, at, seq)
	if err := d.Repos.Invoices.Create(ctx, inv); err != nil {
		return err
	}
	logger.Info("Invoice issued", "invoice_number", inv.InvoiceNumber, "rental_id", inv.RentalID, "total", inv.TotalAmount)
	return nil
}

// chargeIncidents marks incidents billed on a paid invoice as charged
func (d *Dependencies) chargeIncidents(ctx context.Context, incidents []domain.Incident, invoiceID int32, at time.Time) error {
	for i := range incidents {
		inc := incidents[i]
		if err := inc.TransitionTo(domain.IncidentStatusCharged); err != nil {
			return err
		}
		inc.ChargedInvoiceID = &invoiceID
		inc.ProcessedAt = &at
		if err := d.Repos.Incidents.Update(ctx, &inc); err != nil {
			return err
		}
	}
	return nil
}

// invoiceNotice queues the paid/failed event and customer email for inv
func (d *Dependencies) invoiceNotice(o *outbox, inv *domain.Invoice) {
	snapshot := *inv
	payload := map[string]any{
		"invoice_id":     snapshot.ID,
		"invoice_number": snapshot.InvoiceNumber,
		"total_amount":   snapshot.TotalAmount,
		"status":         snapshot.Status,
	}
	switch snapshot.Status {
	case domain.InvoiceStatusPaid:
		o.add(events.InvoicePaid, snapshot.RentalID, payload)
		if snapshot.IsCredit() {
			return
		}
		o.mail(func(ctx context.Context) error {
			customer, err := d.Repos.Parties.GetByID(ctx, snapshot.CustomerID)
			if err != nil {
				return err
			}
			return d.Email.SendInvoicePaid(ctx, customer, &snapshot)
		})
	case domain.InvoiceStatusFailed:
		payload["failure_reason"] = snapshot.FailureReason
		o.add(events.InvoiceFailed, snapshot.RentalID, payload)
		o.mail(func(ctx context.Context) error {
			customer, err := d.Repos.Parties.GetByID(ctx, snapshot.CustomerID)
			if err != nil {
				return err
			}
			return d.Email.SendInvoiceFailed(ctx, customer, &snapshot)
		})
	case domain.InvoiceStatusDraft, domain.InvoiceStatusPending, domain.InvoiceStatusOverdue, domain.InvoiceStatusCancelled:
	}
}
