package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/payments"
	"rental-billing-engine/internal/utils"
)

var jan8Morning = time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC)

func TestBillRental_FirstWeek(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	inv, err := f.svc.Billing.BillRental(f.ctx, r.ID, false)
	require.NoError(t, err)

	assert.Equal(t, "INV-2025-01-0001", inv.InvoiceNumber)
	assert.Equal(t, utils.Date(2025, 1, 1), inv.BillingPeriodStart)
	assert.Equal(t, utils.Date(2025, 1, 7), inv.BillingPeriodEnd)
	assert.True(t, inv.Subtotal.Equal(utils.Money("350.00")))
	assert.True(t, inv.TaxAmount.Equal(utils.Money("29.75")))
	assert.True(t, inv.TotalAmount.Equal(utils.Money("379.75")))
	assert.Equal(t, utils.Date(2025, 1, 14), inv.DueDate)
	assert.Equal(t, domain.InvoiceStatusPaid, inv.Status)
	assert.NotEmpty(t, inv.ExternalPaymentRef)

	got := f.rental(t, r.ID)
	require.NotNil(t, got.LastBilledDate)
	assert.Equal(t, utils.Date(2025, 1, 7), *got.LastBilledDate)
	require.NotNil(t, got.NextBillingDate)
	assert.Equal(t, utils.Date(2025, 1, 13), *got.NextBillingDate)

	assert.Equal(t, []events.Type{events.InvoicePaid}, f.events.Types())
}

func TestBillRental_NotDue(t *testing.T) {
	f := newFixture(t, jan1Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	_, err := f.svc.Billing.BillRental(f.ctx, r.ID, false)
	assert.ErrorIs(t, err, ErrNothingToBill)

	_, err = f.svc.Billing.BillRental(f.ctx, r.ID, true)
	assert.NoError(t, err)
}

func TestBillRental_StopsAtEndDate(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 30, 9, 0, 0, 0, time.UTC), nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 10))

	_, err := f.svc.Billing.BillRental(f.ctx, r.ID, false)
	require.NoError(t, err)
	last, err := f.svc.Billing.BillRental(f.ctx, r.ID, true)
	require.NoError(t, err)
	assert.Equal(t, utils.Date(2025, 1, 10), last.BillingPeriodEnd)
	assert.True(t, last.Subtotal.Equal(utils.Money("150.00")))
	assert.Nil(t, f.rental(t, r.ID).NextBillingDate)

	_, err = f.svc.Billing.BillRental(f.ctx, r.ID, true)
	assert.ErrorIs(t, err, ErrNothingToBill)
}

func TestBillRental_ChargesApprovedIncidents(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	inc, err := f.svc.Incidents.ReportIncident(f.ctx, IncidentReport{
		RentalID:     r.ID,
		IncidentType: domain.IncidentTypeDamage,
		Description:  "scratched bumper",
		IncidentDate: utils.Date(2025, 1, 3),
		Amount:       utils.Money("100.00"),
	})
	require.NoError(t, err)
	_, err = f.svc.Incidents.ApproveIncident(f.ctx, inc.ID, "photos attached")
	require.NoError(t, err)

	inv, err := f.svc.Billing.BillRental(f.ctx, r.ID, false)
	require.NoError(t, err)
	assert.True(t, inv.Subtotal.Equal(utils.Money("450.00")))
	assert.True(t, inv.TotalAmount.Equal(utils.Money("488.25")))

	charged, err := f.repos.Incidents.GetByID(f.ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusCharged, charged.Status)
	require.NotNil(t, charged.ChargedInvoiceID)
	assert.Equal(t, inv.ID, *charged.ChargedInvoiceID)
	assert.True(t, f.rental(t, r.ID).IncidentCharges.Equal(utils.Money("100.00")))

	refunded, err := f.svc.Billing.RefundInvoice(f.ctx, inv.ID, "goodwill")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusCancelled, refunded.Status)
	assert.NotEmpty(t, refunded.ExternalRefundRef)

	after, err := f.repos.Incidents.GetByID(f.ctx, inc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.IncidentStatusRefunded, after.Status)
}

func TestBillRental_CollectionFailureKeepsRentalInPlace(t *testing.T) {
	gw := new(MockGateway)
	gw.On("CreateInvoice", mock.Anything, mock.Anything, mock.Anything).Return("in_1", nil)
	gw.On("CollectPayment", mock.Anything, mock.Anything).Return(payments.PaymentResult{Status: payments.StatusFailed, FailureMessage: "card declined"}, nil)
	f := newFixture(t, jan8Morning, gw, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	inv, err := f.svc.Billing.BillRental(f.ctx, r.ID, false)
	assert.ErrorIs(t, err, domain.ErrCollectionFailed)
	require.NotNil(t, inv)

	stored, err := f.repos.Invoices.GetByID(f.ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusFailed, stored.Status)
	assert.Equal(t, "card declined", stored.FailureReason)

	got := f.rental(t, r.ID)
	assert.Nil(t, got.LastBilledDate)
	assert.Equal(t, utils.Date(2025, 1, 6), *got.NextBillingDate)
	assert.Equal(t, []events.Type{events.InvoiceFailed}, f.events.Types())
}

// slowGateway only answers CollectPayment once the caller gives up
type slowGateway struct {
	*payments.SandboxGateway
}

func (g slowGateway) CollectPayment(ctx context.Context, inv *domain.Invoice) (payments.PaymentResult, error) {
	select {
	case <-ctx.Done():
		return payments.PaymentResult{}, ctx.Err()
	case <-time.After(5 * time.Second):
		return payments.PaymentResult{Status: payments.StatusSucceeded, ExternalPaymentRef: "pi_late"}, nil
	}
}

func TestProcessWeeklyBilling_PaymentTimeoutIsCollectionFailure(t *testing.T) {
	f := newFixture(t, jan8Morning, slowGateway{payments.NewSandboxGateway()}, nil)
	f.deps.Policy.PaymentTimeout = 50 * time.Millisecond
	f.svc = New(f.deps)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	start := time.Now()
	res, err := f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, r.ID, res.Errors[0].RentalID)
	assert.Contains(t, res.Errors[0].Error, domain.ErrCollectionFailed.Error())
	assert.Contains(t, res.Errors[0].Error, context.DeadlineExceeded.Error())

	invoices, err := f.repos.Invoices.ListByRental(f.ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, domain.InvoiceStatusFailed, invoices[0].Status)

	got := f.rental(t, r.ID)
	assert.Nil(t, got.LastBilledDate)
	assert.Equal(t, utils.Date(2025, 1, 6), *got.NextBillingDate)
}

func TestProcessWeeklyBilling_IsolatesFailures(t *testing.T) {
	gw := new(MockGateway)
	f := newFixture(t, jan8Morning, gw, nil)
	ok := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	bad := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	gw.On("CreateInvoice", mock.Anything, mock.Anything, mock.Anything).Return("in_x", nil)
	gw.On("CollectPayment", mock.Anything, mock.MatchedBy(func(inv *domain.Invoice) bool {
		return inv.RentalID == bad.ID
	})).Return(payments.PaymentResult{Status: payments.StatusFailed, FailureMessage: "insufficient funds"}, nil)
	gw.On("CollectPayment", mock.Anything, mock.Anything).Return(payments.PaymentResult{Status: payments.StatusSucceeded, ExternalPaymentRef: "ch_ok"}, nil)

	res, err := f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Zero(t, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, bad.ID, res.Errors[0].RentalID)
	assert.Contains(t, res.Errors[0].Error, "insufficient funds")

	assert.Equal(t, utils.Date(2025, 1, 7), *f.rental(t, ok.ID).LastBilledDate)
	assert.Nil(t, f.rental(t, bad.ID).LastBilledDate)

	// the failed rental is billed for the same period on the next run
	res, err = f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	invoices, err := f.svc.Billing.ListInvoices(f.ctx, bad.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, invoices[0].BillingPeriodStart, invoices[1].BillingPeriodStart)
}

func TestProcessWeeklyBilling_SkipsLeasedRental(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	lease, err := f.locker.TryAcquire(f.ctx, lock.RentalKey(r.ID), time.Minute)
	require.NoError(t, err)

	res, err := f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Processed)

	require.NoError(t, lease.Release(f.ctx))
	res, err = f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
}

func TestProcessWeeklyBilling_NothingDue(t *testing.T) {
	f := newFixture(t, jan1Morning, nil, nil)
	f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))

	res, err := f.svc.Billing.ProcessWeeklyBilling(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.BatchResult{Errors: []domain.BatchError{}}, res)
}

func seedPendingInvoice(t *testing.T, f *fixture, rentalID int32, seq int, due time.Time) *domain.Invoice {
	t.Helper()
	inv := &domain.Invoice{
		RentalID:           rentalID,
		CustomerID:         f.customer.ID,
		InvoiceNumber:      "INV-2025-01-" + []string{"0001", "0002", "0003"}[seq-1],
		NumberYear:         2025,
		NumberMonth:        1,
		NumberSeq:          int32(seq),
		BillingPeriodStart: utils.Date(2025, 1, 1),
		BillingPeriodEnd:   utils.Date(2025, 1, 7),
		Subtotal:           utils.Money("100.00"),
		TaxAmount:          utils.Money("8.50"),
		TotalAmount:        utils.Money("108.50"),
		Status:             domain.InvoiceStatusPending,
		DueDate:            due,
		BillingCycle:       domain.InvoiceCycleWeekly,
	}
	require.NoError(t, f.repos.Invoices.Create(f.ctx, inv))
	return inv
}

func TestMarkOverdueInvoices(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 11, 6, 0, 0, 0, time.UTC), nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	late := seedPendingInvoice(t, f, r.ID, 1, utils.Date(2025, 1, 10))
	dueToday := seedPendingInvoice(t, f, r.ID, 2, utils.Date(2025, 1, 11))

	preview, err := f.svc.Billing.MarkOverdueInvoices(f.ctx, true)
	require.NoError(t, err)
	require.Len(t, preview, 1)
	assert.Equal(t, late.ID, preview[0].ID)
	stored, err := f.repos.Invoices.GetByID(f.ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPending, stored.Status)
	assert.Empty(t, f.events.Events())

	marked, err := f.svc.Billing.MarkOverdueInvoices(f.ctx, false)
	require.NoError(t, err)
	require.Len(t, marked, 1)
	assert.Equal(t, domain.InvoiceStatusOverdue, marked[0].Status)
	stored, err = f.repos.Invoices.GetByID(f.ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusOverdue, stored.Status)
	untouched, err := f.repos.Invoices.GetByID(f.ctx, dueToday.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPending, untouched.Status)
	assert.Equal(t, []events.Type{events.InvoiceOverdue}, f.events.Types())

	again, err := f.svc.Billing.MarkOverdueInvoices(f.ctx, false)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestGenerateBillingReport(t *testing.T) {
	f := newFixture(t, time.Date(2025, 1, 11, 6, 0, 0, 0, time.UTC), nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	seedPendingInvoice(t, f, r.ID, 1, utils.Date(2025, 1, 10))
	seedPendingInvoice(t, f, r.ID, 2, utils.Date(2025, 1, 20))
	_, err := f.svc.Billing.MarkOverdueInvoices(f.ctx, false)
	require.NoError(t, err)
	_, err = f.svc.Billing.BillRental(f.ctx, r.ID, true)
	require.NoError(t, err)

	// stored invoices carry the wall-clock creation time
	now := time.Now().UTC()
	report, err := f.svc.Billing.GenerateBillingReport(f.ctx, now.AddDate(0, 0, -1), now)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Summary.TotalInvoices)
	assert.True(t, report.Summary.TotalAmount.Equal(utils.Money("596.75")))
	assert.True(t, report.Summary.PaidAmount.Equal(utils.Money("379.75")))
	assert.True(t, report.Summary.PendingAmount.Equal(utils.Money("108.50")))
	assert.True(t, report.Summary.OverdueAmount.Equal(utils.Money("108.50")))

	assert.Len(t, report.ByStatus, len(domain.AllInvoiceStatuses))
	assert.Equal(t, 1, report.ByStatus[domain.InvoiceStatusOverdue].Count)
	assert.Zero(t, report.ByStatus[domain.InvoiceStatusFailed].Count)
	assert.True(t, report.ByStatus[domain.InvoiceStatusFailed].TotalAmount.IsZero())
	assert.Len(t, report.ByCycle, len(domain.AllInvoiceCycles))
	assert.Equal(t, 3, report.ByCycle[domain.InvoiceCycleWeekly].Count)
	assert.Zero(t, report.ByCycle[domain.InvoiceCycleAdjustment].Count)

	_, err = f.svc.Billing.GenerateBillingReport(f.ctx, now, now.AddDate(0, 0, -2))
	assert.Error(t, err)

	empty, err := f.svc.Billing.GenerateBillingReport(f.ctx, utils.Date(2020, 1, 1), utils.Date(2020, 1, 31))
	require.NoError(t, err)
	assert.Zero(t, empty.Summary.TotalInvoices)
	assert.True(t, empty.Summary.TotalAmount.IsZero())
}

func TestRefundInvoice_RequiresPaid(t *testing.T) {
	f := newFixture(t, jan8Morning, nil, nil)
	r := f.seedActive(t, utils.Date(2025, 1, 1), utils.Date(2025, 1, 21))
	pending := seedPendingInvoice(t, f, r.ID, 1, utils.Date(2025, 1, 20))

	_, err := f.svc.Billing.RefundInvoice(f.ctx, pending.ID, "mistake")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
