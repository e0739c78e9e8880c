package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rental-billing-engine/internal/config"
	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/payments"
	"rental-billing-engine/internal/repository"
	"rental-billing-engine/internal/repository/memory"
	"rental-billing-engine/internal/service"
	"rental-billing-engine/internal/utils"
)

const testConfig = `
database:
  host: localhost
  user: billing
  database: rental_billing
`

type harness struct {
	runner *JobRunner
	repos  repository.Repositories
	events *events.Recorder
	out    *bytes.Buffer
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)

	h := &harness{
		repos:  memory.NewStore().Repositories(),
		events: &events.Recorder{},
		out:    &bytes.Buffer{},
	}
	svc := service.New(service.Dependencies{
		Repos:   h.repos,
		Gateway: payments.NewSandboxGateway(),
		Rail:    payments.NewSandboxRail(),
		Events:  h.events,
		Policy:  cfg.BillingPolicy(),
		Payout:  cfg.Payout,
		Rates:   cfg.RateTable(),
		Clock:   func() time.Time { return now },
	})
	h.runner = NewJobRunner(svc, cfg)
	h.runner.SetOutput(h.out)
	return h
}

// seedDue stores an active Jan 1-21 rental due for its first weekly bill
func (h *harness) seedDue(t *testing.T) *domain.Rental {
	t.Helper()
	ctx := context.Background()
	customer := &domain.Party{Role: domain.PartyRoleCustomer, Name: "Dana", PaymentCustomerRef: "cus_1"}
	require.NoError(t, h.repos.Parties.Create(ctx, customer))
	owner := &domain.Party{Role: domain.PartyRoleCarOwner, Name: "Owen", PayoutAccountRef: "acct_1"}
	require.NoError(t, h.repos.Parties.Create(ctx, owner))

	next := utils.Date(2025, 1, 6)
	r := &domain.Rental{
		CustomerID:      customer.ID,
		CarOwnerID:      owner.ID,
		StartDate:       utils.Date(2025, 1, 1),
		EndDate:         utils.Date(2025, 1, 21),
		OriginalEndDate: utils.Date(2025, 1, 21),
		DailyRate:       utils.Money("50.00"),
		RapDailyRate:    utils.Money("6.00"),
		TotalAmount:     utils.Money("1050.00"),
		Status:          domain.RentalStatusActive,
		BillingCycle:    domain.BillingCycleWeekly,
		NextBillingDate: &next,
		CommissionRate:  utils.Money("0.15"),
	}
	require.NoError(t, h.repos.Rentals.Create(ctx, r))
	return r
}

func TestRunWithRecovery(t *testing.T) {
	h := newHarness(t, time.Now())

	err := h.runner.runWithRecovery("Boom", func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	assert.NoError(t, h.runner.runWithRecovery("Quiet", func(context.Context) error { return nil }))
}

func TestProcessWeeklyBilling(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC))
	r := h.seedDue(t)

	require.NoError(t, h.runner.ProcessWeeklyBilling())

	invoices, err := h.repos.Invoices.ListByRental(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.True(t, invoices[0].TotalAmount.Equal(utils.Money("379.75")))
	assert.Contains(t, h.events.Types(), events.InvoicePaid)
}

func TestProcessWeeklyBilling_SingleRentalForced(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 2, 3, 0, 0, 0, time.UTC))
	r := h.seedDue(t)

	// not due yet without force
	err := h.runner.WithOptions(Options{RentalID: r.ID}).ProcessWeeklyBilling()
	assert.ErrorIs(t, err, service.ErrNothingToBill)

	require.NoError(t, h.runner.WithOptions(Options{RentalID: r.ID, Force: true}).ProcessWeeklyBilling())
	got, err := h.repos.Rentals.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, utils.Date(2025, 1, 7), *got.LastBilledDate)
}

func TestRunAllNightlyJobs_NothingToDo(t *testing.T) {
	h := newHarness(t, time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC))
	assert.NoError(t, h.runner.RunAllNightlyJobs())
	assert.Empty(t, h.events.Events())
}

func TestBillingReport_Formats(t *testing.T) {
	// stored invoices carry the wall-clock creation time, so the default
	// current-month range covers them
	h := newHarness(t, time.Date(2025, 1, 8, 3, 0, 0, 0, time.UTC))
	h.seedDue(t)
	require.NoError(t, h.runner.ProcessWeeklyBilling())

	t.Run("csv", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, h.runner.WithOptions(Options{Format: FormatCSV}).BillingReport())
		rows, err := csv.NewReader(h.out).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 5+len(domain.AllInvoiceStatuses)+len(domain.AllInvoiceCycles))
		assert.Equal(t, []string{"section", "key", "count", "total_amount"}, rows[0])
		assert.Equal(t, []string{"summary", "total", "1", "379.75"}, rows[1])
	})

	t.Run("json", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, h.runner.WithOptions(Options{Format: FormatJSON}).BillingReport())
		var decoded domain.BillingReport
		require.NoError(t, json.Unmarshal(h.out.Bytes(), &decoded))
		assert.Equal(t, 1, decoded.Summary.TotalInvoices)
		assert.True(t, decoded.Summary.PaidAmount.Equal(utils.Money("379.75")))
	})

	t.Run("table", func(t *testing.T) {
		h.out.Reset()
		require.NoError(t, h.runner.BillingReport())
		assert.Contains(t, h.out.String(), "STATUS")
		assert.Contains(t, h.out.String(), "379.75")
	})

	t.Run("explicit empty range", func(t *testing.T) {
		h.out.Reset()
		opts := Options{Start: utils.Date(2020, 1, 1), End: utils.Date(2020, 1, 31), Format: FormatCSV}
		require.NoError(t, h.runner.WithOptions(opts).BillingReport())
		assert.Contains(t, h.out.String(), "summary,total,0,0.00")
	})
}

func TestRenderReport_UnknownFormat(t *testing.T) {
	err := RenderReport(&bytes.Buffer{}, &domain.BillingReport{}, "xml")
	assert.ErrorContains(t, err, "unknown report format")
}
