package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rental-billing-engine/internal/config"
	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/payments"
	"rental-billing-engine/internal/repository"
	"rental-billing-engine/internal/repository/memory"
	"rental-billing-engine/internal/utils"
)

type fixture struct {
	ctx      context.Context
	repos    repository.Repositories
	events   *events.Recorder
	locker   *lock.LocalLocker
	now      time.Time
	deps     Dependencies
	svc      *Services
	customer *domain.Party
	owner    *domain.Party
	vehicle  *domain.Vehicle
}

func testPolicy() config.BillingPolicy {
	return config.BillingPolicy{
		TaxRate:            utils.Money("0.085"),
		DepositAmount:      utils.Money("250.00"),
		CommissionRate:     utils.Money("0.15"),
		DueDays:            7,
		CancellationWindow: 24 * time.Hour,
		PaymentTimeout:     5 * time.Second,
		Workers:            2,
		LeaseTTL:           time.Minute,
	}
}

func testRates() domain.RateTable {
	return domain.RateTable{
		ByType: map[domain.VehicleType]domain.VehicleRates{
			domain.VehicleTypeEconomy:  {DailyRate: utils.Money("40.00"), RapDailyRate: utils.Money("5.00")},
			domain.VehicleTypeStandard: {DailyRate: utils.Money("50.00"), RapDailyRate: utils.Money("6.00")},
		},
		Fallback: domain.VehicleRates{DailyRate: utils.Money("50.00"), RapDailyRate: utils.Money("6.00")},
	}
}

// newFixture wires the services over a fresh memory store. A nil gateway or
// rail selects the sandbox implementation.
func newFixture(t *testing.T, now time.Time, gw payments.Gateway, rail payments.PayoutRail) *fixture {
	t.Helper()
	if gw == nil {
		gw = payments.NewSandboxGateway()
	}
	if rail == nil {
		rail = payments.NewSandboxRail()
	}
	f := &fixture{
		ctx:    context.Background(),
		repos:  memory.NewStore().Repositories(),
		events: &events.Recorder{},
		locker: lock.NewLocalLocker(),
		now:    now,
	}
	f.deps = Dependencies{
		Repos:   f.repos,
		Gateway: gw,
		Rail:    rail,
		Events:  f.events,
		Locker:  f.locker,
		Policy:  testPolicy(),
		Payout:  config.PayoutConfig{MaxRetries: 3, Currency: "usd", BatchSize: 50},
		Rates:   testRates(),
		Clock:   func() time.Time { return f.now },
	}
	f.svc = New(f.deps)

	f.customer = &domain.Party{Role: domain.PartyRoleCustomer, Name: "Dana Driver", Email: "dana@example.com", PaymentCustomerRef: "cus_1"}
	require.NoError(t, f.repos.Parties.Create(f.ctx, f.customer))
	f.owner = &domain.Party{Role: domain.PartyRoleCarOwner, Name: "Owen Owner", Email: "owen@example.com", PayoutAccountRef: "acct_1"}
	require.NoError(t, f.repos.Parties.Create(f.ctx, f.owner))
	f.vehicle = f.addVehicle(t, domain.VehicleTypeStandard)
	return f
}

// useEmail rewires the services with a real email service
func (f *fixture) useEmail(email EmailService) {
	f.deps.Email = email
	f.svc = New(f.deps)
}

func (f *fixture) addVehicle(t *testing.T, vt domain.VehicleType) *domain.Vehicle {
	t.Helper()
	v := &domain.Vehicle{CarOwnerID: f.owner.ID, Make: "Toyota", Model: "Corolla", Year: 2022, LicensePlate: "ABC-123", VehicleType: vt, Status: domain.VehicleStatusAvailable}
	require.NoError(t, f.repos.Vehicles.Create(f.ctx, v))
	return v
}

// seedActive stores an active weekly rental at $50/day that has not been billed
func (f *fixture) seedActive(t *testing.T, start, end time.Time) *domain.Rental {
	t.Helper()
	next := utils.NextBillingDate(start)
	r := &domain.Rental{
		ShopOwnerID:     1,
		CustomerID:      f.customer.ID,
		CarOwnerID:      f.owner.ID,
		VehicleID:       f.vehicle.ID,
		StartDate:       start,
		EndDate:         end,
		OriginalEndDate: end,
		DailyRate:       utils.Money("50.00"),
		RapDailyRate:    utils.Money("6.00"),
		Status:          domain.RentalStatusActive,
		BillingCycle:    domain.BillingCycleWeekly,
		NextBillingDate: &next,
		CommissionRate:  utils.Money("0.15"),
	}
	days := utils.InclusiveDays(start, end)
	r.TotalAmount = utils.Times(r.DailyRate, days)
	r.CommissionAmount = r.CommissionFor(r.TotalAmount)
	r.PayoutAmount = r.OwnerShareFor(r.TotalAmount)
	require.NoError(t, f.repos.Rentals.Create(f.ctx, r))
	require.NoError(t, f.repos.Vehicles.UpdateStatus(f.ctx, f.vehicle.ID, domain.VehicleStatusRented))
	return r
}

func (f *fixture) rental(t *testing.T, id int32) *domain.Rental {
	t.Helper()
	r, err := f.repos.Rentals.GetByID(f.ctx, id)
	require.NoError(t, err)
	return r
}

func datePtr(year int, month time.Month, day int) *time.Time {
	d := utils.Date(year, month, day)
	return &d
}
