// Package billing holds the pure billing arithmetic: period boundaries,
// component charges and invoice assembly. Nothing here performs I/O.
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/utils"
)

// Amounts are the computed charges for one billing period
type Amounts struct {
	PeriodStart  time.Time
	PeriodEnd    time.Time
	DaysInPeriod int

	// RentalDays is the part of the period inside the rental span
	RentalDays int
	BaseRental decimal.Decimal

	RapDays   int
	RapAmount decimal.Decimal

	Incidents      []domain.Incident
	IncidentAmount decimal.Decimal

	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
}

// Calculator computes billing amounts under one flat tax rate
type Calculator struct {
	taxRate decimal.Decimal
}

func NewCalculator(taxRate decimal.Decimal) *Calculator {
	return &Calculator{taxRate: taxRate}
}

// TaxRate returns the configured flat rate
func (c *Calculator) TaxRate() decimal.Decimal {
	return c.taxRate
}

// Tax rounds subtotal x rate to cents. This is the only rounding step.
func (c *Calculator) Tax(subtotal decimal.Decimal) decimal.Decimal {
	return utils.RoundMoney(subtotal.Mul(c.taxRate))
}

// NextPeriodStart is the day after the last billed date, or the rental
// start when nothing has been billed
func NextPeriodStart(r *domain.Rental) time.Time {
	if r.LastBilledDate == nil {
		return utils.TruncateDay(r.StartDate)
	}
	return utils.AddDays(*r.LastBilledDate, 1)
}

// PeriodEnd returns the inclusive end of the period starting at periodStart,
// clipped to the rental end date
func PeriodEnd(r *domain.Rental, periodStart time.Time) time.Time {
	var end time.Time
	switch r.BillingCycle {
	case domain.BillingCycleMonthly:
		end = utils.AddDays(utils.AddMonthClamped(periodStart), -1)
	case domain.BillingCycleWeekly:
		end = utils.AddDays(periodStart, 6)
	default:
		end = utils.AddDays(periodStart, 6)
	}
	return utils.MinDate(end, utils.TruncateDay(r.EndDate))
}

// NextBillingDate is when the batch should pick the rental up again after
// billing through periodEnd. It is nil once the rental is fully billed.
func NextBillingDate(r *domain.Rental, periodEnd time.Time) *time.Time {
	if !periodEnd.Before(utils.TruncateDay(r.EndDate)) {
		return nil
	}
	var next time.Time
	switch r.BillingCycle {
	case domain.BillingCycleMonthly:
		next = utils.AddDays(periodEnd, 1)
	case domain.BillingCycleWeekly:
		next = utils.NextBillingDate(periodEnd)
	default:
		next = utils.NextBillingDate(periodEnd)
	}
	return &next
}

// Calculate computes the charges for the period starting at periodStart.
// incidents may contain any incidents of the rental; only billable ones
// dated inside the period are charged.
func (c *Calculator) Calculate(r *domain.Rental, periodStart time.Time, incidents []domain.Incident) (Amounts, error) {
	periodStart = utils.TruncateDay(periodStart)
	return c.calculate(r, periodStart, PeriodEnd(r, periodStart), incidents)
}

// CalculateSpan is Calculate over an explicit inclusive range, used for
// final and extension invoices whose range is not a regular cycle
func (c *Calculator) CalculateSpan(r *domain.Rental, start, end time.Time, incidents []domain.Incident) (Amounts, error) {
	return c.calculate(r, utils.TruncateDay(start), utils.TruncateDay(end), incidents)
}

func (c *Calculator) calculate(r *domain.Rental, periodStart, periodEnd time.Time, incidents []domain.Incident) (Amounts, error) {
	if periodEnd.Before(periodStart) {
		return Amounts{}, domain.IntegrityError("rental %d: period %s..%s has negative length",
			r.ID, utils.FormatDate(periodStart), utils.FormatDate(periodEnd))
	}

	a := Amounts{
		PeriodStart:  periodStart,
		PeriodEnd:    periodEnd,
		DaysInPeriod: utils.InclusiveDays(periodStart, periodEnd),
	}

	_, _, a.RentalDays = utils.Overlap(periodStart, periodEnd, r.StartDate, r.EndDate)
	a.BaseRental = utils.Times(r.DailyRate, a.RentalDays)

	a.RapDays = min(a.RentalDays, int(r.RapDaysRemaining()))
	a.RapAmount = utils.Times(r.RapDailyRate, a.RapDays)
	if a.RapAmount.IsZero() {
		a.RapDays = 0
	}

	a.IncidentAmount = decimal.Zero
	for _, inc := range incidents {
		day := utils.TruncateDay(inc.IncidentDate)
		if !inc.Billable() || day.Before(periodStart) || day.After(periodEnd) {
			continue
		}
		a.Incidents = append(a.Incidents, inc)
		a.IncidentAmount = a.IncidentAmount.Add(inc.Amount)
	}

	a.Subtotal = a.BaseRental.Add(a.RapAmount).Add(a.IncidentAmount)
	a.Tax = c.Tax(a.Subtotal)
	a.Total = a.Subtotal.Add(a.Tax)
	return a, nil
}

// Apply records a billed period on the rental: billing dates advance and
// RAP days are counted. An extended rental returns to active.
func Apply(r *domain.Rental, a Amounts) error {
	if int32(a.RapDays) > r.RapDaysRemaining() {
		return domain.IntegrityError("rental %d: billing %d RAP days with %d remaining", r.ID, a.RapDays, r.RapDaysRemaining())
	}
	end := a.PeriodEnd
	r.LastBilledDate = &end
	r.NextBillingDate = NextBillingDate(r, a.PeriodEnd)
	r.RapDaysBilled += int32(a.RapDays)
	r.IncidentCharges = r.IncidentCharges.Add(a.IncidentAmount)
	if r.Status == domain.RentalStatusExtended {
		return r.TransitionTo(domain.RentalStatusActive)
	}
	return nil
}
