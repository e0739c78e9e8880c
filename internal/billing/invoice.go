package billing

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/utils"
)

// FormatNumber renders INV-YYYY-MM-NNNN with the cycle's suffix, if any
func FormatNumber(year, month, seq int, cycle domain.InvoiceCycle) string {
	number := fmt.Sprintf("INV-%04d-%02d-%04d", year, month, seq)
	if suffix := cycle.NumberSuffix(); suffix != "" {
		number += "-" + suffix
	}
	return number
}

// AssignNumber stamps the invoice with its month-scoped number. at decides
// the calendar month; seq comes from the store under the month lock.
func AssignNumber(inv *domain.Invoice, at time.Time, seq int) {
	at = at.UTC()
	inv.NumberYear = int32(at.Year())
	inv.NumberMonth = int32(at.Month())
	inv.NumberSeq = int32(seq)
	inv.InvoiceNumber = FormatNumber(at.Year(), int(at.Month()), seq, inv.BillingCycle)
}

// Generator turns computed amounts into invoices with ordered line items
type Generator struct {
	calc    *Calculator
	dueDays int
}

func NewGenerator(calc *Calculator, dueDays int) *Generator {
	return &Generator{calc: calc, dueDays: dueDays}
}

// Period builds the regular invoice for a billing period, due dueDays after
// the period end
func (g *Generator) Period(r *domain.Rental, a Amounts) (*domain.Invoice, error) {
	inv := newInvoice(r, domain.CycleFor(r.BillingCycle), a.PeriodStart, a.PeriodEnd)
	inv.DueDate = utils.AddDays(a.PeriodEnd, g.dueDays)
	addComponents(inv, r, a, domain.InvoiceItemRental, "Rental")
	return g.finish(inv)
}

// Extension builds the -EXT invoice for days added after the rental was
// already billed through its old end date
func (g *Generator) Extension(r *domain.Rental, a Amounts, now time.Time) (*domain.Invoice, error) {
	inv := newInvoice(r, domain.InvoiceCycleExtension, a.PeriodStart, a.PeriodEnd)
	inv.DueDate = utils.AddDays(now, g.dueDays)
	inv.Notes = fmt.Sprintf("Extension of %d days", a.RentalDays)
	addComponents(inv, r, a, domain.InvoiceItemExtension, "Extension")
	return g.finish(inv)
}

// Cancellation builds the -CAN invoice carrying a late cancellation fee
func (g *Generator) Cancellation(r *domain.Rental, fee decimal.Decimal, now time.Time) (*domain.Invoice, error) {
	start := utils.TruncateDay(r.StartDate)
	inv := newInvoice(r, domain.InvoiceCycleCancellation, start, start)
	inv.DueDate = utils.AddDays(now, g.dueDays)
	inv.Notes = "Late cancellation fee"
	inv.Items = append(inv.Items, domain.InvoiceItem{
		Description: "Cancellation fee (one day)",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   fee,
		TotalPrice:  fee,
		ItemType:    domain.InvoiceItemCancellation,
		Metadata:    map[string]string{"reason": r.CancellationReason},
	})
	return g.finish(inv)
}

// Credit describes days that were billed but not used
type Credit struct {
	Start, End time.Time
	Days       int
	RapDays    int
}

// EarlyReturnCredit returns the billed days after returnDate, and how many
// of them carried RAP. RAP days are billed from the start of the rental.
func EarlyReturnCredit(r *domain.Rental, returnDate time.Time) (Credit, bool) {
	if r.LastBilledDate == nil || !returnDate.Before(*r.LastBilledDate) {
		return Credit{}, false
	}
	c := Credit{Start: utils.AddDays(returnDate, 1), End: utils.TruncateDay(*r.LastBilledDate)}
	c.Days = utils.InclusiveDays(c.Start, c.End)
	if r.RapDaysBilled > 0 {
		rapEnd := utils.AddDays(r.StartDate, int(r.RapDaysBilled)-1)
		_, _, c.RapDays = utils.Overlap(c.Start, c.End, r.StartDate, rapEnd)
	}
	return c, true
}

// Adjustment builds the negative -ADJ invoice crediting unused days, with a
// proportional tax credit. It is due immediately.
func (g *Generator) Adjustment(r *domain.Rental, c Credit, refundOf *domain.Invoice, now time.Time) (*domain.Invoice, error) {
	inv := newInvoice(r, domain.InvoiceCycleAdjustment, c.Start, c.End)
	inv.DueDate = utils.TruncateDay(now)
	inv.Notes = fmt.Sprintf("Early return credit for %d days", c.Days)
	if refundOf != nil {
		id := refundOf.ID
		inv.RefundOfInvoiceID = &id
	}

	days := int32(c.Days)
	rate := r.DailyRate
	inv.Items = append(inv.Items, domain.InvoiceItem{
		Description: fmt.Sprintf("Early return credit %s to %s", utils.FormatDate(c.Start), utils.FormatDate(c.End)),
		Quantity:    decimal.NewFromInt(int64(c.Days)),
		UnitPrice:   r.DailyRate.Neg(),
		TotalPrice:  utils.Times(r.DailyRate, c.Days).Neg(),
		ItemType:    domain.InvoiceItemEarlyReturn,
		RentalDays:  &days,
		DailyRate:   &rate,
	})
	if c.RapDays > 0 && r.RapDailyRate.IsPositive() {
		rapDays := int32(c.RapDays)
		rapRate := r.RapDailyRate
		inv.Items = append(inv.Items, domain.InvoiceItem{
			Description: "Unused roadside assistance credit",
			Quantity:    decimal.NewFromInt(int64(c.RapDays)),
			UnitPrice:   r.RapDailyRate.Neg(),
			TotalPrice:  utils.Times(r.RapDailyRate, c.RapDays).Neg(),
			ItemType:    domain.InvoiceItemEarlyReturn,
			RentalDays:  &rapDays,
			DailyRate:   &rapRate,
			Metadata:    map[string]string{"component": "rap"},
		})
	}
	return g.finish(inv)
}

func newInvoice(r *domain.Rental, cycle domain.InvoiceCycle, start, end time.Time) *domain.Invoice {
	return &domain.Invoice{
		RentalID:           r.ID,
		ShopOwnerID:        r.ShopOwnerID,
		CustomerID:         r.CustomerID,
		BillingPeriodStart: start,
		BillingPeriodEnd:   end,
		Status:             domain.InvoiceStatusPending,
		BillingCycle:       cycle,
	}
}

// addComponents appends one line per nonzero component of a
func addComponents(inv *domain.Invoice, r *domain.Rental, a Amounts, baseType domain.InvoiceItemType, label string) {
	period := map[string]string{
		"period_start": utils.FormatDate(a.PeriodStart),
		"period_end":   utils.FormatDate(a.PeriodEnd),
	}
	if a.BaseRental.IsPositive() {
		days := int32(a.RentalDays)
		rate := r.DailyRate
		inv.Items = append(inv.Items, domain.InvoiceItem{
			Description: fmt.Sprintf("%s %s to %s (%d days)", label, period["period_start"], period["period_end"], a.RentalDays),
			Quantity:    decimal.NewFromInt(int64(a.RentalDays)),
			UnitPrice:   r.DailyRate,
			TotalPrice:  a.BaseRental,
			ItemType:    baseType,
			RentalDays:  &days,
			DailyRate:   &rate,
			Metadata:    period,
		})
	}
	if a.RapAmount.IsPositive() {
		days := int32(a.RapDays)
		rate := r.RapDailyRate
		inv.Items = append(inv.Items, domain.InvoiceItem{
			Description: fmt.Sprintf("Roadside assistance (%d days)", a.RapDays),
			Quantity:    decimal.NewFromInt(int64(a.RapDays)),
			UnitPrice:   r.RapDailyRate,
			TotalPrice:  a.RapAmount,
			ItemType:    domain.InvoiceItemRap,
			RentalDays:  &days,
			DailyRate:   &rate,
			Metadata:    period,
		})
	}
	for _, inc := range a.Incidents {
		inv.Items = append(inv.Items, domain.InvoiceItem{
			Description: fmt.Sprintf("Incident: %s on %s", inc.IncidentType, utils.FormatDate(inc.IncidentDate)),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   inc.Amount,
			TotalPrice:  inc.Amount,
			ItemType:    domain.InvoiceItemFee,
			Metadata: map[string]string{
				"incident_id":   strconv.Itoa(int(inc.ID)),
				"incident_type": string(inc.IncidentType),
			},
		})
	}
}

// finish appends the tax line, sets the header totals and validates
func (g *Generator) finish(inv *domain.Invoice) (*domain.Invoice, error) {
	inv.Subtotal = inv.ChargeSubtotal()
	inv.TaxAmount = g.calc.Tax(inv.Subtotal)
	inv.TotalAmount = inv.Subtotal.Add(inv.TaxAmount)
	if !inv.TaxAmount.IsZero() {
		inv.Items = append(inv.Items, domain.InvoiceItem{
			Description: fmt.Sprintf("Sales tax (%s%%)", g.calc.TaxRate().Shift(2).String()),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   inv.TaxAmount,
			TotalPrice:  inv.TaxAmount,
			ItemType:    domain.InvoiceItemTax,
		})
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return inv, nil
}
