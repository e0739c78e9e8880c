package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRentalStatusTransitions(t *testing.T) {
	tests := []struct {
		from    RentalStatus
		to      RentalStatus
		allowed bool
	}{
		{RentalStatusPending, RentalStatusActive, true},
		{RentalStatusPending, RentalStatusCancelled, true},
		{RentalStatusPending, RentalStatusCompleted, false},
		{RentalStatusActive, RentalStatusCompleted, true},
		{RentalStatusActive, RentalStatusExtended, true},
		{RentalStatusActive, RentalStatusCancelled, false},
		{RentalStatusExtended, RentalStatusActive, true},
		{RentalStatusExtended, RentalStatusCancelled, false},
		{RentalStatusCompleted, RentalStatusActive, false},
		{RentalStatusCancelled, RentalStatusActive, false},
		{RentalStatusCancelled, RentalStatusPending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestRental_TransitionTo(t *testing.T) {
	r := &Rental{ID: 7, Status: RentalStatusCompleted}

	err := r.TransitionTo(RentalStatusActive)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Contains(t, err.Error(), "rental 7")
	assert.Equal(t, RentalStatusCompleted, r.Status)
}

func TestRental_Validate(t *testing.T) {
	start := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	r := &Rental{
		StartDate:    start,
		EndDate:      start.AddDate(0, 0, -1),
		Status:       RentalStatusPending,
		BillingCycle: BillingCycleWeekly,
	}
	assert.True(t, errors.Is(r.Validate(), ErrDataIntegrity))

	r.EndDate = start
	assert.NoError(t, r.Validate())
	assert.Equal(t, 1, r.TotalDays())

	r.RapDays, r.RapDaysBilled = 2, 3
	assert.True(t, errors.Is(r.Validate(), ErrDataIntegrity))
}

func TestRental_CommissionSplit(t *testing.T) {
	r := &Rental{CommissionRate: dec("0.15")}
	assert.True(t, dec("157.50").Equal(r.CommissionFor(dec("1050.00"))))
	assert.True(t, dec("892.50").Equal(r.OwnerShareFor(dec("1050.00"))))
}

func TestIncident_Billable(t *testing.T) {
	approvedDamage := &Incident{IncidentType: IncidentTypeDamage, Status: IncidentStatusApproved, Amount: dec("120")}
	assert.True(t, approvedDamage.Billable())

	towing := &Incident{IncidentType: IncidentTypeTowing, Status: IncidentStatusApproved, Amount: dec("90")}
	assert.False(t, towing.Billable(), "RAP-covered incidents are never charged")

	reported := &Incident{IncidentType: IncidentTypeFuel, Status: IncidentStatusReported, Amount: dec("30")}
	assert.False(t, reported.Billable())

	assert.True(t, towing.IncidentType.RapCovered())
	assert.True(t, IncidentTypeJumpStart.RapCovered())
	assert.False(t, IncidentTypeOther.RapCovered())
}

func TestIncident_Transitions(t *testing.T) {
	i := &Incident{Status: IncidentStatusReported}
	require.NoError(t, i.TransitionTo(IncidentStatusUnderReview))
	require.NoError(t, i.TransitionTo(IncidentStatusApproved))
	require.NoError(t, i.TransitionTo(IncidentStatusCharged))
	assert.True(t, i.CanBeRefunded())
	require.NoError(t, i.TransitionTo(IncidentStatusRefunded))
	assert.True(t, errors.Is(i.TransitionTo(IncidentStatusApproved), ErrInvalidTransition))
}

func TestSecurityDepositHold(t *testing.T) {
	now := time.Now()

	t.Run("Full release", func(t *testing.T) {
		h := &SecurityDepositHold{Amount: dec("250.00"), Status: HoldStatusPending}
		require.NoError(t, h.Activate("hold_1", now))
		require.NoError(t, h.Release(h.Remaining(), ReleaseReasonRentalCompleted, now))
		assert.Equal(t, HoldStatusFullyReleased, h.Status)
		assert.False(t, h.CanBeReleased())
	})

	t.Run("Partial withhold then release", func(t *testing.T) {
		h := &SecurityDepositHold{Amount: dec("250.00"), Status: HoldStatusActive}
		require.NoError(t, h.Withhold(dec("100.00"), ReleaseReasonIncidentCharge, now))
		assert.Equal(t, HoldStatusPartiallyReleased, h.Status)
		assert.True(t, dec("150.00").Equal(h.Remaining()))

		err := h.Release(dec("150.01"), ReleaseReasonRentalCompleted, now)
		assert.True(t, errors.Is(err, ErrInvalidAmount))

		require.NoError(t, h.Release(dec("150.00"), ReleaseReasonRentalCompleted, now))
		assert.Equal(t, HoldStatusFullyReleased, h.Status)
		assert.True(t, h.ReleasedAmount.Add(h.WithheldAmount).LessThanOrEqual(h.Amount))
	})

	t.Run("Pending hold cannot be released", func(t *testing.T) {
		h := &SecurityDepositHold{Amount: dec("250.00"), Status: HoldStatusPending}
		assert.True(t, errors.Is(h.Release(dec("10"), ReleaseReasonAdminOverride, now), ErrHoldNotActive))
	})
}

func TestPayout_RetryBound(t *testing.T) {
	now := time.Now()
	rental := &Rental{ID: 1, CarOwnerID: 9, CommissionRate: dec("0.15")}
	p := NewPayout(rental, dec("1050.00"), "usd", 2, "key")

	assert.True(t, dec("157.50").Equal(p.CommissionAmount))
	assert.True(t, dec("892.50").Equal(p.NetAmount))
	assert.True(t, p.CanBeProcessed())

	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.MarkFailed(PayoutFailureNetworkError, "timeout", now))
	assert.True(t, p.CanBeRetried())

	require.NoError(t, p.StartProcessing())
	require.NoError(t, p.MarkFailed(PayoutFailureBankError, "rejected", now))
	assert.Equal(t, int32(2), p.RetryCount)
	assert.False(t, p.CanBeRetried())
	assert.True(t, p.IsTerminal())
	assert.True(t, errors.Is(p.StartProcessing(), ErrInvalidTransition))
	assert.LessOrEqual(t, p.RetryCount, p.MaxRetries)
}

func TestPayout_CompletedIsImmutable(t *testing.T) {
	p := &Payout{Status: PayoutStatusProcessing, MaxRetries: 3}
	require.NoError(t, p.MarkCompleted("tr_1", "po_1", time.Now()))
	assert.Error(t, p.Cancel())
	assert.Error(t, p.MarkFailed(PayoutFailureOther, "late", time.Now()))
	assert.Equal(t, PayoutStatusCompleted, p.Status)
}

func TestInvoice_MarkOverdue(t *testing.T) {
	yesterday := time.Now().AddDate(0, 0, -1)

	pending := &Invoice{Status: InvoiceStatusPending, DueDate: yesterday}
	assert.True(t, pending.MarkOverdue(time.Now()))
	assert.Equal(t, InvoiceStatusOverdue, pending.Status)
	assert.False(t, pending.MarkOverdue(time.Now()), "second sweep changes nothing")

	paid := &Invoice{Status: InvoiceStatusPaid, DueDate: yesterday}
	assert.False(t, paid.MarkOverdue(time.Now()))
	assert.Equal(t, InvoiceStatusPaid, paid.Status)
}

func TestInvoice_PaidOnlyLeavesThroughCancellation(t *testing.T) {
	inv := &Invoice{InvoiceNumber: "INV-2025-01-0001", Status: InvoiceStatusPending}
	require.NoError(t, inv.MarkPaid("pi_1", time.Now()))
	assert.True(t, errors.Is(inv.MarkFailed("late failure"), ErrInvalidTransition))
	require.NoError(t, inv.MarkCancelled("re_1"))
	assert.Equal(t, "re_1", inv.ExternalRefundRef)
}

func TestInvoice_Validate(t *testing.T) {
	days := int32(7)
	inv := &Invoice{
		InvoiceNumber: "INV-2025-01-0001",
		Subtotal:      dec("350.00"),
		TaxAmount:     dec("29.75"),
		TotalAmount:   dec("379.75"),
		Items: []InvoiceItem{
			{Description: "Rental Fee", Quantity: dec("7"), UnitPrice: dec("50.00"), TotalPrice: dec("350.00"), ItemType: InvoiceItemRental, RentalDays: &days},
			{Description: "Tax", Quantity: dec("1"), UnitPrice: dec("29.75"), TotalPrice: dec("29.75"), ItemType: InvoiceItemTax},
		},
	}
	assert.NoError(t, inv.Validate())

	inv.TotalAmount = dec("379.74")
	assert.True(t, errors.Is(inv.Validate(), ErrDataIntegrity))
}

func TestRateTable_Lookup(t *testing.T) {
	rt := RateTable{
		ByType:   map[VehicleType]VehicleRates{VehicleTypeLuxury: {DailyRate: dec("80"), RapDailyRate: dec("10")}},
		Fallback: VehicleRates{DailyRate: dec("50"), RapDailyRate: dec("6")},
	}
	assert.True(t, dec("80").Equal(rt.Lookup(VehicleTypeLuxury).DailyRate))
	assert.True(t, dec("50").Equal(rt.Lookup(VehicleTypeEconomy).DailyRate))
}

func TestInvoice_RefundableAmount(t *testing.T) {
	paid := &Invoice{Status: InvoiceStatusPaid, TotalAmount: dec("399.28"), ExternalPaymentRef: "pi_1"}
	assert.True(t, paid.RefundableAmount(decimal.Zero).Equal(dec("399.28")))
	assert.True(t, paid.RefundableAmount(dec("217")).Equal(dec("182.28")))
	assert.True(t, paid.RefundableAmount(dec("500")).IsZero())

	uncaptured := &Invoice{Status: InvoiceStatusPaid, TotalAmount: dec("50")}
	assert.True(t, uncaptured.RefundableAmount(decimal.Zero).IsZero())

	pending := &Invoice{Status: InvoiceStatusPending, TotalAmount: dec("50"), ExternalPaymentRef: "pi_2"}
	assert.True(t, pending.RefundableAmount(decimal.Zero).IsZero())

	credit := &Invoice{Status: InvoiceStatusPaid, TotalAmount: dec("-50"), ExternalPaymentRef: "pi_3"}
	assert.True(t, credit.RefundableAmount(decimal.Zero).IsZero())
}

func TestRefundedByCharge(t *testing.T) {
	got := RefundedByCharge([]InvoiceRefund{
		{ChargeInvoiceID: 1, Amount: dec("10")},
		{ChargeInvoiceID: 2, Amount: dec("5")},
		{ChargeInvoiceID: 1, Amount: dec("2.50")},
	})
	assert.True(t, got[1].Equal(dec("12.50")))
	assert.True(t, got[2].Equal(dec("5")))
	assert.True(t, got[3].IsZero())
}
