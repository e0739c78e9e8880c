package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type RentalStatus string

const (
	RentalStatusPending   RentalStatus = "pending"
	RentalStatusActive    RentalStatus = "active"
	RentalStatusCompleted RentalStatus = "completed"
	RentalStatusCancelled RentalStatus = "cancelled"
	RentalStatusExtended  RentalStatus = "extended"
)

func (s RentalStatus) String() string { return string(s) }

// Valid reports whether s is one of the known rental statuses
func (s RentalStatus) Valid() bool {
	switch s {
	case RentalStatusPending, RentalStatusActive, RentalStatusCompleted, RentalStatusCancelled, RentalStatusExtended:
		return true
	}
	return false
}

// CanTransitionTo encodes the rental state machine.
// Transitions are one-directional except active <-> extended.
func (s RentalStatus) CanTransitionTo(next RentalStatus) bool {
	switch s {
	case RentalStatusPending:
		return next == RentalStatusActive || next == RentalStatusCancelled
	case RentalStatusActive:
		return next == RentalStatusCompleted || next == RentalStatusExtended
	case RentalStatusExtended:
		return next == RentalStatusActive
	case RentalStatusCompleted, RentalStatusCancelled:
		return false
	}
	return false
}

// InProgress reports whether the rental is between pickup and return
func (s RentalStatus) InProgress() bool {
	return s == RentalStatusActive || s == RentalStatusExtended
}

type BillingCycle string

const (
	BillingCycleWeekly  BillingCycle = "weekly"
	BillingCycleMonthly BillingCycle = "monthly"
)

// Valid reports whether c is a rental billing cycle
func (c BillingCycle) Valid() bool {
	return c == BillingCycleWeekly || c == BillingCycleMonthly
}

// RentalPayoutStatus mirrors the state of the car owner's payout on the rental.
// The empty value means no payout has been scheduled yet.
type RentalPayoutStatus string

const (
	RentalPayoutNone       RentalPayoutStatus = ""
	RentalPayoutPending    RentalPayoutStatus = "pending"
	RentalPayoutProcessing RentalPayoutStatus = "processing"
	RentalPayoutCompleted  RentalPayoutStatus = "completed"
	RentalPayoutFailed     RentalPayoutStatus = "failed"
)

type Rental struct {
	ID          int32 `json:"id"`
	ShopOwnerID int32 `json:"shop_owner_id"`
	CustomerID  int32 `json:"customer_id"`
	CarOwnerID  int32 `json:"car_owner_id"`
	VehicleID   int32 `json:"vehicle_id"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	// OriginalEndDate is the end date agreed at booking. Extensions move
	// EndDate only; early and late returns are measured against this date.
	OriginalEndDate  time.Time  `json:"original_end_date"`
	ActualReturnDate *time.Time `json:"actual_return_date,omitempty"`

	DailyRate     decimal.Decimal `json:"daily_rate"`
	RapDailyRate  decimal.Decimal `json:"rap_daily_rate"`
	RapDays       int32           `json:"rap_days"`
	RapDaysBilled int32           `json:"rap_days_billed"`
	RapTotal      decimal.Decimal `json:"rap_total"`
	TotalAmount   decimal.Decimal `json:"total_amount"`

	Status          RentalStatus `json:"status"`
	BillingCycle    BillingCycle `json:"billing_cycle"`
	NextBillingDate *time.Time   `json:"next_billing_date,omitempty"`
	LastBilledDate  *time.Time   `json:"last_billed_date,omitempty"`

	ExtensionDays      int32           `json:"extension_days"`
	EarlyReturnDays    int32           `json:"early_return_days"`
	IncidentCharges    decimal.Decimal `json:"incident_charges"`
	CancellationReason string          `json:"cancellation_reason"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`

	CommissionRate   decimal.Decimal    `json:"commission_rate"`
	CommissionAmount decimal.Decimal    `json:"commission_amount"`
	PayoutAmount     decimal.Decimal    `json:"payout_amount"`
	PayoutStatus     RentalPayoutStatus `json:"payout_status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransitionTo moves the rental to next or returns an ErrInvalidTransition
func (r *Rental) TransitionTo(next RentalStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return transitionError(fmt.Sprintf("rental %d", r.ID), r.Status, next)
	}
	r.Status = next
	return nil
}

// TotalDays is the inclusive length of the current span
func (r *Rental) TotalDays() int {
	return int(r.EndDate.Sub(r.StartDate).Hours()/24) + 1
}

// BookedDays is the inclusive length of the span agreed at booking
func (r *Rental) BookedDays() int {
	return int(r.OriginalEndDate.Sub(r.StartDate).Hours()/24) + 1
}

// CommissionFor returns amount x commission_rate
func (r *Rental) CommissionFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(r.CommissionRate)
}

// OwnerShareFor returns amount x (1 - commission_rate)
func (r *Rental) OwnerShareFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.NewFromInt(1).Sub(r.CommissionRate))
}

// RapDaysRemaining is how many RAP days have not been billed yet
func (r *Rental) RapDaysRemaining() int32 {
	if left := r.RapDays - r.RapDaysBilled; left > 0 {
		return left
	}
	return 0
}

// FullyBilled reports whether billing has reached the end date
func (r *Rental) FullyBilled() bool {
	return r.LastBilledDate != nil && !r.LastBilledDate.Before(r.EndDate)
}

// Validate checks structural invariants of the aggregate
func (r *Rental) Validate() error {
	if r.EndDate.Before(r.StartDate) {
		return IntegrityError("rental %d: end_date %s before start_date %s", r.ID, r.EndDate.Format("2006-01-02"), r.StartDate.Format("2006-01-02"))
	}
	if !r.Status.Valid() {
		return IntegrityError("rental %d: unknown status %q", r.ID, r.Status)
	}
	if !r.BillingCycle.Valid() {
		return IntegrityError("rental %d: unknown billing cycle %q", r.ID, r.BillingCycle)
	}
	if r.RapDaysBilled > r.RapDays {
		return IntegrityError("rental %d: rap_days_billed %d exceeds rap_days %d", r.ID, r.RapDaysBilled, r.RapDays)
	}
	if r.DailyRate.IsNegative() || r.RapDailyRate.IsNegative() {
		return IntegrityError("rental %d: negative rate", r.ID)
	}
	return nil
}
