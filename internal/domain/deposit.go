package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type HoldStatus string

const (
	HoldStatusPending           HoldStatus = "pending"
	HoldStatusActive            HoldStatus = "active"
	HoldStatusPartiallyReleased HoldStatus = "partially_released"
	HoldStatusFullyReleased     HoldStatus = "fully_released"
	HoldStatusFailed            HoldStatus = "failed"
)

type ReleaseReason string

const (
	ReleaseReasonRentalCompleted ReleaseReason = "rental_completed"
	ReleaseReasonRentalCancelled ReleaseReason = "rental_cancelled"
	ReleaseReasonIncidentCharge  ReleaseReason = "incident_charge"
	ReleaseReasonPartialIncident ReleaseReason = "partial_incident"
	ReleaseReasonAdminOverride   ReleaseReason = "admin_override"
)

type SecurityDepositHold struct {
	ID             int32           `json:"id"`
	RentalID       int32           `json:"rental_id"`
	CustomerID     int32           `json:"customer_id"`
	Amount         decimal.Decimal `json:"amount"`
	Status         HoldStatus      `json:"status"`
	ReleasedAmount decimal.Decimal `json:"released_amount"`
	WithheldAmount decimal.Decimal `json:"withheld_amount"`
	ReleaseReason  ReleaseReason   `json:"release_reason"`
	ExternalRef    string          `json:"external_ref"`
	ReleaseRef     string          `json:"release_ref"`
	HoldDate       *time.Time      `json:"hold_date,omitempty"`
	ReleaseDate    *time.Time      `json:"release_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Activate records a successfully placed hold
func (h *SecurityDepositHold) Activate(ref string, at time.Time) error {
	if h.Status != HoldStatusPending {
		return fmt.Errorf("%w: hold %d is %s", ErrInvalidTransition, h.ID, h.Status)
	}
	h.Status = HoldStatusActive
	h.ExternalRef = ref
	h.HoldDate = &at
	return nil
}

// MarkFailed records a hold the payment collaborator refused
func (h *SecurityDepositHold) MarkFailed() {
	h.Status = HoldStatusFailed
}

// IsActive reports whether the hold guards the rental
func (h *SecurityDepositHold) IsActive() bool {
	return h.Status == HoldStatusActive
}

// CanBeReleased reports whether any part of the hold is still reserved
func (h *SecurityDepositHold) CanBeReleased() bool {
	return h.Status == HoldStatusActive || h.Status == HoldStatusPartiallyReleased
}

// Remaining is the part of the hold neither released nor withheld
func (h *SecurityDepositHold) Remaining() decimal.Decimal {
	return h.Amount.Sub(h.ReleasedAmount).Sub(h.WithheldAmount)
}

// Release returns part of the hold to the customer
func (h *SecurityDepositHold) Release(amount decimal.Decimal, reason ReleaseReason, at time.Time) error {
	if err := h.settle(amount); err != nil {
		return err
	}
	h.ReleasedAmount = h.ReleasedAmount.Add(amount)
	h.ReleaseReason = reason
	h.ReleaseDate = &at
	h.deriveStatus()
	return nil
}

// Withhold keeps part of the hold to cover a charge
func (h *SecurityDepositHold) Withhold(amount decimal.Decimal, reason ReleaseReason, at time.Time) error {
	if err := h.settle(amount); err != nil {
		return err
	}
	h.WithheldAmount = h.WithheldAmount.Add(amount)
	h.ReleaseReason = reason
	h.ReleaseDate = &at
	h.deriveStatus()
	return nil
}

func (h *SecurityDepositHold) settle(amount decimal.Decimal) error {
	if !h.CanBeReleased() {
		return fmt.Errorf("%w: hold %d is %s", ErrHoldNotActive, h.ID, h.Status)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	if amount.GreaterThan(h.Remaining()) {
		return fmt.Errorf("%w: %s exceeds remaining hold %s", ErrInvalidAmount, amount, h.Remaining())
	}
	return nil
}

// deriveStatus sets the status from the settled share of the hold
func (h *SecurityDepositHold) deriveStatus() {
	switch {
	case h.Remaining().IsZero():
		h.Status = HoldStatusFullyReleased
	case h.ReleasedAmount.Add(h.WithheldAmount).IsPositive():
		h.Status = HoldStatusPartiallyReleased
	}
}
