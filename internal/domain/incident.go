package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type IncidentType string

const (
	IncidentTypeTowing          IncidentType = "towing"
	IncidentTypeTireReplacement IncidentType = "tire_replacement"
	IncidentTypeDamage          IncidentType = "damage"
	IncidentTypeFuel            IncidentType = "fuel"
	IncidentTypeLockout         IncidentType = "lockout"
	IncidentTypeJumpStart       IncidentType = "jump_start"
	IncidentTypeOther           IncidentType = "other"
)

// Valid reports whether t is a known incident type
func (t IncidentType) Valid() bool {
	switch t {
	case IncidentTypeTowing, IncidentTypeTireReplacement, IncidentTypeDamage,
		IncidentTypeFuel, IncidentTypeLockout, IncidentTypeJumpStart, IncidentTypeOther:
		return true
	}
	return false
}

// RapCovered reports whether the roadside assistance package absorbs the incident
func (t IncidentType) RapCovered() bool {
	switch t {
	case IncidentTypeTowing, IncidentTypeTireReplacement, IncidentTypeLockout, IncidentTypeJumpStart:
		return true
	case IncidentTypeDamage, IncidentTypeFuel, IncidentTypeOther:
		return false
	}
	return false
}

type IncidentStatus string

const (
	IncidentStatusReported    IncidentStatus = "reported"
	IncidentStatusUnderReview IncidentStatus = "under_review"
	IncidentStatusApproved    IncidentStatus = "approved"
	IncidentStatusCharged     IncidentStatus = "charged"
	IncidentStatusRefunded    IncidentStatus = "refunded"
	IncidentStatusDismissed   IncidentStatus = "dismissed"
)

func (s IncidentStatus) String() string { return string(s) }

func (s IncidentStatus) CanTransitionTo(next IncidentStatus) bool {
	switch s {
	case IncidentStatusReported:
		return next == IncidentStatusUnderReview || next == IncidentStatusApproved || next == IncidentStatusDismissed
	case IncidentStatusUnderReview:
		return next == IncidentStatusApproved || next == IncidentStatusDismissed
	case IncidentStatusApproved:
		return next == IncidentStatusCharged || next == IncidentStatusDismissed
	case IncidentStatusCharged:
		return next == IncidentStatusRefunded
	case IncidentStatusRefunded, IncidentStatusDismissed:
		return false
	}
	return false
}

type Incident struct {
	ID               int32           `json:"id"`
	RentalID         int32           `json:"rental_id"`
	CustomerID       int32           `json:"customer_id"`
	IncidentType     IncidentType    `json:"incident_type"`
	Description      string          `json:"description"`
	IncidentDate     time.Time       `json:"incident_date"`
	Amount           decimal.Decimal `json:"amount"`
	Status           IncidentStatus  `json:"status"`
	AdminNotes       string          `json:"admin_notes"`
	ChargedInvoiceID *int32          `json:"charged_invoice_id,omitempty"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// TransitionTo moves the incident to next or returns an ErrInvalidTransition
func (i *Incident) TransitionTo(next IncidentStatus) error {
	if !i.Status.CanTransitionTo(next) {
		return transitionError(fmt.Sprintf("incident %d", i.ID), i.Status, next)
	}
	i.Status = next
	return nil
}

// Billable reports whether the incident contributes to a billing period
func (i *Incident) Billable() bool {
	return i.Status == IncidentStatusApproved && !i.IncidentType.RapCovered() && i.Amount.IsPositive()
}

// CanBeRefunded reports whether a charged incident can be reversed
func (i *Incident) CanBeRefunded() bool {
	return i.Status == IncidentStatusCharged
}
