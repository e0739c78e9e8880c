package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusScheduled  PayoutStatus = "scheduled"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

func (s PayoutStatus) String() string { return string(s) }

func (s PayoutStatus) CanTransitionTo(next PayoutStatus) bool {
	switch s {
	case PayoutStatusPending:
		return next == PayoutStatusScheduled || next == PayoutStatusProcessing || next == PayoutStatusCancelled
	case PayoutStatusScheduled:
		return next == PayoutStatusProcessing || next == PayoutStatusCancelled
	case PayoutStatusProcessing:
		return next == PayoutStatusCompleted || next == PayoutStatusFailed
	case PayoutStatusFailed:
		return next == PayoutStatusProcessing || next == PayoutStatusCancelled
	case PayoutStatusCompleted, PayoutStatusCancelled:
		return false
	}
	return false
}

type PayoutFailureReason string

const (
	PayoutFailureInsufficientFunds PayoutFailureReason = "insufficient_funds"
	PayoutFailureAccountClosed     PayoutFailureReason = "account_closed"
	PayoutFailureInvalidAccount    PayoutFailureReason = "invalid_account"
	PayoutFailureBankError         PayoutFailureReason = "bank_error"
	PayoutFailureNetworkError      PayoutFailureReason = "network_error"
	PayoutFailureOther             PayoutFailureReason = "other"
)

type Payout struct {
	ID               int32               `json:"id"`
	RentalID         int32               `json:"rental_id"`
	CarOwnerID       int32               `json:"car_owner_id"`
	Amount           decimal.Decimal     `json:"amount"`
	CommissionAmount decimal.Decimal     `json:"commission_amount"`
	NetAmount        decimal.Decimal     `json:"net_amount"`
	Currency         string              `json:"currency"`
	Status           PayoutStatus        `json:"status"`
	RetryCount       int32               `json:"retry_count"`
	MaxRetries       int32               `json:"max_retries"`
	FailureReason    PayoutFailureReason `json:"failure_reason"`
	FailureMessage   string              `json:"failure_message"`
	TransferRef      string              `json:"transfer_ref"`
	PayoutRef        string              `json:"payout_ref"`
	IdempotencyKey   string              `json:"idempotency_key"`
	ScheduledDate    *time.Time          `json:"scheduled_date,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewPayout computes net = gross - gross x commissionRate
func NewPayout(r *Rental, gross decimal.Decimal, currency string, maxRetries int32, key string) *Payout {
	commission := r.CommissionFor(gross)
	return &Payout{
		RentalID:         r.ID,
		CarOwnerID:       r.CarOwnerID,
		Amount:           gross,
		CommissionAmount: commission,
		NetAmount:        gross.Sub(commission),
		Currency:         currency,
		Status:           PayoutStatusPending,
		MaxRetries:       maxRetries,
		IdempotencyKey:   key,
	}
}

func (p *Payout) transition(next PayoutStatus) error {
	if !p.Status.CanTransitionTo(next) {
		return transitionError(fmt.Sprintf("payout %d", p.ID), p.Status, next)
	}
	p.Status = next
	return nil
}

// CanBeProcessed reports whether the sweep may start a first attempt
func (p *Payout) CanBeProcessed() bool {
	return p.Status == PayoutStatusPending || p.Status == PayoutStatusScheduled
}

// CanBeRetried reports whether a failed payout has attempts left
func (p *Payout) CanBeRetried() bool {
	return p.Status == PayoutStatusFailed && p.RetryCount < p.MaxRetries
}

// Schedule sets the payout date
func (p *Payout) Schedule(on time.Time) error {
	if err := p.transition(PayoutStatusScheduled); err != nil {
		return err
	}
	p.ScheduledDate = &on
	return nil
}

// StartProcessing claims the payout for an attempt
func (p *Payout) StartProcessing() error {
	if !p.CanBeProcessed() && !p.CanBeRetried() {
		return fmt.Errorf("%w: payout %d is %s with %d/%d retries", ErrInvalidTransition, p.ID, p.Status, p.RetryCount, p.MaxRetries)
	}
	return p.transition(PayoutStatusProcessing)
}

// MarkCompleted records a successful transfer
func (p *Payout) MarkCompleted(transferRef, payoutRef string, at time.Time) error {
	if err := p.transition(PayoutStatusCompleted); err != nil {
		return err
	}
	p.TransferRef = transferRef
	p.PayoutRef = payoutRef
	p.ProcessedAt = &at
	p.FailureReason = ""
	p.FailureMessage = ""
	return nil
}

// MarkFailed records a failed attempt and counts it against max_retries
func (p *Payout) MarkFailed(reason PayoutFailureReason, message string, at time.Time) error {
	if err := p.transition(PayoutStatusFailed); err != nil {
		return err
	}
	if p.RetryCount < p.MaxRetries {
		p.RetryCount++
	}
	p.FailureReason = reason
	p.FailureMessage = message
	p.ProcessedAt = &at
	return nil
}

// Cancel stops a payout that has not been transferred
func (p *Payout) Cancel() error {
	return p.transition(PayoutStatusCancelled)
}

// IsTerminal reports whether the payout can no longer change
func (p *Payout) IsTerminal() bool {
	return p.Status == PayoutStatusCompleted || p.Status == PayoutStatusCancelled ||
		(p.Status == PayoutStatusFailed && !p.CanBeRetried())
}
