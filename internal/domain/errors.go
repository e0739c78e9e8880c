package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a lifecycle precondition does not hold
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrVehicleUnavailable is returned when a booking targets a vehicle that is not available
	ErrVehicleUnavailable = errors.New("vehicle is not available")
	// ErrCollectionFailed wraps any payment collaborator failure during billing
	ErrCollectionFailed = errors.New("payment collection failed")
	// ErrPayoutFailed wraps any payout-rail failure
	ErrPayoutFailed = errors.New("payout failed")
	// ErrDataIntegrity marks a violated invariant; the unit of work is aborted
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrNotFound is returned by repositories when no row matches
	ErrNotFound = errors.New("not found")
	// ErrHoldNotActive is returned when a deposit hold cannot be released or withheld
	ErrHoldNotActive = errors.New("security deposit hold is not active")
	// ErrInvalidAmount is returned for non-positive or out of range amounts
	ErrInvalidAmount = errors.New("invalid amount")
)

// TransitionError describes a rejected status change
type TransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %s to %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func transitionError(entity string, from, to fmt.Stringer) error {
	return &TransitionError{Entity: entity, From: from.String(), To: to.String()}
}

// IntegrityError returns an ErrDataIntegrity carrying a formatted reason
func IntegrityError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}
