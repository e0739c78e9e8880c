package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
)

type depositService struct {
	deps *Dependencies
}

func NewDepositService(deps *Dependencies) DepositService {
	return &depositService{deps: deps}
}

// PlaceHold reserves the configured deposit on the customer's card. A
// refused hold comes back marked failed with an error wrapping
// ErrCollectionFailed; the caller's unit of work rolls the hold row back
// together with the rental it belongs to.
func (s *depositService) PlaceHold(ctx context.Context, rental *domain.Rental, customer *domain.Party) (*domain.SecurityDepositHold, error) {
	logger.EnterMethod("depositService.PlaceHold", "rentalID", rental.ID)

	hold := &domain.SecurityDepositHold{
		RentalID:       rental.ID,
		CustomerID:     rental.CustomerID,
		Amount:         s.deps.Policy.DepositAmount,
		Status:         domain.HoldStatusPending,
		ReleasedAmount: decimal.Zero,
		WithheldAmount: decimal.Zero,
	}
	if err := s.deps.Repos.Holds.Create(ctx, hold); err != nil {
		logger.ExitMethodWithError("depositService.PlaceHold", err)
		return nil, err
	}

	callCtx, cancel := s.deps.callContext(ctx)
	defer cancel()

	logger.ExternalServiceCall("payments", "place_hold", "rental_id", rental.ID, "amount", hold.Amount)
	ref, err := s.deps.Gateway.PlaceSecurityDepositHold(callCtx, hold, customer)
	logger.ExternalServiceResult("payments", "place_hold", err, "rental_id", rental.ID)
	if err != nil {
		hold.MarkFailed()
		err = fmt.Errorf("%w: security deposit hold for rental %d: %v", domain.ErrCollectionFailed, rental.ID, err)
		logger.ExitMethodWithError("depositService.PlaceHold", err)
		return hold, err
	}
	if err := hold.Activate(ref, s.deps.now()); err != nil {
		return nil, err
	}
	if err := s.deps.Repos.Holds.Update(ctx, hold); err != nil {
		return nil, err
	}

	logger.ExitMethod("depositService.PlaceHold", "holdID", hold.ID)
	return hold, nil
}

func (s *depositService) ReleaseHold(ctx context.Context, rentalID int32, reason domain.ReleaseReason) error {
	logger.EnterMethod("depositService.ReleaseHold", "rentalID", rentalID, "reason", reason)

	hold, err := s.deps.Repos.Holds.GetByRentalID(ctx, rentalID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug("No security deposit hold to release", "rental_id", rentalID)
		return nil
	}
	if err != nil {
		return err
	}
	if !hold.CanBeReleased() {
		logger.Debug("Security deposit hold already settled", "rental_id", rentalID, "status", hold.Status)
		return nil
	}

	amount := hold.Remaining()
	callCtx, cancel := s.deps.callContext(ctx)
	defer cancel()

	logger.ExternalServiceCall("payments", "release_hold", "rental_id", rentalID, "amount", amount)
	ref, err := s.deps.Gateway.ReleaseSecurityDepositHold(callCtx, hold, amount)
	logger.ExternalServiceResult("payments", "release_hold", err, "rental_id", rentalID)
	if err != nil {
		return fmt.Errorf("release security deposit for rental %d: %w", rentalID, err)
	}
	if err := hold.Release(amount, reason, s.deps.now()); err != nil {
		return err
	}
	hold.ReleaseRef = ref
	if err := s.deps.Repos.Holds.Update(ctx, hold); err != nil {
		return err
	}

	logger.ExitMethod("depositService.ReleaseHold", "released", amount)
	return nil
}

// WithholdDeposit keeps part of the hold against a charge, typically an
// approved damage incident. The remainder stays reserved.
func (s *depositService) WithholdDeposit(ctx context.Context, rentalID int32, amount decimal.Decimal, reason domain.ReleaseReason) (*domain.SecurityDepositHold, error) {
	logger.EnterMethod("depositService.WithholdDeposit", "rentalID", rentalID, "amount", amount)

	var hold *domain.SecurityDepositHold
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		hold, err = s.deps.Repos.Holds.GetByRentalID(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := hold.Withhold(amount, reason, s.deps.now()); err != nil {
			return err
		}
		return s.deps.Repos.Holds.Update(ctx, hold)
	})
	if err != nil {
		logger.ExitMethodWithError("depositService.WithholdDeposit", err)
		return nil, err
	}

	logger.ExitMethod("depositService.WithholdDeposit", "remaining", hold.Remaining())
	return hold, nil
}
