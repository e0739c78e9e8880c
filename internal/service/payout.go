package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/lock"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

type payoutService struct {
	deps *Dependencies
}

func NewPayoutService(deps *Dependencies) PayoutService {
	return &payoutService{deps: deps}
}

// SchedulePayout creates the pending payout for a completed rental. The
// idempotency key is fixed here so every attempt reuses it.
func (s *payoutService) SchedulePayout(ctx context.Context, rental *domain.Rental, gross decimal.Decimal) (*domain.Payout, error) {
	logger.EnterMethod("payoutService.SchedulePayout", "rentalID", rental.ID, "gross", gross)

	if !gross.IsPositive() {
		logger.ExitMethod("payoutService.SchedulePayout", "skipped", "non-positive gross")
		return nil, nil
	}
	p := domain.NewPayout(rental, gross, s.deps.Payout.Currency, int32(s.deps.Payout.MaxRetries), uuid.New().String())
	if err := s.deps.Repos.Payouts.Create(ctx, p); err != nil {
		logger.ExitMethodWithError("payoutService.SchedulePayout", err)
		return nil, err
	}

	logger.ExitMethod("payoutService.SchedulePayout", "payoutID", p.ID, "net", p.NetAmount)
	return p, nil
}

// ProcessPayouts sweeps payable payouts, one unit of work per payout. A rail
// failure is recorded on the payout and counted; it never aborts the sweep.
func (s *payoutService) ProcessPayouts(ctx context.Context) (*domain.PayoutSweepResult, error) {
	log := logger.WithService("payouts")
	log.Info("Starting payout sweep")

	list, err := s.deps.Repos.Payouts.ListProcessable(ctx, s.deps.now(), s.deps.Payout.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &domain.PayoutSweepResult{}
	for _, candidate := range list {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		completed, err := s.processOne(ctx, candidate.ID)
		switch {
		case errors.Is(err, lock.ErrNotAcquired):
			log.Info("Payout rental locked by another worker, skipping", "payout_id", candidate.ID, "rental_id", candidate.RentalID)
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, domain.BatchError{RentalID: candidate.RentalID, Error: err.Error()})
			log.Warn("Payout attempt failed", "payout_id", candidate.ID, "rental_id", candidate.RentalID, "error", err)
		case completed:
			result.Completed++
		}
	}

	log.Info("Payout sweep finished", "completed", result.Completed, "failed", result.Failed)
	return result, nil
}

// processOne makes one attempt. It returns (false, nil) when the payout is no
// longer payable, and an ErrPayoutFailed when the rail rejected it.
func (s *payoutService) processOne(ctx context.Context, payoutID int32) (bool, error) {
	p, err := s.deps.Repos.Payouts.GetByID(ctx, payoutID)
	if err != nil {
		return false, err
	}
	release, err := s.deps.lockRental(ctx, p.RentalID)
	defer release()
	if err != nil {
		return false, err
	}

	var (
		out      outbox
		railErr  error
		finished bool
	)
	err = s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		p, err = s.deps.Repos.Payouts.GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if !p.CanBeProcessed() && !p.CanBeRetried() {
			return nil
		}
		rental, err := s.deps.Repos.Rentals.GetForUpdate(ctx, p.RentalID)
		if err != nil {
			return err
		}
		owner, err := s.deps.Repos.Parties.GetByID(ctx, p.CarOwnerID)
		if err != nil {
			return err
		}

		if err := p.StartProcessing(); err != nil {
			return err
		}
		rental.PayoutStatus = domain.RentalPayoutProcessing

		metadata := map[string]string{
			"idempotency_key": p.IdempotencyKey,
			"rental_id":       strconv.Itoa(int(p.RentalID)),
			"payout_id":       strconv.Itoa(int(p.ID)),
		}
		callCtx, cancel := s.deps.callContext(ctx)
		defer cancel()

		logger.ExternalServiceCall("payout-rail", "transfer_and_payout", "payout_id", p.ID, "amount", p.NetAmount)
		res, err := s.deps.Rail.TransferAndPayout(callCtx, owner.PayoutAccountRef, utils.ToMinorUnits(p.NetAmount), p.Currency, metadata)
		logger.ExternalServiceResult("payout-rail", "transfer_and_payout", err, "payout_id", p.ID)

		now := s.deps.now()
		payload := map[string]any{"payout_id": p.ID, "net_amount": p.NetAmount, "currency": p.Currency}
		if err != nil {
			reason := domain.PayoutFailureOther
			if IsRetryableError(err) {
				reason = domain.PayoutFailureNetworkError
			}
			if merr := p.MarkFailed(reason, err.Error(), now); merr != nil {
				return merr
			}
			rental.PayoutStatus = domain.RentalPayoutFailed
			railErr = fmt.Errorf("%w: payout %d: %v", domain.ErrPayoutFailed, p.ID, err)
			payload["failure_reason"] = reason
			payload["retry_count"] = p.RetryCount
			out.add(events.PayoutFailed, p.RentalID, payload)
		} else {
			if merr := p.MarkCompleted(res.TransferRef, res.PayoutRef, now); merr != nil {
				return merr
			}
			rental.PayoutStatus = domain.RentalPayoutCompleted
			finished = true
			out.add(events.PayoutCompleted, p.RentalID, payload)
			completedPayout := *p
			out.mail(func(ctx context.Context) error {
				return s.deps.Email.SendPayoutCompleted(ctx, owner, &completedPayout)
			})
		}

		if err := s.deps.Repos.Payouts.Update(ctx, p); err != nil {
			return err
		}
		return s.deps.Repos.Rentals.Update(ctx, rental)
	})
	if err != nil {
		return false, err
	}
	s.deps.flush(ctx, &out)
	return finished, railErr
}

func (s *payoutService) CancelPayout(ctx context.Context, payoutID int32) (*domain.Payout, error) {
	logger.EnterMethod("payoutService.CancelPayout", "payoutID", payoutID)

	var p *domain.Payout
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.deps.Repos.Payouts.GetByID(ctx, payoutID)
		if err != nil {
			return err
		}
		if err := p.Cancel(); err != nil {
			return err
		}
		return s.deps.Repos.Payouts.Update(ctx, p)
	})
	if err != nil {
		logger.ExitMethodWithError("payoutService.CancelPayout", err)
		return nil, err
	}

	logger.ExitMethod("payoutService.CancelPayout", "status", p.Status)
	return p, nil
}
