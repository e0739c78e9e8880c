package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/billing"
	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/events"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

type rentalService struct {
	deps     *Dependencies
	calc     *billing.Calculator
	gen      *billing.Generator
	payments PaymentService
	deposits DepositService
	payouts  PayoutService
}

func NewRentalService(
	deps *Dependencies,
	calc *billing.Calculator,
	gen *billing.Generator,
	payments PaymentService,
	deposits DepositService,
	payouts PayoutService,
) RentalService {
	return &rentalService{
		deps:     deps,
		calc:     calc,
		gen:      gen,
		payments: payments,
		deposits: deposits,
		payouts:  payouts,
	}
}

func (s *rentalService) CreateRental(ctx context.Context, req CreateRentalRequest) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.CreateRental", "vehicleID", req.VehicleID, "customerID", req.CustomerID)

	start, end := utils.TruncateDay(req.StartDate), utils.TruncateDay(req.EndDate)
	if end.Before(start) {
		return nil, domain.IntegrityError("end date %s before start date %s", utils.FormatDate(end), utils.FormatDate(start))
	}
	if req.RapDays < 0 || int(req.RapDays) > utils.InclusiveDays(start, end) {
		return nil, fmt.Errorf("%w: rap days %d outside the rental span", domain.ErrInvalidAmount, req.RapDays)
	}
	cycle := req.BillingCycle
	if cycle == "" {
		cycle = domain.BillingCycleWeekly
	}

	var (
		rental *domain.Rental
		out    outbox
	)
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		vehicle, err := s.deps.Repos.Vehicles.GetForUpdate(ctx, req.VehicleID)
		if err != nil {
			return err
		}
		if !vehicle.IsAvailable() {
			return fmt.Errorf("%w: vehicle %d is %s", domain.ErrVehicleUnavailable, vehicle.ID, vehicle.Status)
		}
		customer, err := s.deps.Repos.Parties.GetByID(ctx, req.CustomerID)
		if err != nil {
			return err
		}

		rates := s.deps.Rates.Lookup(vehicle.VehicleType)
		days := utils.InclusiveDays(start, end)
		total := utils.Times(rates.DailyRate, days)
		rental = &domain.Rental{
			ShopOwnerID:     req.ShopOwnerID,
			CustomerID:      req.CustomerID,
			CarOwnerID:      vehicle.CarOwnerID,
			VehicleID:       vehicle.ID,
			StartDate:       start,
			EndDate:         end,
			OriginalEndDate: end,
			DailyRate:       rates.DailyRate,
			RapDailyRate:    rates.RapDailyRate,
			RapDays:         req.RapDays,
			RapTotal:        utils.Times(rates.RapDailyRate, int(req.RapDays)),
			TotalAmount:     total,
			Status:          domain.RentalStatusPending,
			BillingCycle:    cycle,
			IncidentCharges: decimal.Zero,
			CommissionRate:  s.deps.Policy.CommissionRate,
		}
		rental.CommissionAmount = rental.CommissionFor(total)
		rental.PayoutAmount = rental.OwnerShareFor(total)
		if err := rental.Validate(); err != nil {
			return err
		}

		if err := s.deps.Repos.Rentals.Create(ctx, rental); err != nil {
			return err
		}
		if err := s.deps.Repos.Vehicles.UpdateStatus(ctx, vehicle.ID, domain.VehicleStatusRented); err != nil {
			return err
		}
		if _, err := s.deposits.PlaceHold(ctx, rental, customer); err != nil {
			return err
		}
		out.add(events.RentalCreated, rental.ID, map[string]any{
			"vehicle_id":   rental.VehicleID,
			"customer_id":  rental.CustomerID,
			"start_date":   utils.FormatDate(rental.StartDate),
			"end_date":     utils.FormatDate(rental.EndDate),
			"total_amount": rental.TotalAmount,
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.CreateRental", err)
		return nil, err
	}
	s.deps.flush(ctx, &out)

	logger.ExitMethod("rentalService.CreateRental", "rentalID", rental.ID)
	return rental, nil
}

// ActivateRental starts the rental once its deposit hold is in place
func (s *rentalService) ActivateRental(ctx context.Context, rentalID int32) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.ActivateRental", "rentalID", rentalID)

	var (
		rental *domain.Rental
		out    outbox
	)
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rental, err = s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if rental.Status != domain.RentalStatusPending {
			return fmt.Errorf("%w: rental %d is %s", domain.ErrInvalidTransition, rental.ID, rental.Status)
		}
		hold, err := s.deps.Repos.Holds.GetByRentalID(ctx, rental.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: rental %d has no security deposit hold", domain.ErrInvalidTransition, rental.ID)
		}
		if err != nil {
			return err
		}
		if !hold.IsActive() {
			return fmt.Errorf("%w: rental %d deposit hold is %s", domain.ErrInvalidTransition, rental.ID, hold.Status)
		}

		if err := rental.TransitionTo(domain.RentalStatusActive); err != nil {
			return err
		}
		next := utils.NextBillingDate(s.deps.today())
		rental.NextBillingDate = &next
		if err := s.deps.Repos.Rentals.Update(ctx, rental); err != nil {
			return err
		}
		out.add(events.RentalActivated, rental.ID, map[string]any{"next_billing_date": utils.FormatDate(next)})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ActivateRental", err)
		return nil, err
	}
	s.deps.flush(ctx, &out)

	logger.ExitMethod("rentalService.ActivateRental", "nextBillingDate", rental.NextBillingDate)
	return rental, nil
}

// CompleteRental closes the rental on its return date: unbilled days are
// invoiced, over-billed days credited, the vehicle and deposit released and
// the owner's payout scheduled. Any failure leaves the rental untouched.
func (s *rentalService) CompleteRental(ctx context.Context, rentalID int32, actualReturnDate *time.Time) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.CompleteRental", "rentalID", rentalID)

	var (
		rental *domain.Rental
		out    outbox
	)
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rental, err = s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if rental.Status == domain.RentalStatusExtended {
			if err := rental.TransitionTo(domain.RentalStatusActive); err != nil {
				return err
			}
		}
		if rental.Status != domain.RentalStatusActive {
			return fmt.Errorf("%w: rental %d is %s", domain.ErrInvalidTransition, rental.ID, rental.Status)
		}

		ret := s.deps.today()
		if actualReturnDate != nil {
			ret = utils.TruncateDay(*actualReturnDate)
		}
		if ret.Before(rental.StartDate) {
			return domain.IntegrityError("rental %d: return date %s before start date %s",
				rental.ID, utils.FormatDate(ret), utils.FormatDate(rental.StartDate))
		}
		actualDays := utils.InclusiveDays(rental.StartDate, ret)
		booked := rental.BookedDays()
		rental.ExtensionDays = int32(max(0, actualDays-booked))
		rental.EarlyReturnDays = int32(max(0, booked-actualDays))
		if ret.After(rental.EndDate) {
			rental.EndDate = ret
		}

		now := s.deps.now()
		if err := s.settleFinalDays(ctx, rental, ret, now, &out); err != nil {
			return err
		}

		rental.ActualReturnDate = &ret
		rental.NextBillingDate = nil
		if err := rental.TransitionTo(domain.RentalStatusCompleted); err != nil {
			return err
		}
		gross := utils.Times(rental.DailyRate, actualDays)
		rental.TotalAmount = gross
		rental.CommissionAmount = rental.CommissionFor(gross)
		rental.PayoutAmount = rental.OwnerShareFor(gross)

		if err := s.deps.Repos.Vehicles.UpdateStatus(ctx, rental.VehicleID, domain.VehicleStatusAvailable); err != nil {
			return err
		}
		if err := s.deposits.ReleaseHold(ctx, rental.ID, domain.ReleaseReasonRentalCompleted); err != nil {
			return err
		}
		payout, err := s.payouts.SchedulePayout(ctx, rental, gross)
		if err != nil {
			return err
		}
		if payout != nil {
			rental.PayoutStatus = domain.RentalPayoutPending
			out.add(events.PayoutScheduled, rental.ID, map[string]any{
				"payout_id":         payout.ID,
				"amount":            payout.Amount,
				"commission_amount": payout.CommissionAmount,
				"net_amount":        payout.NetAmount,
			})
		}
		if err := s.deps.Repos.Rentals.Update(ctx, rental); err != nil {
			return err
		}
		out.add(events.RentalCompleted, rental.ID, map[string]any{
			"actual_return_date": utils.FormatDate(ret),
			"extension_days":     rental.ExtensionDays,
			"early_return_days":  rental.EarlyReturnDays,
			"total_amount":       rental.TotalAmount,
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.CompleteRental", err)
		return nil, err
	}
	s.deps.flush(ctx, &out)

	logger.ExitMethod("rentalService.CompleteRental", "totalAmount", rental.TotalAmount, "payoutAmount", rental.PayoutAmount)
	return rental, nil
}

// settleFinalDays bills the days up to ret that no invoice covers yet, or
// credits billed days after ret
func (s *rentalService) settleFinalDays(ctx context.Context, r *domain.Rental, ret, now time.Time, out *outbox) error {
	if r.LastBilledDate == nil || r.LastBilledDate.Before(ret) {
		incidents, err := s.deps.Repos.Incidents.ListByRentalAndStatus(ctx, r.ID, []domain.IncidentStatus{domain.IncidentStatusApproved})
		if err != nil {
			return err
		}
		amounts, err := s.calc.CalculateSpan(r, billing.NextPeriodStart(r), ret, incidents)
		if err != nil {
			return err
		}
		inv, err := s.gen.Period(r, amounts)
		if err != nil {
			return err
		}
		if err := s.deps.issue(ctx, inv, now); err != nil {
			return err
		}
		if err := s.payments.Collect(ctx, inv); err != nil {
			return err
		}
		if err := billing.Apply(r, amounts); err != nil {
			return err
		}
		if err := s.deps.chargeIncidents(ctx, amounts.Incidents, inv.ID, now); err != nil {
			return err
		}
		s.deps.invoiceNotice(out, inv)
		return nil
	}

	credit, ok := billing.EarlyReturnCredit(r, ret)
	if !ok {
		return nil
	}
	charges, err := s.refundableCharges(ctx, r.ID)
	if err != nil {
		return err
	}
	var newest *domain.Invoice
	if len(charges) > 0 {
		newest = &charges[0]
	}
	adj, err := s.gen.Adjustment(r, credit, newest, now)
	if err != nil {
		return err
	}
	if err := s.deps.issue(ctx, adj, now); err != nil {
		return err
	}
	if err := s.payments.SettleCredit(ctx, adj, charges); err != nil {
		return err
	}
	r.RapDaysBilled -= int32(credit.RapDays)
	r.LastBilledDate = &ret
	s.deps.invoiceNotice(out, adj)
	return nil
}

// refundableCharges lists the rental's paid, positive invoices newest first
func (s *rentalService) refundableCharges(ctx context.Context, rentalID int32) ([]domain.Invoice, error) {
	invoices, err := s.deps.Repos.Invoices.ListByRental(ctx, rentalID)
	if err != nil {
		return nil, err
	}
	charges := invoices[:0]
	for _, inv := range invoices {
		if inv.Status == domain.InvoiceStatusPaid && inv.TotalAmount.IsPositive() {
			charges = append(charges, inv)
		}
	}
	sort.SliceStable(charges, func(i, j int) bool {
		if !charges[i].BillingPeriodEnd.Equal(charges[j].BillingPeriodEnd) {
			return charges[i].BillingPeriodEnd.After(charges[j].BillingPeriodEnd)
		}
		return charges[i].ID > charges[j].ID
	})
	return charges, nil
}

// CancelRental cancels a pending rental. Inside the cancellation window a
// one-day fee is invoiced and collected.
func (s *rentalService) CancelRental(ctx context.Context, rentalID int32, reason string) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.CancelRental", "rentalID", rentalID, "reason", reason)

	var (
		rental *domain.Rental
		out    outbox
	)
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rental, err = s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if err := rental.TransitionTo(domain.RentalStatusCancelled); err != nil {
			return err
		}
		now := s.deps.now()
		rental.CancellationReason = reason
		rental.CancelledAt = &now
		rental.NextBillingDate = nil

		var fee *domain.Invoice
		if rental.StartDate.Sub(now) < s.deps.Policy.CancellationWindow {
			fee, err = s.gen.Cancellation(rental, rental.DailyRate, now)
			if err != nil {
				return err
			}
			if err := s.deps.issue(ctx, fee, now); err != nil {
				return err
			}
			if err := s.payments.Collect(ctx, fee); err != nil {
				return err
			}
			s.deps.invoiceNotice(&out, fee)
		}

		if err := s.deps.Repos.Vehicles.UpdateStatus(ctx, rental.VehicleID, domain.VehicleStatusAvailable); err != nil {
			return err
		}
		if err := s.deposits.ReleaseHold(ctx, rental.ID, domain.ReleaseReasonRentalCancelled); err != nil {
			return err
		}
		if err := s.deps.Repos.Rentals.Update(ctx, rental); err != nil {
			return err
		}
		payload := map[string]any{"reason": reason, "fee_charged": fee != nil}
		if fee != nil {
			payload["invoice_number"] = fee.InvoiceNumber
			payload["fee_total"] = fee.TotalAmount
		}
		out.add(events.RentalCancelled, rental.ID, payload)
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.CancelRental", err)
		return nil, err
	}
	s.deps.flush(ctx, &out)

	logger.ExitMethod("rentalService.CancelRental", "status", rental.Status)
	return rental, nil
}

// ExtendRental moves the end date out by additionalDays. Totals grow by
// additionalDays x daily_rate. A rental already billed through its old end
// gets an extension invoice right away.
func (s *rentalService) ExtendRental(ctx context.Context, rentalID int32, additionalDays int) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.ExtendRental", "rentalID", rentalID, "additionalDays", additionalDays)

	if additionalDays <= 0 {
		return nil, fmt.Errorf("%w: extension of %d days", domain.ErrInvalidAmount, additionalDays)
	}

	var (
		rental *domain.Rental
		out    outbox
	)
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rental, err = s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if !rental.Status.InProgress() {
			return fmt.Errorf("%w: rental %d is %s", domain.ErrInvalidTransition, rental.ID, rental.Status)
		}

		oldEnd := rental.EndDate
		billedThrough := rental.FullyBilled()
		rental.EndDate = utils.AddDays(oldEnd, additionalDays)
		rental.ExtensionDays += int32(additionalDays)

		added := utils.Times(rental.DailyRate, additionalDays)
		rental.TotalAmount = rental.TotalAmount.Add(added)
		rental.CommissionAmount = rental.CommissionAmount.Add(rental.CommissionFor(added))
		rental.PayoutAmount = rental.PayoutAmount.Add(rental.OwnerShareFor(added))
		if rental.Status == domain.RentalStatusActive {
			if err := rental.TransitionTo(domain.RentalStatusExtended); err != nil {
				return err
			}
		}

		if billedThrough {
			incidents, err := s.deps.Repos.Incidents.ListByRentalAndStatus(ctx, rental.ID, []domain.IncidentStatus{domain.IncidentStatusApproved})
			if err != nil {
				return err
			}
			amounts, err := s.calc.CalculateSpan(rental, utils.AddDays(oldEnd, 1), rental.EndDate, incidents)
			if err != nil {
				return err
			}
			now := s.deps.now()
			inv, err := s.gen.Extension(rental, amounts, now)
			if err != nil {
				return err
			}
			if err := s.deps.issue(ctx, inv, now); err != nil {
				return err
			}
			if err := s.payments.Collect(ctx, inv); err != nil {
				return err
			}
			if err := billing.Apply(rental, amounts); err != nil {
				return err
			}
			if err := s.deps.chargeIncidents(ctx, amounts.Incidents, inv.ID, now); err != nil {
				return err
			}
			s.deps.invoiceNotice(&out, inv)
		}

		if err := rental.Validate(); err != nil {
			return err
		}
		if err := s.deps.Repos.Rentals.Update(ctx, rental); err != nil {
			return err
		}
		out.add(events.RentalExtended, rental.ID, map[string]any{
			"additional_days": additionalDays,
			"end_date":        utils.FormatDate(rental.EndDate),
			"total_amount":    rental.TotalAmount,
		})
		return nil
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.ExtendRental", err)
		return nil, err
	}
	s.deps.flush(ctx, &out)

	logger.ExitMethod("rentalService.ExtendRental", "endDate", utils.FormatDate(rental.EndDate), "totalAmount", rental.TotalAmount)
	return rental, nil
}

// AddRAP sets the rental's roadside assistance coverage to days. Days not
// yet billed are charged now and counted as billed, so periodic billing
// never charges them a second time.
func (s *rentalService) AddRAP(ctx context.Context, rentalID int32, days int) (*domain.Rental, error) {
	logger.EnterMethod("rentalService.AddRAP", "rentalID", rentalID, "days", days)

	if days < 0 {
		return nil, fmt.Errorf("%w: %d RAP days", domain.ErrInvalidAmount, days)
	}

	var rental *domain.Rental
	err := s.deps.Repos.Tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		rental, err = s.deps.Repos.Rentals.GetForUpdate(ctx, rentalID)
		if err != nil {
			return err
		}
		if rental.Status != domain.RentalStatusPending && !rental.Status.InProgress() {
			return fmt.Errorf("%w: rental %d is %s", domain.ErrInvalidTransition, rental.ID, rental.Status)
		}
		if days > rental.TotalDays() {
			return fmt.Errorf("%w: %d RAP days exceed the %d day rental", domain.ErrInvalidAmount, days, rental.TotalDays())
		}
		if int32(days) < rental.RapDaysBilled {
			return fmt.Errorf("%w: %d RAP days are already billed", domain.ErrInvalidAmount, rental.RapDaysBilled)
		}

		charge := utils.Times(rental.RapDailyRate, days-int(rental.RapDaysBilled))
		if charge.IsPositive() {
			customer, err := s.deps.Repos.Parties.GetByID(ctx, rental.CustomerID)
			if err != nil {
				return err
			}
			callCtx, cancel := s.deps.callContext(ctx)
			defer cancel()

			logger.ExternalServiceCall("payments", "charge_customer", "rental_id", rental.ID, "amount", charge, "purpose", "rap")
			_, err = s.deps.Gateway.ChargeCustomer(callCtx, customer.PaymentCustomerRef, charge, "rap")
			logger.ExternalServiceResult("payments", "charge_customer", err, "rental_id", rental.ID)
			if err != nil {
				return fmt.Errorf("%w: roadside assistance charge for rental %d: %v", domain.ErrCollectionFailed, rental.ID, err)
			}
		}

		rental.RapDays = int32(days)
		rental.RapDaysBilled = int32(days)
		rental.RapTotal = utils.Times(rental.RapDailyRate, days)
		return s.deps.Repos.Rentals.Update(ctx, rental)
	})
	if err != nil {
		logger.ExitMethodWithError("rentalService.AddRAP", err)
		return nil, err
	}

	logger.ExitMethod("rentalService.AddRAP", "rapDays", rental.RapDays, "rapTotal", rental.RapTotal)
	return rental, nil
}

func (s *rentalService) GetRental(ctx context.Context, rentalID int32) (*domain.Rental, error) {
	return s.deps.Repos.Rentals.GetByID(ctx, rentalID)
}
