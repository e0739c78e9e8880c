package postgres

import (
	"context"
	"database/sql"
	"time"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/repository"
)

const rentalColumns = `
	id, shop_owner_id, customer_id, car_owner_id, vehicle_id,
	start_date, end_date, original_end_date, actual_return_date,
	daily_rate, rap_daily_rate, rap_days, rap_days_billed, rap_total, total_amount,
	status, billing_cycle, next_billing_date, last_billed_date,
	extension_days, early_return_days, incident_charges,
	COALESCE(cancellation_reason, ''), cancelled_at,
	commission_rate, commission_amount, payout_amount, COALESCE(payout_status, ''),
	created_at, updated_at`

type rentalRepository struct {
	db *sql.DB
}

func NewRentalRepository(db *sql.DB) repository.RentalRepository {
	return &rentalRepository{db: db}
}

func scanRental(s scanner) (*domain.Rental, error) {
	rt := &domain.Rental{}
	err := s.Scan(
		&rt.ID, &rt.ShopOwnerID, &rt.CustomerID, &rt.CarOwnerID, &rt.VehicleID,
		&rt.StartDate, &rt.EndDate, &rt.OriginalEndDate, &rt.ActualReturnDate,
		&rt.DailyRate, &rt.RapDailyRate, &rt.RapDays, &rt.RapDaysBilled, &rt.RapTotal, &rt.TotalAmount,
		&rt.Status, &rt.BillingCycle, &rt.NextBillingDate, &rt.LastBilledDate,
		&rt.ExtensionDays, &rt.EarlyReturnDays, &rt.IncidentCharges,
		&rt.CancellationReason, &rt.CancelledAt,
		&rt.CommissionRate, &rt.CommissionAmount, &rt.PayoutAmount, &rt.PayoutStatus,
		&rt.CreatedAt, &rt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

func (r *rentalRepository) Create(ctx context.Context, rt *domain.Rental) error {
	logger.EnterMethod("rentalRepository.Create", "vehicleID", rt.VehicleID, "customerID", rt.CustomerID)

	query := `
		INSERT INTO rentals (
			shop_owner_id, customer_id, car_owner_id, vehicle_id,
			start_date, end_date, original_end_date,
			daily_rate, rap_daily_rate, rap_days, rap_days_billed, rap_total, total_amount,
			status, billing_cycle, next_billing_date, last_billed_date,
			commission_rate, commission_amount, payout_amount, payout_status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		RETURNING id`
	now := time.Now()
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		rt.ShopOwnerID, rt.CustomerID, rt.CarOwnerID, rt.VehicleID,
		rt.StartDate, rt.EndDate, rt.OriginalEndDate,
		rt.DailyRate, rt.RapDailyRate, rt.RapDays, rt.RapDaysBilled, rt.RapTotal, rt.TotalAmount,
		rt.Status, rt.BillingCycle, rt.NextBillingDate, rt.LastBilledDate,
		rt.CommissionRate, rt.CommissionAmount, rt.PayoutAmount, nullString(string(rt.PayoutStatus)),
		now, now,
	).Scan(&rt.ID)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Create", err, "vehicleID", rt.VehicleID)
		return err
	}
	rt.CreatedAt, rt.UpdatedAt = now, now

	logger.ExitMethod("rentalRepository.Create", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) GetByID(ctx context.Context, id int32) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1`
	rt, err := scanRental(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "rental", id)
	}
	return rt, nil
}

func (r *rentalRepository) GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error) {
	query := `SELECT ` + rentalColumns + ` FROM rentals WHERE id = $1 FOR UPDATE`
	rt, err := scanRental(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "rental", id)
	}
	return rt, nil
}

func (r *rentalRepository) Update(ctx context.Context, rt *domain.Rental) error {
	logger.EnterMethod("rentalRepository.Update", "rentalID", rt.ID, "status", rt.Status)

	query := `
		UPDATE rentals SET
			end_date = $1, actual_return_date = $2,
			rap_days = $3, rap_days_billed = $4, rap_total = $5, total_amount = $6,
			status = $7, next_billing_date = $8, last_billed_date = $9,
			extension_days = $10, early_return_days = $11, incident_charges = $12,
			cancellation_reason = $13, cancelled_at = $14,
			commission_amount = $15, payout_amount = $16, payout_status = $17,
			updated_at = $18
		WHERE id = $19`
	now := time.Now()
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		rt.EndDate, rt.ActualReturnDate,
		rt.RapDays, rt.RapDaysBilled, rt.RapTotal, rt.TotalAmount,
		rt.Status, rt.NextBillingDate, rt.LastBilledDate,
		rt.ExtensionDays, rt.EarlyReturnDays, rt.IncidentCharges,
		nullString(rt.CancellationReason), rt.CancelledAt,
		rt.CommissionAmount, rt.PayoutAmount, nullString(string(rt.PayoutStatus)),
		now, rt.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("rentalRepository.Update", err, "rentalID", rt.ID)
		return err
	}
	rt.UpdatedAt = now

	logger.ExitMethod("rentalRepository.Update", "rentalID", rt.ID)
	return nil
}

func (r *rentalRepository) ListDueForBilling(ctx context.Context, asOf time.Time) ([]domain.Rental, error) {
	query := `SELECT ` + rentalColumns + `
		FROM rentals
		WHERE status IN ('active', 'extended')
		  AND next_billing_date IS NOT NULL
		  AND next_billing_date <= $1
		  AND (last_billed_date IS NULL OR last_billed_date < end_date)
		ORDER BY next_billing_date, id`
	logger.DatabaseCall("ListDueForBilling", "rentals", "asOf", asOf)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, asOf)
	if err != nil {
		logger.DatabaseResult("ListDueForBilling", 0, err)
		return nil, err
	}
	defer rows.Close()

	var rentals []domain.Rental
	for rows.Next() {
		rt, err := scanRental(rows)
		if err != nil {
			return nil, err
		}
		rentals = append(rentals, *rt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.DatabaseResult("ListDueForBilling", int64(len(rentals)), nil)
	return rentals, nil
}
