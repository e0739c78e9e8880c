package postgres

import (
	"context"
	"database/sql"
	"time"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/repository"
)

const payoutColumns = `
	id, rental_id, car_owner_id, amount, commission_amount, net_amount, currency, status,
	retry_count, max_retries, COALESCE(failure_reason, ''), COALESCE(failure_message, ''),
	COALESCE(transfer_ref, ''), COALESCE(payout_ref, ''), idempotency_key,
	scheduled_date, processed_at, created_at, updated_at`

type payoutRepository struct {
	db *sql.DB
}

func NewPayoutRepository(db *sql.DB) repository.PayoutRepository {
	return &payoutRepository{db: db}
}

func scanPayout(s scanner) (*domain.Payout, error) {
	p := &domain.Payout{}
	err := s.Scan(&p.ID, &p.RentalID, &p.CarOwnerID, &p.Amount, &p.CommissionAmount, &p.NetAmount, &p.Currency, &p.Status,
		&p.RetryCount, &p.MaxRetries, &p.FailureReason, &p.FailureMessage,
		&p.TransferRef, &p.PayoutRef, &p.IdempotencyKey,
		&p.ScheduledDate, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *payoutRepository) Create(ctx context.Context, p *domain.Payout) error {
	logger.EnterMethod("payoutRepository.Create", "rentalID", p.RentalID, "net", p.NetAmount)

	query := `
		INSERT INTO payouts (
			rental_id, car_owner_id, amount, commission_amount, net_amount, currency, status,
			retry_count, max_retries, idempotency_key, scheduled_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`
	now := time.Now()
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		p.RentalID, p.CarOwnerID, p.Amount, p.CommissionAmount, p.NetAmount, p.Currency, p.Status,
		p.RetryCount, p.MaxRetries, p.IdempotencyKey, p.ScheduledDate, now, now,
	).Scan(&p.ID)
	if err != nil {
		logger.ExitMethodWithError("payoutRepository.Create", err, "rentalID", p.RentalID)
		return err
	}
	p.CreatedAt, p.UpdatedAt = now, now

	logger.ExitMethod("payoutRepository.Create", "payoutID", p.ID)
	return nil
}

func (r *payoutRepository) GetByID(ctx context.Context, id int32) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE id = $1`
	p, err := scanPayout(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "payout", id)
	}
	return p, nil
}

func (r *payoutRepository) GetByRentalID(ctx context.Context, rentalID int32) (*domain.Payout, error) {
	query := `SELECT ` + payoutColumns + ` FROM payouts WHERE rental_id = $1`
	p, err := scanPayout(conn(ctx, r.db).QueryRowContext(ctx, query, rentalID))
	if err != nil {
		return nil, notFound(err, "payout for rental", rentalID)
	}
	return p, nil
}

func (r *payoutRepository) Update(ctx context.Context, p *domain.Payout) error {
	query := `
		UPDATE payouts SET
			status = $1, retry_count = $2, failure_reason = $3, failure_message = $4,
			transfer_ref = $5, payout_ref = $6, scheduled_date = $7, processed_at = $8, updated_at = $9
		WHERE id = $10`
	now := time.Now()
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		p.Status, p.RetryCount, nullString(string(p.FailureReason)), nullString(p.FailureMessage),
		nullString(p.TransferRef), nullString(p.PayoutRef), p.ScheduledDate, p.ProcessedAt, now, p.ID,
	)
	if err != nil {
		return err
	}
	p.UpdatedAt = now
	return nil
}

// ListProcessable claims rows with SKIP LOCKED so concurrent sweeps do not
// pick the same payout inside their transactions.
func (r *payoutRepository) ListProcessable(ctx context.Context, asOf time.Time, limit int) ([]domain.Payout, error) {
	query := `SELECT ` + payoutColumns + `
		FROM payouts
		WHERE (status = 'pending')
		   OR (status = 'scheduled' AND (scheduled_date IS NULL OR scheduled_date <= $1))
		   OR (status = 'failed' AND retry_count < max_retries)
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	logger.DatabaseCall("ListProcessable", "payouts", "asOf", asOf, "limit", limit)

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, asOf, limit)
	if err != nil {
		logger.DatabaseResult("ListProcessable", 0, err)
		return nil, err
	}
	defer rows.Close()

	var payouts []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		payouts = append(payouts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logger.DatabaseResult("ListProcessable", int64(len(payouts)), nil)
	return payouts, nil
}
