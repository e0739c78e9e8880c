package postgres

import (
	"context"
	"database/sql"
	"time"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/repository"
)

type depositHoldRepository struct {
	db *sql.DB
}

func NewDepositHoldRepository(db *sql.DB) repository.DepositHoldRepository {
	return &depositHoldRepository{db: db}
}

func (r *depositHoldRepository) Create(ctx context.Context, h *domain.SecurityDepositHold) error {
	query := `
		INSERT INTO security_deposit_holds (rental_id, customer_id, amount, status, released_amount, withheld_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`
	now := time.Now()
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		h.RentalID, h.CustomerID, h.Amount, h.Status, h.ReleasedAmount, h.WithheldAmount, now, now,
	).Scan(&h.ID)
	if err != nil {
		return err
	}
	h.CreatedAt, h.UpdatedAt = now, now
	return nil
}

func (r *depositHoldRepository) GetByRentalID(ctx context.Context, rentalID int32) (*domain.SecurityDepositHold, error) {
	h := &domain.SecurityDepositHold{}
	query := `
		SELECT id, rental_id, customer_id, amount, status, released_amount, withheld_amount,
		       COALESCE(release_reason, ''), COALESCE(external_ref, ''), COALESCE(release_ref, ''),
		       hold_date, release_date, created_at, updated_at
		FROM security_deposit_holds WHERE rental_id = $1`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, rentalID).Scan(
		&h.ID, &h.RentalID, &h.CustomerID, &h.Amount, &h.Status, &h.ReleasedAmount, &h.WithheldAmount,
		&h.ReleaseReason, &h.ExternalRef, &h.ReleaseRef,
		&h.HoldDate, &h.ReleaseDate, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, "deposit hold for rental", rentalID)
	}
	return h, nil
}

func (r *depositHoldRepository) Update(ctx context.Context, h *domain.SecurityDepositHold) error {
	query := `
		UPDATE security_deposit_holds SET
			status = $1, released_amount = $2, withheld_amount = $3, release_reason = $4,
			external_ref = $5, release_ref = $6, hold_date = $7, release_date = $8, updated_at = $9
		WHERE id = $10`
	now := time.Now()
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		h.Status, h.ReleasedAmount, h.WithheldAmount, nullString(string(h.ReleaseReason)),
		nullString(h.ExternalRef), nullString(h.ReleaseRef), h.HoldDate, h.ReleaseDate, now, h.ID,
	)
	if err != nil {
		return err
	}
	h.UpdatedAt = now
	return nil
}
