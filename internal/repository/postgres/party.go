package postgres

import (
	"context"
	"database/sql"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/repository"
)

type partyRepository struct {
	db *sql.DB
}

func NewPartyRepository(db *sql.DB) repository.PartyRepository {
	return &partyRepository{db: db}
}

func (r *partyRepository) Create(ctx context.Context, p *domain.Party) error {
	query := `INSERT INTO parties (role, name, email, payment_customer_ref, payout_account_ref) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	return conn(ctx, r.db).QueryRowContext(ctx, query, p.Role, p.Name, p.Email, nullString(p.PaymentCustomerRef), nullString(p.PayoutAccountRef)).Scan(&p.ID)
}

func (r *partyRepository) GetByID(ctx context.Context, id int32) (*domain.Party, error) {
	p := &domain.Party{}
	query := `SELECT id, role, name, email, COALESCE(payment_customer_ref, ''), COALESCE(payout_account_ref, '') FROM parties WHERE id = $1`
	err := conn(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Role, &p.Name, &p.Email, &p.PaymentCustomerRef, &p.PayoutAccountRef)
	if err != nil {
		return nil, notFound(err, "party", id)
	}
	return p, nil
}
