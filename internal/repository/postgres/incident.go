package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/repository"
)

const incidentColumns = `
	id, rental_id, customer_id, incident_type, description, incident_date, amount, status,
	COALESCE(admin_notes, ''), charged_invoice_id, processed_at, created_at, updated_at`

type incidentRepository struct {
	db *sql.DB
}

func NewIncidentRepository(db *sql.DB) repository.IncidentRepository {
	return &incidentRepository{db: db}
}

func scanIncident(s scanner) (*domain.Incident, error) {
	i := &domain.Incident{}
	err := s.Scan(&i.ID, &i.RentalID, &i.CustomerID, &i.IncidentType, &i.Description, &i.IncidentDate, &i.Amount, &i.Status,
		&i.AdminNotes, &i.ChargedInvoiceID, &i.ProcessedAt, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return i, nil
}

func (r *incidentRepository) Create(ctx context.Context, i *domain.Incident) error {
	query := `
		INSERT INTO incidents (rental_id, customer_id, incident_type, description, incident_date, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`
	now := time.Now()
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		i.RentalID, i.CustomerID, i.IncidentType, i.Description, i.IncidentDate, i.Amount, i.Status, now, now,
	).Scan(&i.ID)
	if err != nil {
		return err
	}
	i.CreatedAt, i.UpdatedAt = now, now
	return nil
}

func (r *incidentRepository) GetByID(ctx context.Context, id int32) (*domain.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = $1`
	i, err := scanIncident(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "incident", id)
	}
	return i, nil
}

func (r *incidentRepository) Update(ctx context.Context, i *domain.Incident) error {
	query := `
		UPDATE incidents SET status = $1, amount = $2, admin_notes = $3, charged_invoice_id = $4, processed_at = $5, updated_at = $6
		WHERE id = $7`
	now := time.Now()
	_, err := conn(ctx, r.db).ExecContext(ctx, query, i.Status, i.Amount, nullString(i.AdminNotes), i.ChargedInvoiceID, i.ProcessedAt, now, i.ID)
	if err != nil {
		return err
	}
	i.UpdatedAt = now
	return nil
}

func (r *incidentRepository) ListByRentalAndStatus(ctx context.Context, rentalID int32, statuses []domain.IncidentStatus) ([]domain.Incident, error) {
	statusStrs := make([]string, len(statuses))
	for idx, s := range statuses {
		statusStrs[idx] = string(s)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE rental_id = $1 AND status = ANY($2) ORDER BY incident_date, id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, rentalID, pq.Array(statusStrs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []domain.Incident
	for rows.Next() {
		i, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *i)
	}
	return incidents, rows.Err()
}
