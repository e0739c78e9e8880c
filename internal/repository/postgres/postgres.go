package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/repository"
)

type Store struct {
	db *sql.DB
	*TxManager
	repository.RentalRepository
	repository.VehicleRepository
	repository.PartyRepository
	repository.InvoiceRepository
	repository.IncidentRepository
	repository.DepositHoldRepository
	repository.PayoutRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                    db,
		TxManager:             NewTxManager(db),
		RentalRepository:      NewRentalRepository(db),
		VehicleRepository:     NewVehicleRepository(db),
		PartyRepository:       NewPartyRepository(db),
		InvoiceRepository:     NewInvoiceRepository(db),
		IncidentRepository:    NewIncidentRepository(db),
		DepositHoldRepository: NewDepositHoldRepository(db),
		PayoutRepository:      NewPayoutRepository(db),
	}
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// notFound maps sql.ErrNoRows onto domain.ErrNotFound
func notFound(err error, entity string, id int32) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
	}
	return err
}

// nullString stores empty strings as NULL
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Repositories exposes the store to the service layer
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Tx:        s.TxManager,
		Rentals:   s.RentalRepository,
		Vehicles:  s.VehicleRepository,
		Parties:   s.PartyRepository,
		Invoices:  s.InvoiceRepository,
		Incidents: s.IncidentRepository,
		Holds:     s.DepositHoldRepository,
		Payouts:   s.PayoutRepository,
	}
}

// DB returns the underlying pool, used for migrations and health checks
func (s *Store) DB() *sql.DB {
	return s.db
}
