package repository

import (
	"context"
	"time"

	"rental-billing-engine/internal/domain"
)

// TransactionManager runs fn inside one atomic unit of work. Repositories
// called with the ctx handed to fn take part in the same transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type RentalRepository interface {
	Create(ctx context.Context, rental *domain.Rental) error
	GetByID(ctx context.Context, id int32) (*domain.Rental, error)
	// GetForUpdate locks the rental row for the rest of the transaction
	GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error)
	Update(ctx context.Context, rental *domain.Rental) error
	// ListDueForBilling returns in-progress rentals with next_billing_date <= asOf
	ListDueForBilling(ctx context.Context, asOf time.Time) ([]domain.Rental, error)
}

type VehicleRepository interface {
	Create(ctx context.Context, vehicle *domain.Vehicle) error
	GetByID(ctx context.Context, id int32) (*domain.Vehicle, error)
	GetForUpdate(ctx context.Context, id int32) (*domain.Vehicle, error)
	UpdateStatus(ctx context.Context, id int32, status domain.VehicleStatus) error
}

// PartyRepository is read access to the customer and owner directory
type PartyRepository interface {
	Create(ctx context.Context, party *domain.Party) error
	GetByID(ctx context.Context, id int32) (*domain.Party, error)
}

type InvoiceRepository interface {
	// Create inserts the invoice header and its items
	Create(ctx context.Context, invoice *domain.Invoice) error
	GetByID(ctx context.Context, id int32) (*domain.Invoice, error)
	Update(ctx context.Context, invoice *domain.Invoice) error
	// NextSequence returns count(invoices numbered in year/month) + 1 and holds
	// a per-month lock until the transaction ends
	NextSequence(ctx context.Context, year, month int) (int, error)
	ListByRental(ctx context.Context, rentalID int32) ([]domain.Invoice, error)
	ListByStatusDueBefore(ctx context.Context, status domain.InvoiceStatus, before time.Time) ([]domain.Invoice, error)
	ListCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Invoice, error)
	// AddRefund links a credit invoice to the charge it refunded
	AddRefund(ctx context.Context, refund *domain.InvoiceRefund) error
	ListRefundsByRental(ctx context.Context, rentalID int32) ([]domain.InvoiceRefund, error)
}

type IncidentRepository interface {
	Create(ctx context.Context, incident *domain.Incident) error
	GetByID(ctx context.Context, id int32) (*domain.Incident, error)
	Update(ctx context.Context, incident *domain.Incident) error
	ListByRentalAndStatus(ctx context.Context, rentalID int32, statuses []domain.IncidentStatus) ([]domain.Incident, error)
}

type DepositHoldRepository interface {
	Create(ctx context.Context, hold *domain.SecurityDepositHold) error
	GetByRentalID(ctx context.Context, rentalID int32) (*domain.SecurityDepositHold, error)
	Update(ctx context.Context, hold *domain.SecurityDepositHold) error
}

type PayoutRepository interface {
	Create(ctx context.Context, payout *domain.Payout) error
	GetByID(ctx context.Context, id int32) (*domain.Payout, error)
	GetByRentalID(ctx context.Context, rentalID int32) (*domain.Payout, error)
	Update(ctx context.Context, payout *domain.Payout) error
	// ListProcessable returns pending, scheduled (due) and retryable failed payouts
	ListProcessable(ctx context.Context, asOf time.Time, limit int) ([]domain.Payout, error)
}

// Repositories groups one store's repositories with its transaction manager.
// Repositories share the transaction of the ctx passed to Tx.RunInTx.
type Repositories struct {
	Tx        TransactionManager
	Rentals   RentalRepository
	Vehicles  VehicleRepository
	Parties   PartyRepository
	Invoices  InvoiceRepository
	Incidents IncidentRepository
	Holds     DepositHoldRepository
	Payouts   PayoutRepository
}
