// Package memory is an in-process implementation of the repositories.
// Transactions are serialized and rolled back by restoring a snapshot, so
// readers outside RunInTx may observe uncommitted writes.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/repository"
)

type tables struct {
	seq       int32
	rentals   map[int32]domain.Rental
	vehicles  map[int32]domain.Vehicle
	parties   map[int32]domain.Party
	invoices  map[int32]domain.Invoice
	incidents map[int32]domain.Incident
	holds     map[int32]domain.SecurityDepositHold
	payouts   map[int32]domain.Payout
	refunds   map[int32]domain.InvoiceRefund
}

func newTables() *tables {
	return &tables{
		rentals:   map[int32]domain.Rental{},
		vehicles:  map[int32]domain.Vehicle{},
		parties:   map[int32]domain.Party{},
		invoices:  map[int32]domain.Invoice{},
		incidents: map[int32]domain.Incident{},
		holds:     map[int32]domain.SecurityDepositHold{},
		payouts:   map[int32]domain.Payout{},
		refunds:   map[int32]domain.InvoiceRefund{},
	}
}

func (t *tables) clone() *tables {
	c := &tables{
		seq:       t.seq,
		rentals:   maps.Clone(t.rentals),
		vehicles:  maps.Clone(t.vehicles),
		parties:   maps.Clone(t.parties),
		invoices:  make(map[int32]domain.Invoice, len(t.invoices)),
		incidents: maps.Clone(t.incidents),
		holds:     maps.Clone(t.holds),
		payouts:   maps.Clone(t.payouts),
		refunds:   maps.Clone(t.refunds),
	}
	for id, inv := range t.invoices {
		c.invoices[id] = copyInvoice(inv)
	}
	return c
}

func (t *tables) nextID() int32 {
	t.seq++
	return t.seq
}

func copyInvoice(inv domain.Invoice) domain.Invoice {
	inv.Items = append([]domain.InvoiceItem(nil), inv.Items...)
	return inv
}

type txKey struct{}

// Store bundles every repository over one shared set of tables
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	data *tables

	repository.RentalRepository
	repository.VehicleRepository
	repository.PartyRepository
	repository.InvoiceRepository
	repository.IncidentRepository
	repository.DepositHoldRepository
	repository.PayoutRepository
}

func NewStore() *Store {
	s := &Store{data: newTables()}
	s.RentalRepository = &rentalRepo{s}
	s.VehicleRepository = &vehicleRepo{s}
	s.PartyRepository = &partyRepo{s}
	s.InvoiceRepository = &invoiceRepo{s}
	s.IncidentRepository = &incidentRepo{s}
	s.DepositHoldRepository = &holdRepo{s}
	s.PayoutRepository = &payoutRepo{s}
	return s
}

// RunInTx serializes units of work and restores the pre-transaction state
// when fn fails or panics. Nested calls join the outer unit.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	defer func() {
		if p := recover(); p != nil {
			s.restore(snapshot)
			panic(p)
		}
		if err != nil {
			s.restore(snapshot)
		}
	}()

	return fn(context.WithValue(ctx, txKey{}, true))
}

func (s *Store) restore(snapshot *tables) {
	s.mu.Lock()
	s.data = snapshot
	s.mu.Unlock()
}

func (s *Store) with(fn func(t *tables) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func missing(entity string, id int32) error {
	return fmt.Errorf("%s %d: %w", entity, id, domain.ErrNotFound)
}

// Repositories exposes the store to the service layer
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Tx:        s,
		Rentals:   s.RentalRepository,
		Vehicles:  s.VehicleRepository,
		Parties:   s.PartyRepository,
		Invoices:  s.InvoiceRepository,
		Incidents: s.IncidentRepository,
		Holds:     s.DepositHoldRepository,
		Payouts:   s.PayoutRepository,
	}
}
