package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"rental-billing-engine/internal/domain"
)

type rentalRepo struct{ s *Store }

func (r *rentalRepo) Create(_ context.Context, rt *domain.Rental) error {
	return r.s.with(func(t *tables) error {
		rt.ID = t.nextID()
		rt.CreatedAt, rt.UpdatedAt = time.Now(), time.Now()
		t.rentals[rt.ID] = *rt
		return nil
	})
}

func (r *rentalRepo) GetByID(_ context.Context, id int32) (*domain.Rental, error) {
	var out domain.Rental
	err := r.s.with(func(t *tables) error {
		rt, ok := t.rentals[id]
		if !ok {
			return missing("rental", id)
		}
		out = rt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForUpdate relies on RunInTx serializing all units of work
func (r *rentalRepo) GetForUpdate(ctx context.Context, id int32) (*domain.Rental, error) {
	return r.GetByID(ctx, id)
}

func (r *rentalRepo) Update(_ context.Context, rt *domain.Rental) error {
	return r.s.with(func(t *tables) error {
		if _, ok := t.rentals[rt.ID]; !ok {
			return missing("rental", rt.ID)
		}
		rt.UpdatedAt = time.Now()
		t.rentals[rt.ID] = *rt
		return nil
	})
}

func (r *rentalRepo) ListDueForBilling(_ context.Context, asOf time.Time) ([]domain.Rental, error) {
	var out []domain.Rental
	err := r.s.with(func(t *tables) error {
		for _, rt := range t.rentals {
			if !rt.Status.InProgress() || rt.NextBillingDate == nil || rt.NextBillingDate.After(asOf) || rt.FullyBilled() {
				continue
			}
			out = append(out, rt)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type vehicleRepo struct{ s *Store }

func (r *vehicleRepo) Create(_ context.Context, v *domain.Vehicle) error {
	return r.s.with(func(t *tables) error {
		v.ID = t.nextID()
		t.vehicles[v.ID] = *v
		return nil
	})
}

func (r *vehicleRepo) GetByID(_ context.Context, id int32) (*domain.Vehicle, error) {
	var out domain.Vehicle
	err := r.s.with(func(t *tables) error {
		v, ok := t.vehicles[id]
		if !ok {
			return missing("vehicle", id)
		}
		out = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *vehicleRepo) GetForUpdate(ctx context.Context, id int32) (*domain.Vehicle, error) {
	return r.GetByID(ctx, id)
}

func (r *vehicleRepo) UpdateStatus(_ context.Context, id int32, status domain.VehicleStatus) error {
	return r.s.with(func(t *tables) error {
		v, ok := t.vehicles[id]
		if !ok {
			return missing("vehicle", id)
		}
		v.Status = status
		v.UpdatedAt = time.Now()
		t.vehicles[id] = v
		return nil
	})
}

type partyRepo struct{ s *Store }

func (r *partyRepo) Create(_ context.Context, p *domain.Party) error {
	return r.s.with(func(t *tables) error {
		p.ID = t.nextID()
		t.parties[p.ID] = *p
		return nil
	})
}

func (r *partyRepo) GetByID(_ context.Context, id int32) (*domain.Party, error) {
	var out domain.Party
	err := r.s.with(func(t *tables) error {
		p, ok := t.parties[id]
		if !ok {
			return missing("party", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type invoiceRepo struct{ s *Store }

func (r *invoiceRepo) Create(_ context.Context, inv *domain.Invoice) error {
	return r.s.with(func(t *tables) error {
		for _, existing := range t.invoices {
			if existing.InvoiceNumber == inv.InvoiceNumber ||
				(existing.NumberYear == inv.NumberYear && existing.NumberMonth == inv.NumberMonth && existing.NumberSeq == inv.NumberSeq) {
				return fmt.Errorf("duplicate invoice number %s", inv.InvoiceNumber)
			}
		}
		inv.ID = t.nextID()
		inv.CreatedAt, inv.UpdatedAt = time.Now(), time.Now()
		for i := range inv.Items {
			inv.Items[i].ID = t.nextID()
			inv.Items[i].InvoiceID = inv.ID
			inv.Items[i].Position = int32(i + 1)
			inv.Items[i].CreatedAt = inv.CreatedAt
		}
		t.invoices[inv.ID] = copyInvoice(*inv)
		return nil
	})
}

func (r *invoiceRepo) GetByID(_ context.Context, id int32) (*domain.Invoice, error) {
	var out domain.Invoice
	err := r.s.with(func(t *tables) error {
		inv, ok := t.invoices[id]
		if !ok {
			return missing("invoice", id)
		}
		out = copyInvoice(inv)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update writes header fields only; items are immutable once created
func (r *invoiceRepo) Update(_ context.Context, inv *domain.Invoice) error {
	return r.s.with(func(t *tables) error {
		stored, ok := t.invoices[inv.ID]
		if !ok {
			return missing("invoice", inv.ID)
		}
		updated := copyInvoice(*inv)
		updated.Items = stored.Items
		updated.UpdatedAt = time.Now()
		t.invoices[inv.ID] = updated
		return nil
	})
}

func (r *invoiceRepo) NextSequence(_ context.Context, year, month int) (int, error) {
	count := 0
	err := r.s.with(func(t *tables) error {
		for _, inv := range t.invoices {
			if int(inv.NumberYear) == year && int(inv.NumberMonth) == month {
				count++
			}
		}
		return nil
	})
	return count + 1, err
}

func (r *invoiceRepo) filter(keep func(domain.Invoice) bool) []domain.Invoice {
	var out []domain.Invoice
	_ = r.s.with(func(t *tables) error {
		for _, inv := range t.invoices {
			if keep(inv) {
				out = append(out, copyInvoice(inv))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *invoiceRepo) ListByRental(_ context.Context, rentalID int32) ([]domain.Invoice, error) {
	return r.filter(func(inv domain.Invoice) bool { return inv.RentalID == rentalID }), nil
}

func (r *invoiceRepo) ListByStatusDueBefore(_ context.Context, status domain.InvoiceStatus, before time.Time) ([]domain.Invoice, error) {
	return r.filter(func(inv domain.Invoice) bool {
		return inv.Status == status && inv.DueDate.Before(before)
	}), nil
}

func (r *invoiceRepo) ListCreatedBetween(_ context.Context, start, end time.Time) ([]domain.Invoice, error) {
	return r.filter(func(inv domain.Invoice) bool {
		return !inv.CreatedAt.Before(start) && !inv.CreatedAt.After(end)
	}), nil
}

func (r *invoiceRepo) AddRefund(_ context.Context, refund *domain.InvoiceRefund) error {
	return r.s.with(func(t *tables) error {
		if _, ok := t.invoices[refund.CreditInvoiceID]; !ok {
			return missing("invoice", refund.CreditInvoiceID)
		}
		if _, ok := t.invoices[refund.ChargeInvoiceID]; !ok {
			return missing("invoice", refund.ChargeInvoiceID)
		}
		refund.ID = t.nextID()
		refund.CreatedAt = time.Now()
		t.refunds[refund.ID] = *refund
		return nil
	})
}

func (r *invoiceRepo) ListRefundsByRental(_ context.Context, rentalID int32) ([]domain.InvoiceRefund, error) {
	var out []domain.InvoiceRefund
	err := r.s.with(func(t *tables) error {
		for _, refund := range t.refunds {
			if refund.RentalID == rentalID {
				out = append(out, refund)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

type incidentRepo struct{ s *Store }

func (r *incidentRepo) Create(_ context.Context, i *domain.Incident) error {
	return r.s.with(func(t *tables) error {
		i.ID = t.nextID()
		i.CreatedAt, i.UpdatedAt = time.Now(), time.Now()
		t.incidents[i.ID] = *i
		return nil
	})
}

func (r *incidentRepo) GetByID(_ context.Context, id int32) (*domain.Incident, error) {
	var out domain.Incident
	err := r.s.with(func(t *tables) error {
		i, ok := t.incidents[id]
		if !ok {
			return missing("incident", id)
		}
		out = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *incidentRepo) Update(_ context.Context, i *domain.Incident) error {
	return r.s.with(func(t *tables) error {
		if _, ok := t.incidents[i.ID]; !ok {
			return missing("incident", i.ID)
		}
		i.UpdatedAt = time.Now()
		t.incidents[i.ID] = *i
		return nil
	})
}

func (r *incidentRepo) ListByRentalAndStatus(_ context.Context, rentalID int32, statuses []domain.IncidentStatus) ([]domain.Incident, error) {
	var out []domain.Incident
	err := r.s.with(func(t *tables) error {
		for _, i := range t.incidents {
			if i.RentalID == rentalID && slices.Contains(statuses, i.Status) {
				out = append(out, i)
			}
		}
		return nil
	})
	sort.Slice(out, func(a, b int) bool { return out[a].IncidentDate.Before(out[b].IncidentDate) })
	return out, err
}

type holdRepo struct{ s *Store }

func (r *holdRepo) Create(_ context.Context, h *domain.SecurityDepositHold) error {
	return r.s.with(func(t *tables) error {
		for _, existing := range t.holds {
			if existing.RentalID == h.RentalID {
				return fmt.Errorf("rental %d already has a deposit hold", h.RentalID)
			}
		}
		h.ID = t.nextID()
		h.CreatedAt, h.UpdatedAt = time.Now(), time.Now()
		t.holds[h.ID] = *h
		return nil
	})
}

func (r *holdRepo) GetByRentalID(_ context.Context, rentalID int32) (*domain.SecurityDepositHold, error) {
	var out *domain.SecurityDepositHold
	err := r.s.with(func(t *tables) error {
		for _, h := range t.holds {
			if h.RentalID == rentalID {
				found := h
				out = &found
				return nil
			}
		}
		return missing("deposit hold for rental", rentalID)
	})
	return out, err
}

func (r *holdRepo) Update(_ context.Context, h *domain.SecurityDepositHold) error {
	return r.s.with(func(t *tables) error {
		if _, ok := t.holds[h.ID]; !ok {
			return missing("deposit hold", h.ID)
		}
		h.UpdatedAt = time.Now()
		t.holds[h.ID] = *h
		return nil
	})
}

type payoutRepo struct{ s *Store }

func (r *payoutRepo) Create(_ context.Context, p *domain.Payout) error {
	return r.s.with(func(t *tables) error {
		for _, existing := range t.payouts {
			if existing.RentalID == p.RentalID || existing.IdempotencyKey == p.IdempotencyKey {
				return fmt.Errorf("rental %d already has a payout", p.RentalID)
			}
		}
		p.ID = t.nextID()
		p.CreatedAt, p.UpdatedAt = time.Now(), time.Now()
		t.payouts[p.ID] = *p
		return nil
	})
}

func (r *payoutRepo) GetByID(_ context.Context, id int32) (*domain.Payout, error) {
	var out domain.Payout
	err := r.s.with(func(t *tables) error {
		p, ok := t.payouts[id]
		if !ok {
			return missing("payout", id)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *payoutRepo) GetByRentalID(_ context.Context, rentalID int32) (*domain.Payout, error) {
	var out *domain.Payout
	err := r.s.with(func(t *tables) error {
		for _, p := range t.payouts {
			if p.RentalID == rentalID {
				found := p
				out = &found
				return nil
			}
		}
		return missing("payout for rental", rentalID)
	})
	return out, err
}

func (r *payoutRepo) Update(_ context.Context, p *domain.Payout) error {
	return r.s.with(func(t *tables) error {
		if _, ok := t.payouts[p.ID]; !ok {
			return missing("payout", p.ID)
		}
		p.UpdatedAt = time.Now()
		t.payouts[p.ID] = *p
		return nil
	})
}

func (r *payoutRepo) ListProcessable(_ context.Context, asOf time.Time, limit int) ([]domain.Payout, error) {
	var out []domain.Payout
	err := r.s.with(func(t *tables) error {
		for _, p := range t.payouts {
			due := p.Status == domain.PayoutStatusPending ||
				(p.Status == domain.PayoutStatusScheduled && (p.ScheduledDate == nil || !p.ScheduledDate.After(asOf))) ||
				p.CanBeRetried()
			if due {
				out = append(out, p)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}
