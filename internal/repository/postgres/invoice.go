package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/repository"
)

const invoiceColumns = `
	id, rental_id, shop_owner_id, customer_id,
	invoice_number, number_year, number_month, number_seq,
	billing_period_start, billing_period_end, subtotal, tax_amount, total_amount,
	status, due_date, billing_cycle,
	COALESCE(external_invoice_ref, ''), COALESCE(external_payment_ref, ''), COALESCE(external_refund_ref, ''),
	refund_of_invoice_id, paid_at, COALESCE(failure_reason, ''), COALESCE(notes, ''),
	created_at, updated_at`

// invoiceSequenceLockSpace namespaces the advisory locks taken for numbering
const invoiceSequenceLockSpace = 7_300_000_000

type invoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) repository.InvoiceRepository {
	return &invoiceRepository{db: db}
}

func scanInvoice(s scanner) (*domain.Invoice, error) {
	inv := &domain.Invoice{}
	err := s.Scan(
		&inv.ID, &inv.RentalID, &inv.ShopOwnerID, &inv.CustomerID,
		&inv.InvoiceNumber, &inv.NumberYear, &inv.NumberMonth, &inv.NumberSeq,
		&inv.BillingPeriodStart, &inv.BillingPeriodEnd, &inv.Subtotal, &inv.TaxAmount, &inv.TotalAmount,
		&inv.Status, &inv.DueDate, &inv.BillingCycle,
		&inv.ExternalInvoiceRef, &inv.ExternalPaymentRef, &inv.ExternalRefundRef,
		&inv.RefundOfInvoiceID, &inv.PaidAt, &inv.FailureReason, &inv.Notes,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepository) Create(ctx context.Context, inv *domain.Invoice) error {
	logger.EnterMethod("invoiceRepository.Create", "rentalID", inv.RentalID, "invoiceNumber", inv.InvoiceNumber)

	q := conn(ctx, r.db)
	query := `
		INSERT INTO billing_invoices (
			rental_id, shop_owner_id, customer_id,
			invoice_number, number_year, number_month, number_seq,
			billing_period_start, billing_period_end, subtotal, tax_amount, total_amount,
			status, due_date, billing_cycle, refund_of_invoice_id, notes,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING id`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		inv.RentalID, inv.ShopOwnerID, inv.CustomerID,
		inv.InvoiceNumber, inv.NumberYear, inv.NumberMonth, inv.NumberSeq,
		inv.BillingPeriodStart, inv.BillingPeriodEnd, inv.Subtotal, inv.TaxAmount, inv.TotalAmount,
		inv.Status, inv.DueDate, inv.BillingCycle, inv.RefundOfInvoiceID, nullString(inv.Notes),
		now, now,
	).Scan(&inv.ID)
	if err != nil {
		logger.ExitMethodWithError("invoiceRepository.Create", err, "invoiceNumber", inv.InvoiceNumber)
		return err
	}
	inv.CreatedAt, inv.UpdatedAt = now, now

	itemQuery := `
		INSERT INTO invoice_items (
			billing_invoice_id, position, description, quantity, unit_price, total_price,
			item_type, rental_days, daily_rate, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`
	for i := range inv.Items {
		item := &inv.Items[i]
		item.InvoiceID = inv.ID
		item.Position = int32(i + 1)

		meta, err := json.Marshal(item.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode item metadata: %w", err)
		}
		if item.Metadata == nil {
			meta = []byte("{}")
		}

		var dailyRate decimal.NullDecimal
		if item.DailyRate != nil {
			dailyRate = decimal.NewNullDecimal(*item.DailyRate)
		}

		err = q.QueryRowContext(ctx, itemQuery,
			item.InvoiceID, item.Position, item.Description, item.Quantity, item.UnitPrice, item.TotalPrice,
			item.ItemType, item.RentalDays, dailyRate, meta, now,
		).Scan(&item.ID)
		if err != nil {
			logger.ExitMethodWithError("invoiceRepository.Create", err, "invoiceNumber", inv.InvoiceNumber, "item", item.Description)
			return err
		}
		item.CreatedAt = now
	}

	logger.ExitMethod("invoiceRepository.Create", "invoiceID", inv.ID, "items", len(inv.Items))
	return nil
}

func (r *invoiceRepository) GetByID(ctx context.Context, id int32) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM billing_invoices WHERE id = $1`
	inv, err := scanInvoice(conn(ctx, r.db).QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "invoice", id)
	}

	items, err := r.listItems(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	inv.Items = items
	return inv, nil
}

func (r *invoiceRepository) listItems(ctx context.Context, invoiceID int32) ([]domain.InvoiceItem, error) {
	query := `
		SELECT id, billing_invoice_id, position, description, quantity, unit_price, total_price,
		       item_type, rental_days, daily_rate, metadata, created_at
		FROM invoice_items WHERE billing_invoice_id = $1 ORDER BY position`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.InvoiceItem
	for rows.Next() {
		var item domain.InvoiceItem
		var dailyRate decimal.NullDecimal
		var meta []byte
		if err := rows.Scan(&item.ID, &item.InvoiceID, &item.Position, &item.Description, &item.Quantity, &item.UnitPrice, &item.TotalPrice,
			&item.ItemType, &item.RentalDays, &dailyRate, &meta, &item.CreatedAt); err != nil {
			return nil, err
		}
		if dailyRate.Valid {
			rate := dailyRate.Decimal
			item.DailyRate = &rate
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &item.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode item metadata: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *invoiceRepository) Update(ctx context.Context, inv *domain.Invoice) error {
	logger.EnterMethod("invoiceRepository.Update", "invoiceID", inv.ID, "status", inv.Status)

	query := `
		UPDATE billing_invoices SET
			status = $1,
			external_invoice_ref = $2,
			external_payment_ref = $3,
			external_refund_ref = $4,
			paid_at = $5,
			failure_reason = $6,
			notes = $7,
			updated_at = $8
		WHERE id = $9`
	now := time.Now()
	_, err := conn(ctx, r.db).ExecContext(ctx, query,
		inv.Status, nullString(inv.ExternalInvoiceRef), nullString(inv.ExternalPaymentRef), nullString(inv.ExternalRefundRef),
		inv.PaidAt, nullString(inv.FailureReason), nullString(inv.Notes), now, inv.ID,
	)
	if err != nil {
		logger.ExitMethodWithError("invoiceRepository.Update", err, "invoiceID", inv.ID)
		return err
	}
	inv.UpdatedAt = now

	logger.ExitMethod("invoiceRepository.Update", "invoiceID", inv.ID)
	return nil
}

func (r *invoiceRepository) NextSequence(ctx context.Context, year, month int) (int, error) {
	q := conn(ctx, r.db)
	lockKey := int64(invoiceSequenceLockSpace + year*100 + month)
	if _, err := q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKey); err != nil {
		return 0, fmt.Errorf("failed to lock invoice sequence %04d-%02d: %w", year, month, err)
	}

	var count int
	query := `SELECT COUNT(*) FROM billing_invoices WHERE number_year = $1 AND number_month = $2`
	if err := q.QueryRowContext(ctx, query, year, month).Scan(&count); err != nil {
		return 0, err
	}
	return count + 1, nil
}

func (r *invoiceRepository) list(ctx context.Context, where string, args ...any) ([]domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM billing_invoices WHERE ` + where
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func (r *invoiceRepository) ListByRental(ctx context.Context, rentalID int32) ([]domain.Invoice, error) {
	invoices, err := r.list(ctx, `rental_id = $1 ORDER BY billing_period_start, id`, rentalID)
	if err != nil {
		return nil, err
	}
	for i := range invoices {
		items, err := r.listItems(ctx, invoices[i].ID)
		if err != nil {
			return nil, err
		}
		invoices[i].Items = items
	}
	return invoices, nil
}

func (r *invoiceRepository) ListByStatusDueBefore(ctx context.Context, status domain.InvoiceStatus, before time.Time) ([]domain.Invoice, error) {
	logger.DatabaseCall("ListByStatusDueBefore", "billing_invoices", "status", status, "before", before)
	invoices, err := r.list(ctx, `status = $1 AND due_date < $2 ORDER BY due_date, id`, status, before)
	logger.DatabaseResult("ListByStatusDueBefore", int64(len(invoices)), err)
	return invoices, err
}

func (r *invoiceRepository) ListCreatedBetween(ctx context.Context, start, end time.Time) ([]domain.Invoice, error) {
	return r.list(ctx, `created_at >= $1 AND created_at <= $2 ORDER BY created_at, id`, start, end)
}

func (r *invoiceRepository) AddRefund(ctx context.Context, refund *domain.InvoiceRefund) error {
	logger.EnterMethod("invoiceRepository.AddRefund", "creditInvoiceID", refund.CreditInvoiceID, "chargeInvoiceID", refund.ChargeInvoiceID)

	query := `
		INSERT INTO invoice_refunds (
			rental_id, credit_invoice_id, charge_invoice_id, amount, external_refund_ref, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	now := time.Now()
	err := conn(ctx, r.db).QueryRowContext(ctx, query,
		refund.RentalID, refund.CreditInvoiceID, refund.ChargeInvoiceID, refund.Amount, refund.ExternalRefundRef, now,
	).Scan(&refund.ID)
	if err != nil {
		logger.ExitMethodWithError("invoiceRepository.AddRefund", err)
		return err
	}
	refund.CreatedAt = now

	logger.ExitMethod("invoiceRepository.AddRefund", "refundID", refund.ID)
	return nil
}

func (r *invoiceRepository) ListRefundsByRental(ctx context.Context, rentalID int32) ([]domain.InvoiceRefund, error) {
	query := `
		SELECT id, rental_id, credit_invoice_id, charge_invoice_id, amount, external_refund_ref, created_at
		FROM invoice_refunds WHERE rental_id = $1 ORDER BY id`
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, rentalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.InvoiceRefund
	for rows.Next() {
		var ref domain.InvoiceRefund
		if err := rows.Scan(&ref.ID, &ref.RentalID, &ref.CreditInvoiceID, &ref.ChargeInvoiceID,
			&ref.Amount, &ref.ExternalRefundRef, &ref.CreatedAt); err != nil {
			return nil, err
		}
		refunds = append(refunds, ref)
	}
	return refunds, rows.Err()
}
