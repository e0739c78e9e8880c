package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/payments"
)

type paymentService struct {
	deps *Dependencies
}

func NewPaymentService(deps *Dependencies) PaymentService {
	return &paymentService{deps: deps}
}

// Collect registers the invoice with the gateway and charges it. Any gateway
// error or decline marks the invoice failed, persists it, and comes back
// wrapped in domain.ErrCollectionFailed.
func (s *paymentService) Collect(ctx context.Context, inv *domain.Invoice) error {
	if !inv.TotalAmount.IsPositive() {
		return domain.IntegrityError("invoice %s: cannot collect non-positive total %s", inv.InvoiceNumber, inv.TotalAmount)
	}
	customer, err := s.deps.Repos.Parties.GetByID(ctx, inv.CustomerID)
	if err != nil {
		return err
	}

	callCtx, cancel := s.deps.callContext(ctx)
	defer cancel()

	logger.ExternalServiceCall("payments", "create_invoice", "invoice_number", inv.InvoiceNumber)
	externalRef, err := s.deps.Gateway.CreateInvoice(callCtx, inv, customer)
	logger.ExternalServiceResult("payments", "create_invoice", err, "invoice_number", inv.InvoiceNumber)
	if err != nil {
		return s.fail(ctx, inv, err)
	}
	inv.ExternalInvoiceRef = externalRef

	logger.ExternalServiceCall("payments", "collect_payment", "invoice_number", inv.InvoiceNumber, "amount", inv.TotalAmount)
	res, err := s.deps.Gateway.CollectPayment(callCtx, inv)
	logger.ExternalServiceResult("payments", "collect_payment", err, "invoice_number", inv.InvoiceNumber)
	if err != nil {
		return s.fail(ctx, inv, err)
	}
	if res.Status != payments.StatusSucceeded {
		msg := res.FailureMessage
		if msg == "" {
			msg = "payment declined"
		}
		if res.ExternalPaymentRef != "" {
			inv.ExternalPaymentRef = res.ExternalPaymentRef
		}
		return s.fail(ctx, inv, errors.New(msg))
	}

	if err := inv.MarkPaid(res.ExternalPaymentRef, s.deps.now()); err != nil {
		return err
	}
	return s.deps.Repos.Invoices.Update(ctx, inv)
}

func (s *paymentService) fail(ctx context.Context, inv *domain.Invoice, cause error) error {
	if err := inv.MarkFailed(cause.Error()); err != nil {
		return err
	}
	if err := s.deps.Repos.Invoices.Update(ctx, inv); err != nil {
		return err
	}
	return fmt.Errorf("%w: invoice %s: %v", domain.ErrCollectionFailed, inv.InvoiceNumber, cause)
}

// SettleCredit never charges. Refunds are linked to the credit through
// invoice_refunds, and the credit carries the first refund reference.
func (s *paymentService) SettleCredit(ctx context.Context, credit *domain.Invoice, charges []domain.Invoice) error {
	if !credit.IsCredit() {
		return domain.IntegrityError("invoice %s: settle credit on positive total %s", credit.InvoiceNumber, credit.TotalAmount)
	}
	owed := credit.TotalAmount.Abs()
	if len(charges) > 0 {
		refunds, err := s.deps.Repos.Invoices.ListRefundsByRental(ctx, credit.RentalID)
		if err != nil {
			return err
		}
		refunded := domain.RefundedByCharge(refunds)

		for i := range charges {
			if !owed.IsPositive() {
				break
			}
			charge := &charges[i]
			part := decimal.Min(owed, charge.RefundableAmount(refunded[charge.ID]))
			if !part.IsPositive() {
				continue
			}
			refundRef, err := s.refund(ctx, charge, &part, "early_return")
			if err != nil {
				return fmt.Errorf("%w: refund for %s: %v", domain.ErrCollectionFailed, credit.InvoiceNumber, err)
			}
			if err := s.deps.Repos.Invoices.AddRefund(ctx, &domain.InvoiceRefund{
				RentalID:          credit.RentalID,
				CreditInvoiceID:   credit.ID,
				ChargeInvoiceID:   charge.ID,
				Amount:            part,
				ExternalRefundRef: refundRef,
			}); err != nil {
				return err
			}
			if credit.ExternalRefundRef == "" {
				credit.ExternalRefundRef = refundRef
			}
			owed = owed.Sub(part)
		}
	}
	if owed.IsPositive() {
		logger.Warn("Credit exceeds the refundable charges, recording the rest without refund",
			"rental_id", credit.RentalID, "invoice_number", credit.InvoiceNumber, "unrefunded", owed)
	}
	if err := credit.MarkPaid("", s.deps.now()); err != nil {
		return err
	}
	return s.deps.Repos.Invoices.Update(ctx, credit)
}

// refund calls the gateway under the payment timeout. A nil amount refunds
// the whole charge.
func (s *paymentService) refund(ctx context.Context, charge *domain.Invoice, amount *decimal.Decimal, reason string) (string, error) {
	callCtx, cancel := s.deps.callContext(ctx)
	defer cancel()

	logger.ExternalServiceCall("payments", "process_refund", "invoice_number", charge.InvoiceNumber, "amount", amount, "reason", reason)
	res, err := s.deps.Gateway.ProcessRefund(callCtx, charge, amount, reason)
	logger.ExternalServiceResult("payments", "process_refund", err, "invoice_number", charge.InvoiceNumber)
	if err != nil {
		return "", err
	}
	if res.Status != payments.StatusSucceeded {
		return "", fmt.Errorf("refund of %s was declined", charge.InvoiceNumber)
	}
	return res.ExternalRefundRef, nil
}

// Refund reverses a paid charge in full and cancels the invoice
func (s *paymentService) Refund(ctx context.Context, inv *domain.Invoice, reason string) error {
	if inv.IsCredit() {
		if inv.Status == domain.InvoiceStatusPaid {
			return nil
		}
		return s.SettleCredit(ctx, inv, nil)
	}
	if inv.Status != domain.InvoiceStatusPaid {
		return fmt.Errorf("%w: invoice %s is %s, only paid invoices can be refunded", domain.ErrInvalidTransition, inv.InvoiceNumber, inv.Status)
	}

	refunds, err := s.deps.Repos.Invoices.ListRefundsByRental(ctx, inv.RentalID)
	if err != nil {
		return err
	}
	var amount *decimal.Decimal
	if refunded := domain.RefundedByCharge(refunds)[inv.ID]; refunded.IsPositive() {
		remaining := inv.RefundableAmount(refunded)
		if !remaining.IsPositive() {
			return fmt.Errorf("%w: invoice %s is already fully refunded", domain.ErrInvalidTransition, inv.InvoiceNumber)
		}
		amount = &remaining
	}

	refundRef, err := s.refund(ctx, inv, amount, reason)
	if err != nil {
		return fmt.Errorf("%w: refund %s: %v", domain.ErrCollectionFailed, inv.InvoiceNumber, err)
	}
	if err := inv.MarkCancelled(refundRef); err != nil {
		return err
	}
	return s.deps.Repos.Invoices.Update(ctx, inv)
}
