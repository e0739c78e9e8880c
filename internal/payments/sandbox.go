package payments

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
)

// SandboxGateway implements Gateway without moving money.
// Every call succeeds and returns a generated reference. This is for local
// runs and demos without a card processor account.
type SandboxGateway struct {
	mu      sync.Mutex
	charged map[string]decimal.Decimal // payment ref -> amount
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{charged: map[string]decimal.Decimal{}}
}

func ref(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.New().String())
}

func (g *SandboxGateway) CreateInvoice(ctx context.Context, invoice *domain.Invoice, customer *domain.Party) (string, error) {
	logger.ExternalServiceCall("sandbox-payments", "create_invoice", "invoice_number", invoice.InvoiceNumber)
	return ref("in"), nil
}

func (g *SandboxGateway) CollectPayment(ctx context.Context, invoice *domain.Invoice) (PaymentResult, error) {
	logger.ExternalServiceCall("sandbox-payments", "collect_payment", "invoice_number", invoice.InvoiceNumber, "amount", invoice.TotalAmount)
	paymentRef := ref("pi")
	g.mu.Lock()
	g.charged[paymentRef] = invoice.TotalAmount
	g.mu.Unlock()
	return PaymentResult{ExternalPaymentRef: paymentRef, Status: StatusSucceeded}, nil
}

func (g *SandboxGateway) ProcessRefund(ctx context.Context, invoice *domain.Invoice, amount *decimal.Decimal, reason string) (RefundResult, error) {
	logger.ExternalServiceCall("sandbox-payments", "process_refund", "invoice_number", invoice.InvoiceNumber, "reason", reason)
	g.mu.Lock()
	defer g.mu.Unlock()
	charged, ok := g.charged[invoice.ExternalPaymentRef]
	if !ok {
		return RefundResult{Status: StatusFailed}, fmt.Errorf("sandbox: no charge %q to refund", invoice.ExternalPaymentRef)
	}
	if amount != nil && amount.GreaterThan(charged) {
		return RefundResult{Status: StatusFailed}, fmt.Errorf("sandbox: refund %s exceeds charge %s", amount, charged)
	}
	return RefundResult{ExternalRefundRef: ref("re"), Status: StatusSucceeded}, nil
}

func (g *SandboxGateway) PlaceSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, customer *domain.Party) (string, error) {
	logger.ExternalServiceCall("sandbox-payments", "place_hold", "rental_id", hold.RentalID, "amount", hold.Amount)
	return ref("hold"), nil
}

func (g *SandboxGateway) ReleaseSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, amount decimal.Decimal) (string, error) {
	logger.ExternalServiceCall("sandbox-payments", "release_hold", "rental_id", hold.RentalID, "amount", amount)
	return ref("rel"), nil
}

func (g *SandboxGateway) ChargeCustomer(ctx context.Context, customerRef string, amount decimal.Decimal, purpose string) (string, error) {
	logger.ExternalServiceCall("sandbox-payments", "charge_customer", "purpose", purpose, "amount", amount)
	return ref("ch"), nil
}

// SandboxRail implements PayoutRail by recording transfers in memory
type SandboxRail struct {
	mu        sync.Mutex
	transfers map[string]TransferResult // idempotency key -> result
}

func NewSandboxRail() *SandboxRail {
	return &SandboxRail{transfers: map[string]TransferResult{}}
}

// TransferAndPayout returns the earlier result when called again with the
// same idempotency key
func (r *SandboxRail) TransferAndPayout(ctx context.Context, destinationAccountRef string, amountMinorUnits int64, currency string, metadata map[string]string) (TransferResult, error) {
	logger.ExternalServiceCall("sandbox-payouts", "transfer_and_payout", "amount_minor", amountMinorUnits, "currency", currency)
	if destinationAccountRef == "" {
		return TransferResult{}, fmt.Errorf("sandbox: missing destination account")
	}
	if amountMinorUnits <= 0 {
		return TransferResult{}, fmt.Errorf("sandbox: amount must be positive, got %d", amountMinorUnits)
	}

	key := metadata["idempotency_key"]
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.transfers[key]; ok && key != "" {
		return prev, nil
	}
	res := TransferResult{TransferRef: ref("tr"), PayoutRef: ref("po")}
	if key != "" {
		r.transfers[key] = res
	}
	return res, nil
}
