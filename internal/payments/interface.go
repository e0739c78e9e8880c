package payments

import (
	"context"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// PaymentResult is the collaborator's answer to a collection request
type PaymentResult struct {
	ExternalPaymentRef string
	Status             Status
	FailureMessage     string
}

// RefundResult is the collaborator's answer to a refund request
type RefundResult struct {
	ExternalRefundRef string
	Status            Status
}

// Gateway defines the payment collaborator used for customer charges,
// refunds and deposit holds.
// Supports the sandbox gateway and card processors behind the same calls.
type Gateway interface {
	// CreateInvoice registers the invoice with the processor
	// customer: the paying party, carrying its processor customer ref
	CreateInvoice(ctx context.Context, invoice *domain.Invoice, customer *domain.Party) (string, error)

	// CollectPayment charges the customer for a registered invoice.
	// A declined charge returns StatusFailed with a nil error.
	CollectPayment(ctx context.Context, invoice *domain.Invoice) (PaymentResult, error)

	// ProcessRefund refunds a paid invoice
	// amount: nil refunds the full invoice total
	ProcessRefund(ctx context.Context, invoice *domain.Invoice, amount *decimal.Decimal, reason string) (RefundResult, error)

	// PlaceSecurityDepositHold reserves the hold amount on the customer's card
	PlaceSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, customer *domain.Party) (string, error)

	// ReleaseSecurityDepositHold returns amount of an active hold
	ReleaseSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, amount decimal.Decimal) (string, error)

	// ChargeCustomer makes a one-off charge outside an invoice
	// purpose: short tag such as "rap" or "deposit_withhold"
	ChargeCustomer(ctx context.Context, customerRef string, amount decimal.Decimal, purpose string) (string, error)
}

// TransferResult identifies a completed transfer at the payout rail
type TransferResult struct {
	TransferRef string
	PayoutRef   string
}

// PayoutRail defines the collaborator that moves money to car owners
type PayoutRail interface {
	// TransferAndPayout sends amountMinorUnits to the destination account
	// metadata: carries the idempotency key and rental id
	TransferAndPayout(ctx context.Context, destinationAccountRef string, amountMinorUnits int64, currency string, metadata map[string]string) (TransferResult, error)
}
