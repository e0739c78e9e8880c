package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "draft"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusPaid      InvoiceStatus = "paid"
	InvoiceStatusOverdue   InvoiceStatus = "overdue"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusFailed    InvoiceStatus = "failed"
)

func (s InvoiceStatus) String() string { return string(s) }

// CanTransitionTo encodes the invoice lifecycle. A paid invoice only
// leaves paid through a refund-linked cancellation.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	switch s {
	case InvoiceStatusDraft:
		return next == InvoiceStatusPending || next == InvoiceStatusPaid || next == InvoiceStatusCancelled
	case InvoiceStatusPending:
		return next == InvoiceStatusPaid || next == InvoiceStatusFailed || next == InvoiceStatusOverdue || next == InvoiceStatusCancelled
	case InvoiceStatusOverdue:
		return next == InvoiceStatusPaid || next == InvoiceStatusFailed || next == InvoiceStatusCancelled
	case InvoiceStatusFailed:
		return next == InvoiceStatusCancelled
	case InvoiceStatusPaid:
		return next == InvoiceStatusCancelled
	case InvoiceStatusCancelled:
		return false
	}
	return false
}

// AllInvoiceStatuses lists statuses in report order
var AllInvoiceStatuses = []InvoiceStatus{
	InvoiceStatusDraft, InvoiceStatusPending, InvoiceStatusPaid,
	InvoiceStatusOverdue, InvoiceStatusCancelled, InvoiceStatusFailed,
}

// InvoiceCycle tags what produced an invoice
type InvoiceCycle string

const (
	InvoiceCycleWeekly       InvoiceCycle = "weekly"
	InvoiceCycleMonthly      InvoiceCycle = "monthly"
	InvoiceCycleExtension    InvoiceCycle = "extension"
	InvoiceCycleCancellation InvoiceCycle = "cancellation"
	InvoiceCycleAdjustment   InvoiceCycle = "adjustment"
)

// AllInvoiceCycles lists cycle tags in report order
var AllInvoiceCycles = []InvoiceCycle{
	InvoiceCycleWeekly, InvoiceCycleMonthly, InvoiceCycleExtension,
	InvoiceCycleCancellation, InvoiceCycleAdjustment,
}

// NumberSuffix returns the invoice-number suffix for the cycle
func (c InvoiceCycle) NumberSuffix() string {
	switch c {
	case InvoiceCycleAdjustment:
		return "ADJ"
	case InvoiceCycleExtension:
		return "EXT"
	case InvoiceCycleCancellation:
		return "CAN"
	case InvoiceCycleWeekly, InvoiceCycleMonthly:
		return ""
	}
	return ""
}

// CycleFor maps a rental's billing cycle to the regular invoice cycle tag
func CycleFor(c BillingCycle) InvoiceCycle {
	switch c {
	case BillingCycleMonthly:
		return InvoiceCycleMonthly
	case BillingCycleWeekly:
		return InvoiceCycleWeekly
	}
	return InvoiceCycleWeekly
}

type InvoiceItemType string

const (
	InvoiceItemRental       InvoiceItemType = "rental"
	InvoiceItemRap          InvoiceItemType = "rap"
	InvoiceItemExtension    InvoiceItemType = "extension"
	InvoiceItemEarlyReturn  InvoiceItemType = "early_return"
	InvoiceItemCancellation InvoiceItemType = "cancellation"
	InvoiceItemTax          InvoiceItemType = "tax"
	InvoiceItemFee          InvoiceItemType = "fee"
)

type InvoiceItem struct {
	ID          int32           `json:"id"`
	InvoiceID   int32           `json:"invoice_id"`
	Position    int32           `json:"position"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	ItemType    InvoiceItemType `json:"item_type"`
	// RentalDays and DailyRate are set on day-priced lines
	RentalDays *int32            `json:"rental_days,omitempty"`
	DailyRate  *decimal.Decimal  `json:"daily_rate,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

type Invoice struct {
	ID          int32 `json:"id"`
	RentalID    int32 `json:"rental_id"`
	ShopOwnerID int32 `json:"shop_owner_id"`
	CustomerID  int32 `json:"customer_id"`

	InvoiceNumber string `json:"invoice_number"`
	NumberYear    int32  `json:"number_year"`
	NumberMonth   int32  `json:"number_month"`
	NumberSeq     int32  `json:"number_seq"`

	BillingPeriodStart time.Time       `json:"billing_period_start"`
	BillingPeriodEnd   time.Time       `json:"billing_period_end"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             InvoiceStatus   `json:"status"`
	DueDate            time.Time       `json:"due_date"`
	BillingCycle       InvoiceCycle    `json:"billing_cycle"`

	ExternalInvoiceRef string `json:"external_invoice_ref"`
	ExternalPaymentRef string `json:"external_payment_ref"`
	ExternalRefundRef  string `json:"external_refund_ref"`
	// RefundOfInvoiceID links an adjustment to the newest charge it credits.
	// Every refund it issued is an InvoiceRefund.
	RefundOfInvoiceID *int32     `json:"refund_of_invoice_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
	FailureReason     string     `json:"failure_reason"`
	Notes             string     `json:"notes"`

	Items     []InvoiceItem `json:"items"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsCredit reports whether the invoice refunds money to the customer
func (inv *Invoice) IsCredit() bool {
	return inv.TotalAmount.IsNegative()
}

func (inv *Invoice) transition(next InvoiceStatus) error {
	if !inv.Status.CanTransitionTo(next) {
		return transitionError(fmt.Sprintf("invoice %s", inv.InvoiceNumber), inv.Status, next)
	}
	inv.Status = next
	return nil
}

// MarkPaid records a successful collection
func (inv *Invoice) MarkPaid(paymentRef string, at time.Time) error {
	if err := inv.transition(InvoiceStatusPaid); err != nil {
		return err
	}
	if paymentRef != "" {
		inv.ExternalPaymentRef = paymentRef
	}
	inv.PaidAt = &at
	inv.FailureReason = ""
	return nil
}

// MarkFailed records a collection error
func (inv *Invoice) MarkFailed(reason string) error {
	if err := inv.transition(InvoiceStatusFailed); err != nil {
		return err
	}
	inv.FailureReason = reason
	return nil
}

// MarkOverdue flags a pending invoice whose due date is before now.
// It returns false, without error, when nothing changes.
func (inv *Invoice) MarkOverdue(now time.Time) bool {
	if inv.Status != InvoiceStatusPending || !inv.DueDate.Before(now) {
		return false
	}
	inv.Status = InvoiceStatusOverdue
	return true
}

// MarkCancelled records a refund against the invoice
func (inv *Invoice) MarkCancelled(refundRef string) error {
	if err := inv.transition(InvoiceStatusCancelled); err != nil {
		return err
	}
	if refundRef != "" {
		inv.ExternalRefundRef = refundRef
	}
	return nil
}

// ChargeSubtotal sums every non-tax line
func (inv *Invoice) ChargeSubtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		if item.ItemType != InvoiceItemTax {
			sum = sum.Add(item.TotalPrice)
		}
	}
	return sum
}

// ItemsTotal sums every line including tax
func (inv *Invoice) ItemsTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		sum = sum.Add(item.TotalPrice)
	}
	return sum
}

// Validate checks the monetary invariants between the header and its lines
func (inv *Invoice) Validate() error {
	if !inv.Subtotal.Add(inv.TaxAmount).Equal(inv.TotalAmount) {
		return IntegrityError("invoice %s: subtotal %s + tax %s != total %s",
			inv.InvoiceNumber, inv.Subtotal, inv.TaxAmount, inv.TotalAmount)
	}
	if !inv.ChargeSubtotal().Equal(inv.Subtotal) {
		return IntegrityError("invoice %s: line items sum to %s, subtotal is %s",
			inv.InvoiceNumber, inv.ChargeSubtotal(), inv.Subtotal)
	}
	if !inv.ItemsTotal().Equal(inv.TotalAmount) {
		return IntegrityError("invoice %s: lines including tax sum to %s, total is %s",
			inv.InvoiceNumber, inv.ItemsTotal(), inv.TotalAmount)
	}
	for _, item := range inv.Items {
		if !item.Quantity.Mul(item.UnitPrice).Equal(item.TotalPrice) {
			return IntegrityError("invoice %s: item %q quantity x unit price != total", inv.InvoiceNumber, item.Description)
		}
	}
	if inv.BillingPeriodEnd.Before(inv.BillingPeriodStart) {
		return IntegrityError("invoice %s: period end before period start", inv.InvoiceNumber)
	}
	return nil
}

// InvoiceRefund is one refund a credit invoice issued against a paid charge
type InvoiceRefund struct {
	ID                int32           `json:"id"`
	RentalID          int32           `json:"rental_id"`
	CreditInvoiceID   int32           `json:"credit_invoice_id"`
	ChargeInvoiceID   int32           `json:"charge_invoice_id"`
	Amount            decimal.Decimal `json:"amount"`
	ExternalRefundRef string          `json:"external_refund_ref"`
	CreatedAt         time.Time       `json:"created_at"`
}

// RefundedByCharge sums refunds per charge invoice id
func RefundedByCharge(refunds []InvoiceRefund) map[int32]decimal.Decimal {
	out := make(map[int32]decimal.Decimal, len(refunds))
	for _, r := range refunds {
		out[r.ChargeInvoiceID] = out[r.ChargeInvoiceID].Add(r.Amount)
	}
	return out
}

// RefundableAmount is what can still be refunded on a paid charge given the
// amount already refunded against it
func (inv *Invoice) RefundableAmount(refunded decimal.Decimal) decimal.Decimal {
	if inv.Status != InvoiceStatusPaid || !inv.TotalAmount.IsPositive() || inv.ExternalPaymentRef == "" {
		return decimal.Zero
	}
	remaining := inv.TotalAmount.Sub(refunded)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
