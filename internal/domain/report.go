package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReportBucket is a count and total for one breakdown key
type ReportBucket struct {
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

type ReportSummary struct {
	TotalInvoices int             `json:"total_invoices"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaidAmount    decimal.Decimal `json:"paid_amount"`
	PendingAmount decimal.Decimal `json:"pending_amount"`
	OverdueAmount decimal.Decimal `json:"overdue_amount"`
}

type BillingReport struct {
	PeriodStart time.Time                     `json:"period_start"`
	PeriodEnd   time.Time                     `json:"period_end"`
	Summary     ReportSummary                 `json:"summary"`
	ByStatus    map[InvoiceStatus]ReportBucket `json:"by_status"`
	ByCycle     map[InvoiceCycle]ReportBucket  `json:"by_type"`
}

// BatchError records one rental's failure inside a batch run
type BatchError struct {
	RentalID int32  `json:"rental_id"`
	Error    string `json:"error"`
}

// BatchResult is the outcome of a billing batch
type BatchResult struct {
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Errors    []BatchError `json:"errors"`
}

// PayoutSweepResult is the outcome of a payout sweep
type PayoutSweepResult struct {
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Errors    []BatchError `json:"errors"`
}
