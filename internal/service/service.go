package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"rental-billing-engine/internal/domain"
)

// CreateRentalRequest is a booking as received from the booking flow
type CreateRentalRequest struct {
	ShopOwnerID  int32
	CustomerID   int32
	VehicleID    int32
	StartDate    time.Time
	EndDate      time.Time
	BillingCycle domain.BillingCycle // defaults to weekly
	RapDays      int32
}

type RentalService interface {
	CreateRental(ctx context.Context, req CreateRentalRequest) (*domain.Rental, error)
	ActivateRental(ctx context.Context, rentalID int32) (*domain.Rental, error)
	// CompleteRental returns the vehicle; a nil actualReturnDate means today
	CompleteRental(ctx context.Context, rentalID int32, actualReturnDate *time.Time) (*domain.Rental, error)
	CancelRental(ctx context.Context, rentalID int32, reason string) (*domain.Rental, error)
	ExtendRental(ctx context.Context, rentalID int32, additionalDays int) (*domain.Rental, error)
	AddRAP(ctx context.Context, rentalID int32, days int) (*domain.Rental, error)
	GetRental(ctx context.Context, rentalID int32) (*domain.Rental, error)
}

type BillingService interface {
	// ProcessWeeklyBilling bills every due rental, one transaction each
	ProcessWeeklyBilling(ctx context.Context) (*domain.BatchResult, error)
	// BillRental runs the pipeline for one rental; force ignores next_billing_date
	BillRental(ctx context.Context, rentalID int32, force bool) (*domain.Invoice, error)
	// MarkOverdueInvoices returns the invoices moved to overdue, or that would
	// be moved when dryRun is set
	MarkOverdueInvoices(ctx context.Context, dryRun bool) ([]domain.Invoice, error)
	GenerateBillingReport(ctx context.Context, start, end time.Time) (*domain.BillingReport, error)
	// RefundInvoice fully refunds a paid invoice and cancels it
	RefundInvoice(ctx context.Context, invoiceID int32, reason string) (*domain.Invoice, error)
	ListInvoices(ctx context.Context, rentalID int32) ([]domain.Invoice, error)
}

// PaymentService reconciles invoices with the payment collaborator
type PaymentService interface {
	Collect(ctx context.Context, invoice *domain.Invoice) error
	// SettleCredit marks a negative invoice paid after refunding the credit
	// across charges in the order given, each up to what is still refundable
	// on it. Any part no charge can absorb is recorded without a refund.
	SettleCredit(ctx context.Context, credit *domain.Invoice, charges []domain.Invoice) error
	Refund(ctx context.Context, invoice *domain.Invoice, reason string) error
}

type PayoutService interface {
	// SchedulePayout records the payout owed for a completed rental
	SchedulePayout(ctx context.Context, rental *domain.Rental, gross decimal.Decimal) (*domain.Payout, error)
	ProcessPayouts(ctx context.Context) (*domain.PayoutSweepResult, error)
	CancelPayout(ctx context.Context, payoutID int32) (*domain.Payout, error)
}

type DepositService interface {
	PlaceHold(ctx context.Context, rental *domain.Rental, customer *domain.Party) (*domain.SecurityDepositHold, error)
	// ReleaseHold returns whatever is left of the hold; missing or settled holds are skipped
	ReleaseHold(ctx context.Context, rentalID int32, reason domain.ReleaseReason) error
	WithholdDeposit(ctx context.Context, rentalID int32, amount decimal.Decimal, reason domain.ReleaseReason) (*domain.SecurityDepositHold, error)
}

// IncidentReport is a new incident as reported by the customer or shop
type IncidentReport struct {
	RentalID     int32
	IncidentType domain.IncidentType
	Description  string
	IncidentDate time.Time
	Amount       decimal.Decimal
}

type IncidentService interface {
	ReportIncident(ctx context.Context, report IncidentReport) (*domain.Incident, error)
	ReviewIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error)
	ApproveIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error)
	DismissIncident(ctx context.Context, incidentID int32, notes string) (*domain.Incident, error)
}

type EmailService interface {
	SendInvoicePaid(ctx context.Context, to *domain.Party, invoice *domain.Invoice) error
	SendInvoiceFailed(ctx context.Context, to *domain.Party, invoice *domain.Invoice) error
	SendPayoutCompleted(ctx context.Context, to *domain.Party, payout *domain.Payout) error
}
