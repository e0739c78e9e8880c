package service

import (
	"context"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/payments"
)

// MockGateway
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateInvoice(ctx context.Context, inv *domain.Invoice, customer *domain.Party) (string, error) {
	args := m.Called(ctx, inv, customer)
	return args.String(0), args.Error(1)
}
func (m *MockGateway) CollectPayment(ctx context.Context, inv *domain.Invoice) (payments.PaymentResult, error) {
	args := m.Called(ctx, inv)
	return args.Get(0).(payments.PaymentResult), args.Error(1)
}
func (m *MockGateway) ProcessRefund(ctx context.Context, inv *domain.Invoice, amount *decimal.Decimal, reason string) (payments.RefundResult, error) {
	args := m.Called(ctx, inv, amount, reason)
	return args.Get(0).(payments.RefundResult), args.Error(1)
}
func (m *MockGateway) PlaceSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, customer *domain.Party) (string, error) {
	args := m.Called(ctx, hold, customer)
	return args.String(0), args.Error(1)
}
func (m *MockGateway) ReleaseSecurityDepositHold(ctx context.Context, hold *domain.SecurityDepositHold, amount decimal.Decimal) (string, error) {
	args := m.Called(ctx, hold, amount)
	return args.String(0), args.Error(1)
}
func (m *MockGateway) ChargeCustomer(ctx context.Context, customerRef string, amount decimal.Decimal, purpose string) (string, error) {
	args := m.Called(ctx, customerRef, amount, purpose)
	return args.String(0), args.Error(1)
}

// MockRail
type MockRail struct {
	mock.Mock
}

func (m *MockRail) TransferAndPayout(ctx context.Context, dest string, amountMinorUnits int64, currency string, metadata map[string]string) (payments.TransferResult, error) {
	args := m.Called(ctx, dest, amountMinorUnits, currency, metadata)
	return args.Get(0).(payments.TransferResult), args.Error(1)
}

// MockMailClient
type MockMailClient struct {
	mock.Mock
}

func (m *MockMailClient) SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*rest.Response), args.Error(1)
}
