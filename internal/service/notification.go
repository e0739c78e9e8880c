package service

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"rental-billing-engine/internal/domain"
	"rental-billing-engine/internal/logger"
	"rental-billing-engine/internal/utils"
)

// MailClient is the part of the SendGrid client the email service uses
type MailClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

type sendGridEmailService struct {
	client    MailClient
	fromEmail string
	fromName  string
}

func NewSendGridEmailService(apiKey, fromEmail, fromName string) EmailService {
	return NewSendGridEmailServiceWithClient(sendgrid.NewSendClient(apiKey), fromEmail, fromName)
}

func NewSendGridEmailServiceWithClient(client MailClient, fromEmail, fromName string) EmailService {
	return &sendGridEmailService{client: client, fromEmail: fromEmail, fromName: fromName}
}

func (s *sendGridEmailService) SendInvoicePaid(ctx context.Context, to *domain.Party, inv *domain.Invoice) error {
	subject := fmt.Sprintf("Payment received for invoice %s", inv.InvoiceNumber)
	text := fmt.Sprintf("Hello %s,\n\nWe received your payment of %s for invoice %s (%s to %s).\n\nThank you for renting with us.",
		to.Name, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber,
		utils.FormatDate(inv.BillingPeriodStart), utils.FormatDate(inv.BillingPeriodEnd))
	return s.send(ctx, to, subject, text)
}

func (s *sendGridEmailService) SendInvoiceFailed(ctx context.Context, to *domain.Party, inv *domain.Invoice) error {
	subject := fmt.Sprintf("Payment failed for invoice %s", inv.InvoiceNumber)
	text := fmt.Sprintf("Hello %s,\n\nWe could not collect %s for invoice %s. Please update your payment method before %s.",
		to.Name, inv.TotalAmount.StringFixed(2), inv.InvoiceNumber, utils.FormatDate(inv.DueDate))
	if inv.FailureReason != "" {
		text += fmt.Sprintf("\n\nReason: %s", inv.FailureReason)
	}
	return s.send(ctx, to, subject, text)
}

func (s *sendGridEmailService) SendPayoutCompleted(ctx context.Context, to *domain.Party, p *domain.Payout) error {
	subject := fmt.Sprintf("Payout sent for rental %d", p.RentalID)
	text := fmt.Sprintf("Hello %s,\n\nWe sent %s %s for rental %d (gross %s, commission %s).",
		to.Name, p.NetAmount.StringFixed(2), p.Currency, p.RentalID,
		p.Amount.StringFixed(2), p.CommissionAmount.StringFixed(2))
	return s.send(ctx, to, subject, text)
}

func (s *sendGridEmailService) send(ctx context.Context, to *domain.Party, subject, text string) error {
	if to.Email == "" {
		logger.Debug("Party has no email address, skipping notification", "party_id", to.ID)
		return nil
	}
	from := mail.NewEmail(s.fromName, s.fromEmail)
	recipient := mail.NewEmail(to.Name, to.Email)
	message := mail.NewSingleEmail(from, subject, recipient, text, "")

	logger.ExternalServiceCall("sendgrid", "send", "to", to.Email, "subject", subject)
	response, err := s.client.SendWithContext(ctx, message)
	logger.ExternalServiceResult("sendgrid", "send", err, "to", to.Email)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	return nil
}

// NoopEmailService drops every notification
type NoopEmailService struct{}

func (NoopEmailService) SendInvoicePaid(context.Context, *domain.Party, *domain.Invoice) error {
	return nil
}

func (NoopEmailService) SendInvoiceFailed(context.Context, *domain.Party, *domain.Invoice) error {
	return nil
}

func (NoopEmailService) SendPayoutCompleted(context.Context, *domain.Party, *domain.Payout) error {
	return nil
}
