package escalation

import (
	"context"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"bikefleet-backend/internal/domain"
)

// MailSender is satisfied by *sendgrid.Client.
type MailSender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

// EmailAlert mails each issue to the on-call operators.
type EmailAlert struct {
	client     MailSender
	fromEmail  string
	fromName   string
	recipients []string
}

func NewSendGridAlert(apiKey, fromEmail, fromName string, recipients []string) *EmailAlert {
	return NewEmailAlert(sendgrid.NewSendClient(apiKey), fromEmail, fromName, recipients)
}

func NewEmailAlert(client MailSender, fromEmail, fromName string, recipients []string) *EmailAlert {
	return &EmailAlert{client: client, fromEmail: fromEmail, fromName: fromName, recipients: recipients}
}

func (a *EmailAlert) Name() string { return "sendgrid" }

func (a *EmailAlert) Record(ctx context.Context, issue *domain.ReconciliationIssue) error {
	from := mail.NewEmail(a.fromName, a.fromEmail)
	subject := fmt.Sprintf("[bikefleet] reconciliation issue: %s", issue.Kind)
	text := alertBody(issue)

	for _, to := range a.recipients {
		message := mail.NewSingleEmail(from, subject, mail.NewEmail("", to), text, "")
		response, err := a.client.Send(message)
		if err != nil {
			return fmt.Errorf("failed to send alert email: %w", err)
		}
		if response.StatusCode >= 400 {
			return fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
		}
	}
	return nil
}

func alertBody(issue *domain.ReconciliationIssue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Kind: %s\n", issue.Kind)
	if issue.ChargeID != nil {
		fmt.Fprintf(&b, "Gateway charge: %s\n", *issue.ChargeID)
	}
	if issue.ClientID != nil {
		fmt.Fprintf(&b, "Client: %s\n", *issue.ClientID)
	}
	if issue.RentalID != nil {
		fmt.Fprintf(&b, "Rental: %d\n", *issue.RentalID)
	}
	fmt.Fprintf(&b, "Amount: %s\n", issue.Amount)
	fmt.Fprintf(&b, "Detected: %s\n\n%s\n", issue.CreatedAt.Format("2006-01-02 15:04:05 MST"), issue.Detail)
	return b.String()
}
