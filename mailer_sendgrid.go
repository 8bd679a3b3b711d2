package auth

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridClient is the subset of the SendGrid client we use
type SendGridClient interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridMailer delivers messages through SendGrid
type SendGridMailer struct {
	client   SendGridClient
	fromName string
}

// NewSendGridMailer creates a mailer using apiKey
func NewSendGridMailer(apiKey, fromName string) *SendGridMailer {
	return NewSendGridMailerWithClient(sendgrid.NewSendClient(apiKey), fromName)
}

// NewSendGridMailerWithClient creates a mailer over an existing client
func NewSendGridMailerWithClient(client SendGridClient, fromName string) *SendGridMailer {
	return &SendGridMailer{
		client:   client,
		fromName: fromName,
	}
}

// Send implements Mailer
func (m *SendGridMailer) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(m.fromName, msg.From)
	to := mail.NewEmail("", msg.To)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	res, err := m.client.SendWithContext(ctx, email)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "sendgrid request failed")
	}

	if res == nil {
		return goerrors.New("sendgrid returned no response", goerrors.CategoryOperation)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return goerrors.New("sendgrid rejected message", goerrors.CategoryOperation).
			WithMetadata(map[string]any{
				"status": res.StatusCode,
				"body":   res.Body,
			})
	}

	return nil
}
