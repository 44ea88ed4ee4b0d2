package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v3"
)

// Resend implements Notifier using the Resend API.
type Resend struct {
	client      *resend.Client
	fromAddress string
}

// NewResend creates a Resend notifier. fromAddress must be verified in
// Resend.
func NewResend(apiKey, fromAddress string) *Resend {
	return &Resend{
		client:      resend.NewClient(apiKey),
		fromAddress: fromAddress,
	}
}

// Send sends msg. The Resend client does not take a context, so only a
// context that is already done stops the send.
func (r *Resend) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &resend.SendEmailRequest{
		From:    r.fromAddress,
		To:      msg.To,
		Subject: msg.Subject,
		Html:    msg.HTML,
	}
	if _, err := r.client.Emails.Send(params); err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}
	return nil
}
