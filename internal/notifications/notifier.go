package notifications

import "context"

type SendConfirmationEmailInput struct {
	AccountID int64
	Username  string
	Email     string
}

// Notifier is the delivery boundary; the worker does not know whether
// the other side is SMTP, a provider API or a log line.
type Notifier interface {
	SendConfirmationEmail(ctx context.Context, input SendConfirmationEmailInput) error
}
