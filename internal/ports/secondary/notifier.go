package secondary

import "context"

// NotificationMessage is a rendered message handed to a Notifier.
type NotificationMessage struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers notifications. Delivery is best effort: callers log
// failures and never roll back the operation that triggered the message.
type Notifier interface {
	Notify(ctx context.Context, msg NotificationMessage) error
}
