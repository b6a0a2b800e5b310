package port

import "context"

// MailSender delivers rendered email to an external mail system.
// Failures are the caller's problem to log and retry; the engine never
// blocks a state transition on delivery.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}
