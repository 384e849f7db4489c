package email

import "context"

type Provider interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
	// SendWithAttachment sends an HTML message with a single PDF attachment.
	SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, filename string, attachment []byte) error
}

// NoOpProvider drops mail on the floor. Used when SMTP is not configured.
type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	return nil
}

func (p *NoOpProvider) SendWithAttachment(ctx context.Context, to []string, subject string, htmlBody string, filename string, attachment []byte) error {
	return nil
}
