package notify

import (
	"context"
	"fmt"

	"github.com/resend/resend-go/v2"

	"chillerhub/internal/logger"
)

// ResendProvider sends through the Resend API.
type ResendProvider struct {
	client *resend.Client
}

// NewResendProvider creates a provider for apiKey. An empty key yields an
// unconfigured provider.
func NewResendProvider(apiKey string) *ResendProvider {
	if apiKey == "" {
		return &ResendProvider{}
	}
	return &ResendProvider{client: resend.NewClient(apiKey)}
}

func (p *ResendProvider) Name() string { return "resend" }

func (p *ResendProvider) IsConfigured() bool { return p.client != nil }

func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.client == nil {
		return fmt.Errorf("Resend client not initialized")
	}
	if len(req.To) == 0 {
		return ErrNoRecipients
	}

	result, err := p.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    req.From,
		To:      req.To,
		Subject: req.Subject,
		Text:    req.Body,
	})
	if err != nil {
		return fmt.Errorf("Resend send failed: %w", err)
	}

	logger.WithComponent("notify").Debug().
		Str("provider", "resend").
		Str("email_id", result.Id).
		Int("recipients", len(req.To)).
		Msg("email sent")
	return nil
}
