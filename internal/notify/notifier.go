package notify

import (
	"context"
	"fmt"
	"slices"

	"chillerhub/internal/logger"
	"chillerhub/internal/metrics"
)

// Sender delivers a single request. *Registry satisfies it.
type Sender interface {
	Send(ctx context.Context, req *EmailRequest) error
}

// Notifier sends alert e-mails from a fixed address with retries.
type Notifier struct {
	sender Sender
	from   string
	retry  RetryConfig
}

// NewNotifier creates a notifier sending through s.
func NewNotifier(s Sender, from string, retry RetryConfig) *Notifier {
	return &Notifier{sender: s, from: from, retry: retry}
}

// Send delivers one message to every recipient.
func (n *Notifier) Send(ctx context.Context, recipients []string, subject, body string) error {
	req := &EmailRequest{
		From:    n.from,
		To:      recipients,
		Subject: subject,
		Body:    body,
	}

	attempts := 0
	err := WithRetry(ctx, n.retry, "send_alert_email", func() error {
		if attempts > 0 {
			metrics.NotifyAttemptsTotal.WithLabelValues("all", "retried").Inc()
		}
		attempts++
		return n.sender.Send(ctx, req)
	})
	if err != nil {
		return fmt.Errorf("send alert email after %d attempt(s): %w", attempts, err)
	}
	return nil
}

// LogProvider writes e-mails to the log instead of sending them. It is the
// default for local development.
type LogProvider struct{}

func (LogProvider) Name() string { return "log" }

func (LogProvider) IsConfigured() bool { return true }

func (LogProvider) Send(ctx context.Context, req *EmailRequest) error {
	logger.WithComponent("notify").Info().
		Str("provider", "log").
		Str("from", req.From).
		Strs("to", req.To).
		Str("subject", req.Subject).
		Str("body", req.Body).
		Msg("email")
	return nil
}

// Options configures NewFromOptions.
type Options struct {
	Primary   string
	Fallback  []string
	From      string
	SESRegion string
	ResendKey string
	SMTP      SMTPConfig
	Retry     RetryConfig
}

// NewFromOptions registers every known provider and returns a notifier
// using the configured primary and fallbacks.
func NewFromOptions(ctx context.Context, opts Options) (*Notifier, *Registry, error) {
	reg := NewRegistry()
	reg.Register(LogProvider{})
	reg.Register(NewSMTPProvider(opts.SMTP))
	reg.Register(NewResendProvider(opts.ResendKey))
	if opts.Primary == "ses" || slices.Contains(opts.Fallback, "ses") {
		reg.Register(NewSESProvider(ctx, opts.SESRegion))
	}

	primary := opts.Primary
	if primary == "" {
		primary = "log"
	}
	if err := reg.SetPrimary(primary); err != nil {
		return nil, nil, err
	}
	if err := reg.SetFallback(opts.Fallback...); err != nil {
		return nil, nil, err
	}

	return NewNotifier(reg, opts.From, opts.Retry), reg, nil
}
