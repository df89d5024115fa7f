package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"chillerhub/internal/logger"
)

// SESAPI is the part of the SES v2 client the provider uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESProvider sends through Amazon SES.
type SESProvider struct {
	client SESAPI
	region string
}

// NewSESProvider loads the default AWS credential chain for region. A
// provider whose config cannot be loaded reports itself unconfigured.
func NewSESProvider(ctx context.Context, region string) *SESProvider {
	log := logger.WithComponent("notify")
	if region == "" {
		region = "us-east-1"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		log.Warn().Err(err).Msg("failed to load AWS config, SES provider unavailable")
		return &SESProvider{region: region}
	}

	log.Info().Str("region", region).Msg("SES email provider initialized")
	return &SESProvider{client: sesv2.NewFromConfig(cfg), region: region}
}

// NewSESProviderWithClient wraps an existing client.
func NewSESProviderWithClient(client SESAPI, region string) *SESProvider {
	return &SESProvider{client: client, region: region}
}

func (p *SESProvider) Name() string { return "ses" }

func (p *SESProvider) IsConfigured() bool { return p.client != nil }

func (p *SESProvider) Send(ctx context.Context, req *EmailRequest) error {
	if p.client == nil {
		return fmt.Errorf("SES client not initialized")
	}
	if len(req.To) == 0 {
		return ErrNoRecipients
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(req.From),
		Destination: &types.Destination{
			ToAddresses: req.To,
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(req.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(req.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	}

	out, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES send failed: %w", err)
	}

	logger.WithComponent("notify").Debug().
		Str("provider", "ses").
		Str("message_id", aws.ToString(out.MessageId)).
		Int("recipients", len(req.To)).
		Msg("email sent")
	return nil
}
