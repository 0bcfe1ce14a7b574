package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// ErrNoEmailProvider is returned when no provider is configured.
var ErrNoEmailProvider = errors.New("no email provider configured")

// EmailRequest is one outbound email.
type EmailRequest struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailProvider sends email through one vendor.
type EmailProvider interface {
	Name() string
	Send(ctx context.Context, req *EmailRequest) error
}

// SESAPI is the subset of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESProvider sends email via AWS SES.
type SESProvider struct {
	client SESAPI
	from   string
	logger *zap.Logger
}

func NewSESProvider(client SESAPI, from string, logger *zap.Logger) *SESProvider {
	return &SESProvider{client: client, from: from, logger: logger}
}

func (p *SESProvider) Name() string { return "ses" }

func (p *SESProvider) Send(ctx context.Context, req *EmailRequest) error {
	body := &types.Body{
		Text: &types.Content{
			Data:    aws.String(req.Text),
			Charset: aws.String("UTF-8"),
		},
	}
	if req.HTML != "" {
		body.Html = &types.Content{
			Data:    aws.String(req.HTML),
			Charset: aws.String("UTF-8"),
		}
	}

	input := &ses.SendEmailInput{
		Source: aws.String(p.from),
		Destination: &types.Destination{
			ToAddresses: []string{req.To},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data:    aws.String(req.Subject),
				Charset: aws.String("UTF-8"),
			},
			Body: body,
		},
	}

	result, err := p.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("ses send failed: %w", err)
	}

	p.logger.Debug("email sent via SES",
		zap.String("to", req.To),
		zap.String("message_id", aws.ToString(result.MessageId)),
	)
	return nil
}

// ResendAPI is the subset of the Resend emails service used here.
type ResendAPI interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// ResendProvider sends email via the Resend API.
type ResendProvider struct {
	client ResendAPI
	from   string
	logger *zap.Logger
}

// NewResendProvider builds a provider from an API key.
func NewResendProvider(apiKey, from string, logger *zap.Logger) *ResendProvider {
	return NewResendProviderWithClient(resend.NewClient(apiKey).Emails, from, logger)
}

func NewResendProviderWithClient(client ResendAPI, from string, logger *zap.Logger) *ResendProvider {
	return &ResendProvider{client: client, from: from, logger: logger}
}

func (p *ResendProvider) Name() string { return "resend" }

func (p *ResendProvider) Send(ctx context.Context, req *EmailRequest) error {
	params := &resend.SendEmailRequest{
		From:    p.from,
		To:      []string{req.To},
		Subject: req.Subject,
		Text:    req.Text,
		Html:    req.HTML,
	}

	result, err := p.client.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend send failed: %w", err)
	}

	p.logger.Debug("email sent via Resend",
		zap.String("to", req.To),
		zap.String("email_id", result.Id),
	)
	return nil
}

// ProviderChain tries each provider in order until one accepts the email.
type ProviderChain struct {
	providers []EmailProvider
	logger    *zap.Logger
}

func NewProviderChain(logger *zap.Logger, providers ...EmailProvider) *ProviderChain {
	return &ProviderChain{providers: providers, logger: logger}
}

// Len returns the number of configured providers.
func (c *ProviderChain) Len() int { return len(c.providers) }

// Send returns the joined provider errors when every provider fails.
func (c *ProviderChain) Send(ctx context.Context, req *EmailRequest) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoEmailProvider
	}

	var errs []error
	for _, p := range c.providers {
		err := p.Send(ctx, req)
		if err == nil {
			return p.Name(), nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
		c.logger.Warn("email provider failed, trying next",
			zap.Error(err),
			zap.String("provider", p.Name()),
		)
	}
	return "", errors.Join(errs...)
}

// EmailGateway delivers alerts as templated plain text and HTML email.
type EmailGateway struct {
	chain  *ProviderChain
	logger *zap.Logger
}

func NewEmailGateway(chain *ProviderChain, logger *zap.Logger) *EmailGateway {
	return &EmailGateway{chain: chain, logger: logger}
}

func (g *EmailGateway) Send(ctx context.Context, user *db.User, msg Message) Result {
	if user.Email == "" {
		return incapable("no email address on file")
	}
	if g.chain.Len() == 0 {
		return notConfigured("no email provider configured")
	}

	req, err := renderEmail(user, msg)
	if err != nil {
		return transient(err)
	}
	req.To = user.Email

	provider, err := g.chain.Send(ctx, req)
	if err != nil {
		return transient(err)
	}
	return delivered(provider)
}

// CarrierTextGateway delivers short texts through a carrier's email-to-SMS
// gateway, addressing <digits>@<gateway domain>.
type CarrierTextGateway struct {
	chain  *ProviderChain
	logger *zap.Logger
}

func NewCarrierTextGateway(chain *ProviderChain, logger *zap.Logger) *CarrierTextGateway {
	return &CarrierTextGateway{chain: chain, logger: logger}
}

func (g *CarrierTextGateway) Send(ctx context.Context, user *db.User, msg Message) Result {
	digits := phoneDigits(user.Phone)
	if digits == "" || user.PhoneGateway == "" {
		return incapable("no phone number or carrier on file")
	}
	if g.chain.Len() == 0 {
		return notConfigured("no email provider configured")
	}

	req := &EmailRequest{
		To:      digits + "@" + user.PhoneGateway,
		Subject: msg.Subject,
		Text:    renderText(msg),
	}
	provider, err := g.chain.Send(ctx, req)
	if err != nil {
		return transient(err)
	}
	return delivered(provider)
}

func phoneDigits(phone string) string {
	out := make([]byte, 0, len(phone))
	for i := 0; i < len(phone); i++ {
		if phone[i] >= '0' && phone[i] <= '9' {
			out = append(out, phone[i])
		}
	}
	return string(out)
}
