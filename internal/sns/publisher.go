// Package sns publishes push notifications to per-user SNS platform endpoints.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// MaxPayloadBytes caps the encoded push payload.
const MaxPayloadBytes = 4096

// ErrEndpointDisabled is returned when the user's push endpoint no longer accepts messages.
var ErrEndpointDisabled = errors.New("push endpoint disabled")

// API is the subset of the SNS client the publisher uses.
type API interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Payload is the push body shown by the client.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
	URL   string `json:"url,omitempty"`
}

// Encode marshals the payload, shortening the body and then the title until
// it fits in MaxPayloadBytes. Lengths are measured after JSON escaping.
func (p Payload) Encode() ([]byte, error) {
	for {
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal push payload: %w", err)
		}
		excess := len(data) - MaxPayloadBytes
		if excess <= 0 {
			return data, nil
		}

		switch {
		case p.Body != "":
			p.Body = shrink(p.Body, excess)
		case p.Title != "":
			p.Title = shrink(p.Title, excess)
		case p.URL != "":
			p.URL = ""
		default:
			return nil, fmt.Errorf("push payload exceeds %d bytes", MaxPayloadBytes)
		}
	}
}

// shrink returns the longest rune prefix of s whose encoded form is at least
// excess bytes shorter than the encoded form of s.
func shrink(s string, excess int) string {
	budget := encodedLen(s) - excess
	runes := []rune(s)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if encodedLen(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}

// encodedLen is the length of s as a JSON string literal.
func encodedLen(s string) int {
	b, _ := json.Marshal(s)
	return len(b)
}

// Publisher sends push messages to platform endpoint ARNs.
type Publisher struct {
	client API
	logger *zap.Logger
}

// NewPublisher creates a publisher from the default AWS config. endpoint
// overrides the service URL (LocalStack) when set.
func NewPublisher(ctx context.Context, region, endpoint string, logger *zap.Logger) (*Publisher, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewPublisherWithClient(client, logger), nil
}

func NewPublisherWithClient(client API, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

// Publish sends payload to one endpoint and returns the SNS message id.
func (p *Publisher) Publish(ctx context.Context, endpointARN string, payload Payload) (string, error) {
	data, err := payload.Encode()
	if err != nil {
		return "", err
	}

	envelope, err := json.Marshal(map[string]string{
		"default": payload.Title,
		"GCM":     fmt.Sprintf(`{"data":%s}`, data),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal push envelope: %w", err)
	}

	result, err := p.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(endpointARN),
		Message:          aws.String(string(envelope)),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		var disabled *types.EndpointDisabledException
		if errors.As(err, &disabled) {
			return "", fmt.Errorf("%s: %w", endpointARN, ErrEndpointDisabled)
		}
		return "", fmt.Errorf("failed to publish to SNS: %w", err)
	}

	messageID := aws.ToString(result.MessageId)
	p.logger.Debug("push published",
		zap.String("endpoint", endpointARN),
		zap.String("message_id", messageID),
	)
	return messageID, nil
}
