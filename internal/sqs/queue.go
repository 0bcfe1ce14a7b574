// Package sqs carries job trigger messages over an SQS queue.
package sqs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// ErrInvalidTrigger is returned for a message body that is not a trigger.
var ErrInvalidTrigger = errors.New("invalid trigger message")

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string
}

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Trigger asks the job runner to run one job.
type Trigger struct {
	Job         string `json:"job"`
	RequestedAt int64  `json:"requested_at,omitempty"`
}

// Received is a trigger together with the handle needed to delete it.
type Received struct {
	Trigger       Trigger
	ReceiptHandle string
	Err           error
}

// NewClient builds an SQS client from the default AWS config.
func NewClient(ctx context.Context, cfg Config) (*sqs.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Producer enqueues job triggers.
type Producer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

func NewProducer(client API, queueURL string, logger *zap.Logger) *Producer {
	return &Producer{client: client, queueURL: queueURL, logger: logger}
}

// Enqueue sends one trigger and returns the SQS message id.
func (p *Producer) Enqueue(ctx context.Context, job string) (string, error) {
	body, err := json.Marshal(Trigger{Job: job, RequestedAt: time.Now().Unix()})
	if err != nil {
		return "", fmt.Errorf("failed to marshal trigger: %w", err)
	}

	result, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		p.logger.Error("failed to send trigger to sqs",
			zap.Error(err),
			zap.String("job", job),
		)
		return "", fmt.Errorf("sqs send failed: %w", err)
	}

	return aws.ToString(result.MessageId), nil
}

// Consumer reads job triggers with long polling.
type Consumer struct {
	client   API
	queueURL string
	logger   *zap.Logger
}

func NewConsumer(client API, queueURL string, logger *zap.Logger) *Consumer {
	logger.Info("sqs consumer initialized",
		zap.String("queue_url", queueURL),
	)
	return &Consumer{client: client, queueURL: queueURL, logger: logger}
}

// Receive waits up to 20 seconds for triggers. A message whose body cannot be
// decoded is returned with Err set so the caller can delete it.
func (c *Consumer) Receive(ctx context.Context, max int32) ([]Received, error) {
	result, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	out := make([]Received, 0, len(result.Messages))
	for _, m := range result.Messages {
		r := Received{ReceiptHandle: aws.ToString(m.ReceiptHandle)}
		if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &r.Trigger); err != nil {
			r.Err = fmt.Errorf("%w: %v", ErrInvalidTrigger, err)
		} else if r.Trigger.Job == "" {
			r.Err = fmt.Errorf("%w: missing job", ErrInvalidTrigger)
		}
		out = append(out, r)
	}
	return out, nil
}

// Delete removes a message after it has been handled.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}
	return nil
}
