package jobs

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/metrics"
	"github.com/lalithlochan/teamalerts/internal/sqs"
)

// Queue is the trigger queue surface the handler consumes.
type Queue interface {
	Receive(ctx context.Context, max int32) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// TriggerHandler runs jobs requested over a queue. A message is deleted once
// handled; a job that could not reach the store is left for redelivery.
type TriggerHandler struct {
	queue   Queue
	runner  *Runner
	backoff time.Duration
	logger  *zap.Logger
}

func NewTriggerHandler(queue Queue, runner *Runner, logger *zap.Logger) *TriggerHandler {
	return &TriggerHandler{
		queue:   queue,
		runner:  runner,
		backoff: 5 * time.Second,
		logger:  logger,
	}
}

// Start polls until ctx is cancelled.
func (h *TriggerHandler) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("trigger handler stopping")
			return
		default:
		}

		if err := h.Poll(ctx); err != nil && ctx.Err() == nil {
			h.logger.Error("trigger poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(h.backoff):
			}
		}
	}
}

// Poll receives one batch of triggers and handles each in order.
func (h *TriggerHandler) Poll(ctx context.Context) error {
	batch, err := h.queue.Receive(ctx, 10)
	if err != nil {
		return err
	}
	metrics.SetTriggerMessagesInFlight(len(batch))
	defer metrics.SetTriggerMessagesInFlight(0)

	for _, msg := range batch {
		h.handle(ctx, msg)
	}
	return nil
}

func (h *TriggerHandler) handle(ctx context.Context, msg sqs.Received) {
	if msg.Err != nil {
		h.logger.Warn("discarding malformed trigger", zap.Error(msg.Err))
		h.delete(ctx, msg.ReceiptHandle)
		return
	}

	summary, err := h.runner.Execute(ctx, msg.Trigger.Job, "sqs")
	switch {
	case errors.Is(err, ErrUnknownJob):
		h.logger.Warn("discarding trigger for unknown job", zap.String("job", msg.Trigger.Job))
	case err != nil:
		return
	default:
		h.logger.Debug("trigger handled",
			zap.String("job", msg.Trigger.Job),
			zap.String("summary", summary),
		)
	}
	h.delete(ctx, msg.ReceiptHandle)
}

func (h *TriggerHandler) delete(ctx context.Context, handle string) {
	if err := h.queue.Delete(ctx, handle); err != nil {
		h.logger.Error("failed to delete trigger", zap.Error(err))
	}
}
