// Package worker delivers pending channel sends through per-channel gateways
// and records each row's outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/metrics"
)

// NoneToSend is the summary returned when nothing is pending.
const NoneToSend = "NONE TO SEND"

// Store is the persistence surface the dispatcher needs.
type Store interface {
	PendingDeliveries(ctx context.Context, limit int) ([]*db.Delivery, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFailedTry(ctx context.Context, id uuid.UUID) (int, error)
	GetUser(ctx context.Context, id int64) (*db.User, error)
}

type Config struct {
	BatchSize   int
	Concurrency int
	SendTimeout time.Duration
}

// Dispatcher delivers pending channel sends.
type Dispatcher struct {
	store    Store
	gateways map[string]Gateway
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher creates a dispatcher. gateways is keyed by channel code.
func NewDispatcher(store Store, gateways map[string]Gateway, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}

	return &Dispatcher{
		store:    store,
		gateways: gateways,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Send attempts every pending channel send once and returns one summary line
// per row in query order. Row failures are recorded as failed tries and never
// abort the batch; only a failure to read the pending set is returned.
func (d *Dispatcher) Send(ctx context.Context) (string, error) {
	pending, err := d.store.PendingDeliveries(ctx, d.config.BatchSize)
	if err != nil {
		return "", fmt.Errorf("load pending channel sends: %w", err)
	}
	metrics.SetPendingChannelSends(len(pending))

	if len(pending) == 0 {
		return NoneToSend, nil
	}

	lines := make([]string, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)

	for i, delivery := range pending {
		i, delivery := i, delivery
		g.Go(func() error {
			lines[i] = d.deliver(gctx, delivery)
			return nil
		})
	}
	_ = g.Wait()

	d.logger.Info("dispatch pass complete",
		zap.Int("rows", len(pending)),
	)
	return strings.Join(lines, "\n"), nil
}

// deliver runs one row through its gateway and persists the outcome.
func (d *Dispatcher) deliver(ctx context.Context, delivery *db.Delivery) string {
	start := time.Now()
	cs := delivery.Send
	log := d.logger.With(
		zap.String("alert_id", delivery.Alert.ID.String()),
		zap.String("channel_send_id", cs.ID.String()),
		zap.Int64("user_id", delivery.Alert.UserID),
		zap.String("channel", cs.Channel),
	)

	res := d.attempt(ctx, delivery)
	metrics.RecordDispatch(cs.Channel, res.Outcome.String(), time.Since(start))

	if res.Outcome == Delivered {
		if err := d.store.MarkSent(ctx, cs.ID, d.now()); err != nil {
			log.Error("delivered but failed to mark sent", zap.Error(err))
		} else {
			log.Info("channel send delivered", zap.String("detail", res.Detail))
		}
		return summaryLine(delivery, res)
	}

	tries, err := d.store.RecordFailedTry(ctx, cs.ID)
	if err != nil {
		log.Error("failed to record failed try", zap.Error(err))
	}
	log.Warn("channel send failed",
		zap.Error(res.Err),
		zap.String("outcome", res.Outcome.String()),
		zap.String("detail", res.Detail),
		zap.Int("tries", tries),
	)
	return summaryLine(delivery, res)
}

// attempt calls the gateway under a deadline, converting panics and missing
// gateways into transient failures.
func (d *Dispatcher) attempt(ctx context.Context, delivery *db.Delivery) (res Result) {
	gw, ok := d.gateways[delivery.Send.Channel]
	if !ok {
		return transient(fmt.Errorf("no gateway for channel %q", delivery.Send.Channel))
	}

	user, err := d.store.GetUser(ctx, delivery.Alert.UserID)
	if err != nil {
		return transient(fmt.Errorf("load recipient %d: %w", delivery.Alert.UserID, err))
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res = transient(fmt.Errorf("gateway panic: %v", r))
		}
	}()

	res = gw.Send(ctx, user, messageFor(delivery))
	if res.Outcome != Delivered && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return transient(fmt.Errorf("send timed out after %s: %w", d.config.SendTimeout, ctx.Err()))
	}
	return res
}

var channelLabels = map[string]string{
	db.ChannelEmail:        "Email",
	db.ChannelTxt:          "Phone",
	db.ChannelNotification: "Webpush",
	db.ChannelDiscord:      "Discord",
	db.ChannelMessage:      "Message",
}

func channelLabel(channel string) string {
	if l, ok := channelLabels[channel]; ok {
		return l
	}
	return channel
}

func summaryLine(delivery *db.Delivery, res Result) string {
	status := "FAILED"
	switch res.Outcome {
	case Delivered:
		status = "SUCCESS"
	case NotConfigured:
		status = "NOT CONFIGURED"
	}

	line := fmt.Sprintf("%s %s alert=%s send=%s user=%d",
		channelLabel(delivery.Send.Channel), status,
		delivery.Alert.ID, delivery.Send.ID, delivery.Alert.UserID)
	if res.Outcome != Delivered && res.Detail != "" {
		line += ": " + res.Detail
	}
	return line
}
