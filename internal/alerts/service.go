// Package alerts creates, lists and dismisses alerts and their channel sends.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/db"
)

var (
	// ErrNoRecipients is returned when a role fan-out resolves to nobody.
	ErrNoRecipients = errors.New("no recipients")

	// ErrAlreadyDismissed is returned by DismissAlert on a second dismissal.
	ErrAlreadyDismissed = db.ErrAlreadyDismissed
)

// Store is the persistence surface the service needs.
type Store interface {
	InTx(ctx context.Context, fn func(w db.Writer) error) error
	UsersWithPermission(ctx context.Context, codename string) ([]db.User, error)
	UserAlerts(ctx context.Context, userID int64, channel string) ([]db.UserAlert, error)
	DismissChannelSend(ctx context.Context, userID int64, id uuid.UUID, at time.Time) error
}

// Message is the content shared by every alert of one fan-out.
type Message struct {
	AlertTypeKey *string
	Subject      string
	Body         string
	URL          *string
}

// Service exposes the alert operations used by the stager and the API.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an alert service
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// CreateAlert writes one alert for userID. Subject and body are truncated
// to their maximum lengths.
func CreateAlert(ctx context.Context, w db.Writer, userID int64, msg Message) (*db.Alert, error) {
	alert := &db.Alert{
		UserID:       userID,
		AlertTypeKey: msg.AlertTypeKey,
		Subject:      msg.Subject,
		Body:         msg.Body,
		URL:          msg.URL,
	}
	if err := w.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	return alert, nil
}

// CreateChannelSendForCommType writes one pending channel send for an alert.
func CreateChannelSendForCommType(ctx context.Context, w db.Writer, alertID uuid.UUID, channel string) (*db.ChannelSend, error) {
	cs := &db.ChannelSend{
		AlertID: alertID,
		Channel: channel,
	}
	if err := w.CreateChannelSend(ctx, cs); err != nil {
		return nil, err
	}
	return cs, nil
}

// FanOut writes one alert per user, skipping excludeUserID, and one channel
// send per channel per alert. It returns the number of alerts written. Callers
// run it inside a transaction so the whole broadcast commits or none of it does.
func FanOut(ctx context.Context, w db.Writer, users []db.User, msg Message, channels []string, excludeUserID *int64) (int, error) {
	count := 0
	for _, u := range users {
		if excludeUserID != nil && u.ID == *excludeUserID {
			continue
		}

		alert, err := CreateAlert(ctx, w, u.ID, msg)
		if err != nil {
			return 0, fmt.Errorf("create alert for user %d: %w", u.ID, err)
		}

		for _, ch := range channels {
			if _, err := CreateChannelSendForCommType(ctx, w, alert.ID, ch); err != nil {
				return 0, fmt.Errorf("create %s send for user %d: %w", ch, u.ID, err)
			}
		}
		count++
	}
	return count, nil
}

// SendAlertsToRole resolves the current holders of role and fans msg out to
// them on every channel in one transaction.
func (s *Service) SendAlertsToRole(ctx context.Context, role string, msg Message, channels []string, excludeUserID *int64) (int, error) {
	users, err := s.store.UsersWithPermission(ctx, role)
	if err != nil {
		return 0, fmt.Errorf("resolve role %s: %w", role, err)
	}

	var count int
	err = s.store.InTx(ctx, func(w db.Writer) error {
		n, err := FanOut(ctx, w, users, msg, channels, excludeUserID)
		count = n
		return err
	})
	if err != nil {
		s.logger.Error("role fan-out rolled back",
			zap.Error(err),
			zap.String("role", role),
			zap.Strings("channels", channels),
		)
		return 0, err
	}

	if count == 0 {
		return 0, fmt.Errorf("role %s: %w", role, ErrNoRecipients)
	}

	s.logger.Info("alerts staged for role",
		zap.String("role", role),
		zap.Int("alerts", count),
		zap.Int("channel_sends", count*len(channels)),
	)
	return count, nil
}

// GetUserAlerts lists the caller's undismissed alerts on one channel.
func (s *Service) GetUserAlerts(ctx context.Context, userID int64, channel string) ([]db.UserAlert, error) {
	return s.store.UserAlerts(ctx, userID, channel)
}

// DismissAlert dismisses one channel send owned by userID. A second call on
// the same row returns ErrAlreadyDismissed.
func (s *Service) DismissAlert(ctx context.Context, userID int64, channelSendID uuid.UUID) error {
	if err := s.store.DismissChannelSend(ctx, userID, channelSendID, s.now()); err != nil {
		s.logger.Warn("dismiss failed",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.String("channel_send_id", channelSendID.String()),
		)
		return err
	}
	return nil
}
