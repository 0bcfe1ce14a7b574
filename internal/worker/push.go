package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/sns"
)

// PushPublisher publishes to one push endpoint.
type PushPublisher interface {
	Publish(ctx context.Context, endpointARN string, payload sns.Payload) (string, error)
}

// PushGateway delivers alerts to the user's push subscription.
type PushGateway struct {
	publisher PushPublisher
	logger    *zap.Logger
}

func NewPushGateway(publisher PushPublisher, logger *zap.Logger) *PushGateway {
	return &PushGateway{publisher: publisher, logger: logger}
}

func (g *PushGateway) Send(ctx context.Context, user *db.User, msg Message) Result {
	if user.PushEndpoint == "" {
		return incapable("no push subscription")
	}
	if g.publisher == nil {
		return notConfigured("push publisher not configured")
	}

	id, err := g.publisher.Publish(ctx, user.PushEndpoint, sns.Payload{
		Title: msg.Subject,
		Body:  msg.Body,
		Tag:   msg.AlertID.String(),
		URL:   msg.URL,
	})
	if errors.Is(err, sns.ErrEndpointDisabled) {
		return incapable(err.Error())
	}
	if err != nil {
		return transient(err)
	}
	return delivered(id)
}
