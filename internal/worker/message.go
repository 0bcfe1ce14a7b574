package worker

import (
	"context"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// MessageGateway backs the in-app message channel, which has no provider yet.
// Every call reports NotConfigured so rows age out after the retry bound.
type MessageGateway struct{}

func (MessageGateway) Send(context.Context, *db.User, Message) Result {
	return notConfigured("message channel not configured")
}
