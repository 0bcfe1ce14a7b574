package worker

import (
	"context"

	"github.com/google/uuid"

	"github.com/lalithlochan/teamalerts/internal/db"
)

// Outcome is the typed result of one gateway call.
type Outcome int

const (
	// Delivered means the provider accepted the message.
	Delivered Outcome = iota
	// RecipientIncapable means the user has no usable address on this channel.
	RecipientIncapable
	// TransientFailure covers provider, network and timeout errors.
	TransientFailure
	// NotConfigured means the channel has no backing provider.
	NotConfigured
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case RecipientIncapable:
		return "recipient_incapable"
	case TransientFailure:
		return "transient_failure"
	case NotConfigured:
		return "not_configured"
	default:
		return "unknown"
	}
}

// Result is what a gateway reports back to the dispatcher.
type Result struct {
	Outcome Outcome
	Detail  string
	Err     error
}

func delivered(detail string) Result {
	return Result{Outcome: Delivered, Detail: detail}
}

func incapable(detail string) Result {
	return Result{Outcome: RecipientIncapable, Detail: detail}
}

func transient(err error) Result {
	return Result{Outcome: TransientFailure, Detail: err.Error(), Err: err}
}

func notConfigured(detail string) Result {
	return Result{Outcome: NotConfigured, Detail: detail}
}

// Message is the rendered content of one channel send.
type Message struct {
	AlertID       uuid.UUID
	ChannelSendID uuid.UUID
	Subject       string
	Body          string
	URL           string
}

func messageFor(d *db.Delivery) Message {
	msg := Message{
		AlertID:       d.Alert.ID,
		ChannelSendID: d.Send.ID,
		Subject:       d.Alert.Subject,
		Body:          d.Alert.Body,
	}
	if d.Alert.URL != nil {
		msg.URL = *d.Alert.URL
	}
	return msg
}

// Gateway delivers a message to one user over one channel.
type Gateway interface {
	Send(ctx context.Context, user *db.User, msg Message) Result
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, user *db.User, msg Message) Result

func (f GatewayFunc) Send(ctx context.Context, user *db.User, msg Message) Result {
	return f(ctx, user, msg)
}
