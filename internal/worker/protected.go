package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/lalithlochan/teamalerts/internal/circuitbreaker"
	"github.com/lalithlochan/teamalerts/internal/db"
	"github.com/lalithlochan/teamalerts/internal/metrics"
)

// ProtectedGateway wraps a gateway with a circuit breaker. Only transient
// failures count against the breaker.
type ProtectedGateway struct {
	gateway Gateway
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedGateway creates a breaker-wrapped gateway.
func NewProtectedGateway(gateway Gateway, cfg circuitbreaker.Config, logger *zap.Logger) *ProtectedGateway {
	return &ProtectedGateway{
		gateway: gateway,
		breaker: circuitbreaker.New(cfg, logger),
		logger:  logger,
	}
}

func (p *ProtectedGateway) Send(ctx context.Context, user *db.User, msg Message) Result {
	if !p.breaker.Allow() {
		p.logger.Warn("gateway call rejected by open circuit",
			zap.String("gateway", p.breaker.Name()),
			zap.String("channel_send_id", msg.ChannelSendID.String()),
		)
		metrics.RecordBreakerRejection(p.breaker.Name())
		return transient(circuitbreaker.ErrCircuitOpen)
	}

	res := p.gateway.Send(ctx, user, msg)
	switch res.Outcome {
	case Delivered:
		p.breaker.RecordSuccess()
	case TransientFailure:
		p.breaker.RecordFailure()
	default:
		p.breaker.RecordIgnored()
	}
	return res
}

// Breaker exposes the underlying breaker for health reporting.
func (p *ProtectedGateway) Breaker() *circuitbreaker.CircuitBreaker {
	return p.breaker
}

// ProtectAll wraps every gateway except the message stub in its own breaker
// named after its channel code.
func ProtectAll(gateways map[string]Gateway, logger *zap.Logger) (map[string]Gateway, []*ProtectedGateway) {
	out := make(map[string]Gateway, len(gateways))
	var protected []*ProtectedGateway
	for channel, gw := range gateways {
		if _, ok := gw.(MessageGateway); ok {
			out[channel] = gw
			continue
		}
		cfg := circuitbreaker.DefaultConfig(channel)
		cfg.OnStateChange = publishBreakerState
		metrics.SetBreakerState(channel, int(circuitbreaker.StateClosed))

		p := NewProtectedGateway(gw, cfg, logger)
		out[channel] = p
		protected = append(protected, p)
	}
	return out, protected
}

func publishBreakerState(name string, _, to circuitbreaker.State) {
	metrics.SetBreakerState(name, int(to))
}
