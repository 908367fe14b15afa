package events

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBridge mirrors bus events to NATS subjects of the form
// <prefix>.<event type>, e.g. agentchain.task.completed.
type NATSBridge struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSBridge creates a bridge publishing on the given connection.
func NewNATSBridge(nc *nats.Conn, prefix string, logger *zap.Logger) *NATSBridge {
	if prefix == "" {
		prefix = "agentchain"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSBridge{nc: nc, prefix: prefix, logger: logger.Named("nats-bridge")}
}

// Subject returns the NATS subject an event is published on.
func (b *NATSBridge) Subject(e Event) string {
	return fmt.Sprintf("%s.%s", b.prefix, e.EventType())
}

// Forward publishes a single event.
func (b *NATSBridge) Forward(e Event) error {
	data, err := Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(b.Subject(e), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.EventType(), err)
	}
	return nil
}

// Run forwards every event read from sub until ctx is cancelled or sub is
// closed. Publish failures are logged and do not stop the bridge.
func (b *NATSBridge) Run(ctx context.Context, sub <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			if err := b.Forward(e); err != nil {
				b.logger.Warn("forward failed", zap.String("type", e.EventType()), zap.Error(err))
			}
		}
	}
}
