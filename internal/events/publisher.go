// Package events publishes order domain events. The log publisher writes
// structured records for downstream log-based consumers; a broker-backed
// publisher would implement the same port.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/checkout-service/internal/domain/order"
)

var _ order.EventPublisher = (*LogPublisher)(nil)

// LogPublisher emits events as structured log records.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher creates a publisher writing through the given logger.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg.Named("events")}
}

func (p *LogPublisher) PublishOrderPlaced(_ context.Context, ev order.OrderPlaced) error {
	p.lg.Info("order_placed", zap.String("order_id", string(ev.OrderID)))
	return nil
}
