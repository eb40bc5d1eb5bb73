package events

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogPublisher stands in for a broker when none is configured.
type LogPublisher struct {
	logger *logrus.Logger
}

func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderPlaced(_ context.Context, event OrderPlacedEvent) error {
	p.logger.WithFields(logrus.Fields{
		"order_id":    event.OrderID,
		"total_price": event.TotalPrice,
		"source":      event.Source,
	}).Info("Order placed (no broker configured)")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
