package ledger

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
)

// EventHandler stores every order.placed event it receives. Redelivered
// events are acknowledged without writing twice.
type EventHandler struct {
	repo   Repository
	logger *logrus.Logger
}

func NewEventHandler(repo Repository, logger *logrus.Logger) *EventHandler {
	return &EventHandler{repo: repo, logger: logger}
}

func (h *EventHandler) HandleOrderPlaced(ctx context.Context, ev events.OrderPlacedEvent) error {
	log := h.logger.WithFields(logrus.Fields{
		"event_id":    ev.EventID,
		"order_id":    ev.OrderID,
		"total_price": ev.TotalPrice,
	})

	inserted, err := h.repo.Record(ctx, ev)
	if err != nil {
		log.WithError(err).Error("Failed to record order")
		return err
	}
	if !inserted {
		log.Debug("Order already recorded")
		return nil
	}

	log.Info("Order recorded")
	return nil
}

var _ events.OrderEventHandler = (*EventHandler)(nil)
