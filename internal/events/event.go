// Package events carries the order.placed conversion event from the
// storefront to the order ledger over Kafka or RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/azmarifdev/pickone-deploy-sub000/pkg/models"
)

const (
	OrderPlacedTopic    = "order.placed"
	OrderPlacedDLQTopic = "order.placed.dlq"
	OrderPlacedType     = "OrderPlaced"
)

// ErrMalformedEvent marks a payload that can never be processed.
var ErrMalformedEvent = errors.New("malformed order event")

// OrderPlacedEvent is published once per order the remote API accepted.
type OrderPlacedEvent struct {
	EventID        string             `json:"event_id"`
	EventType      string             `json:"event_type"`
	OrderID        string             `json:"order_id"`
	Status         string             `json:"status"`
	Source         string             `json:"source"`
	Currency       string             `json:"currency"`
	Subtotal       int                `json:"subtotal"`
	DeliveryCharge int                `json:"delivery_charge"`
	TotalPrice     int                `json:"total_price"`
	Address        models.Address     `json:"address"`
	Items          []models.OrderItem `json:"order_items"`
	CreatedAt      time.Time          `json:"created_at"`
	EventTime      time.Time          `json:"event_time"`
}

// NewOrderPlacedEvent builds the event from the server's record, falling back
// to the submitted order for anything the record leaves out.
func NewOrderPlacedEvent(rec *models.OrderRecord, sent *models.Order, source, currency string) OrderPlacedEvent {
	ev := OrderPlacedEvent{
		EventID:        uuid.NewString(),
		EventType:      OrderPlacedType,
		OrderID:        rec.ID,
		Status:         rec.Status,
		Source:         source,
		Currency:       currency,
		Subtotal:       rec.Subtotal,
		DeliveryCharge: rec.DeliveryCharge,
		TotalPrice:     rec.TotalPrice,
		Address:        rec.Address,
		Items:          rec.Items,
		CreatedAt:      rec.CreatedAt,
	}
	if ev.Status == "" {
		ev.Status = models.OrderStatusPending
	}
	if sent != nil {
		if len(ev.Items) == 0 {
			ev.Items = sent.Items
		}
		if ev.TotalPrice == 0 {
			ev.Subtotal = sent.Subtotal
			ev.DeliveryCharge = sent.DeliveryCharge
			ev.TotalPrice = sent.TotalPrice
		}
		if ev.Address == (models.Address{}) {
			ev.Address = sent.Address
		}
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	return ev
}

// DecodeOrderPlaced parses and sanity-checks a payload.
func DecodeOrderPlaced(data []byte) (OrderPlacedEvent, error) {
	var ev OrderPlacedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.OrderID == "" {
		return ev, fmt.Errorf("%w: missing order_id", ErrMalformedEvent)
	}
	return ev, nil
}

// Publisher sends order events to a broker.
type Publisher interface {
	PublishOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
	Close() error
}

// OrderEventHandler consumes order events.
type OrderEventHandler interface {
	HandleOrderPlaced(ctx context.Context, event OrderPlacedEvent) error
}
