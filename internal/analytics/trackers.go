package analytics

import (
	"context"
	"errors"

	"github.com/azmarifdev/pickone-deploy-sub000/internal/events"
	"github.com/azmarifdev/pickone-deploy-sub000/internal/websocket"
)

var errNoOrder = errors.New("purchase has no order")

// Broadcaster delivers a message to browsers listening on a channel.
type Broadcaster interface {
	Publish(channel, messageType string, data interface{})
}

type DataLayerItem struct {
	ItemID   string  `json:"item_id"`
	Price    float64 `json:"price"`
	Discount float64 `json:"discount,omitempty"`
	Quantity int     `json:"quantity"`
}

type DataLayerEcommerce struct {
	TransactionID string          `json:"transaction_id"`
	Value         int             `json:"value"`
	Shipping      int             `json:"shipping"`
	Currency      string          `json:"currency"`
	Items         []DataLayerItem `json:"items"`
}

// DataLayerPush mirrors a tag-manager "purchase" push.
type DataLayerPush struct {
	Event     string             `json:"event"`
	Ecommerce DataLayerEcommerce `json:"ecommerce"`
}

type DataLayerTracker struct {
	hub Broadcaster
}

func NewDataLayerTracker(hub Broadcaster) *DataLayerTracker {
	return &DataLayerTracker{hub: hub}
}

func (t *DataLayerTracker) Name() string { return "datalayer" }

func (t *DataLayerTracker) Track(_ context.Context, p Purchase) error {
	if p.Order == nil {
		return errNoOrder
	}
	items := make([]DataLayerItem, 0, len(p.Order.Items))
	for _, it := range p.Order.Items {
		items = append(items, DataLayerItem{
			ItemID:   it.ProductID,
			Price:    it.SellingPrice,
			Discount: it.Discount,
			Quantity: it.Quantity,
		})
	}

	t.hub.Publish(p.Channel, websocket.TypeDataLayerPurchase, DataLayerPush{
		Event: "purchase",
		Ecommerce: DataLayerEcommerce{
			TransactionID: p.OrderID(),
			Value:         p.Order.TotalPrice,
			Shipping:      p.Order.DeliveryCharge,
			Currency:      p.Currency,
			Items:         items,
		},
	})
	return nil
}

// PixelEvent mirrors an ad-pixel "Purchase" call. EventID lets the pixel
// de-duplicate against the server-side conversion.
type PixelEvent struct {
	Event       string   `json:"event"`
	EventID     string   `json:"event_id"`
	Value       int      `json:"value"`
	Currency    string   `json:"currency"`
	ContentIDs  []string `json:"content_ids"`
	ContentType string   `json:"content_type"`
	NumItems    int      `json:"num_items"`
}

type PixelTracker struct {
	hub Broadcaster
}

func NewPixelTracker(hub Broadcaster) *PixelTracker {
	return &PixelTracker{hub: hub}
}

func (t *PixelTracker) Name() string { return "pixel" }

func (t *PixelTracker) Track(_ context.Context, p Purchase) error {
	if p.Order == nil {
		return errNoOrder
	}
	ev := PixelEvent{
		Event:       "Purchase",
		EventID:     p.OrderID(),
		Value:       p.Order.TotalPrice,
		Currency:    p.Currency,
		ContentIDs:  make([]string, 0, len(p.Order.Items)),
		ContentType: "product",
	}
	for _, it := range p.Order.Items {
		ev.ContentIDs = append(ev.ContentIDs, it.ProductID)
		ev.NumItems += it.Quantity
	}

	t.hub.Publish(p.Channel, websocket.TypePixelPurchase, ev)
	return nil
}

// ConversionTracker emits the server-side order.placed event that feeds the
// order ledger. It is Durable: give it a publisher that retries.
type ConversionTracker struct {
	publisher events.Publisher
}

func NewConversionTracker(publisher events.Publisher) *ConversionTracker {
	return &ConversionTracker{publisher: publisher}
}

func (t *ConversionTracker) Name() string { return "conversion" }

func (t *ConversionTracker) Durable() bool { return true }

func (t *ConversionTracker) Track(ctx context.Context, p Purchase) error {
	if p.Record == nil {
		return errNoOrder
	}
	return t.publisher.PublishOrderPlaced(ctx, events.NewOrderPlacedEvent(p.Record, p.Order, p.Source, p.Currency))
}
