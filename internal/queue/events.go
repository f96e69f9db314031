package queue

import (
	"context"
	"time"
)

const (
	EventsExchange = "distrib.events"

	EventOrderCompleted   = "order.completed"
	EventOrderFailed      = "order.failed"
	EventShipmentCreated  = "shipment.created"
	EventShipmentCanceled = "shipment.cancelled"
	EventShipmentStatus   = "shipment.status"
	EventPurchaseImported = "purchase.imported"
)

// Event is the envelope every message on the events exchange carries.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func NewEvent(eventType string, data any) Event {
	return Event{Type: eventType, OccurredAt: time.Now().UTC(), Data: data}
}

func EnsureEventsTopology(_ context.Context, qc *Client) error {
	if qc == nil {
		return nil
	}
	return qc.EnsureExchange(EventsExchange)
}

// PublishEvent routes the event by its type.
func (c *Client) PublishEvent(ctx context.Context, eventType string, data any) error {
	return c.PublishJSON(ctx, EventsExchange, eventType, NewEvent(eventType, data))
}
