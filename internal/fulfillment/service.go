// Package fulfillment holds the order fulfillment workflows: payment
// reconciliation, courier booking and marketplace order intake.
package fulfillment

import (
	"context"

	"distribution-order-services/internal/auth"
	"distribution-order-services/internal/ninjavan"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Actor is who asked for an operation. System actors (queue workers,
// webhooks, service-role calls) bypass ownership checks.
type Actor struct {
	UserID uuid.UUID
	Role   auth.UserRole
	System bool
}

func SystemActor() Actor {
	return Actor{System: true}
}

// CanManage reports whether the actor may act on stock or parcels owned by sellerID.
func (a Actor) CanManage(sellerID uuid.UUID) bool {
	return a.System || a.Role.IsHQ() || (a.UserID != uuid.Nil && a.UserID == sellerID)
}

type Courier interface {
	CreateOrder(ctx context.Context, order ninjavan.OrderRequest) (ninjavan.OrderResponse, error)
	CancelOrder(ctx context.Context, trackingNumber string) (ninjavan.CancelResult, error)
	Waybill(ctx context.Context, trackingNumber string) ([]byte, error)
}

type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, data any) error
}

type ShipmentQueue interface {
	EnqueueShipment(ctx context.Context, purchaseID, sellerID uuid.UUID, source string) error
}

type ObjectStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string, cacheControl string) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, bool, error)
	DeleteKey(ctx context.Context, key string) error
}

func publish(ctx context.Context, events EventPublisher, logger *zap.Logger, eventType string, data any) {
	if events == nil {
		return
	}
	if err := events.PublishEvent(ctx, eventType, data); err != nil {
		logger.Warn("event publish failed", zap.String("event", eventType), zap.Error(err))
	}
}
