package handlers

import (
	"context"

	"distribution-order-services/internal/config"
	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/store"

	"go.uber.org/zap"
)

// WebhookLogger records every webhook delivery in webhook_logs.
type WebhookLogger interface {
	LogWebhook(ctx context.Context, entry store.WebhookLog) error
}

type Handler struct {
	Logger   *zap.Logger
	Config   config.Config
	Webhooks WebhookLogger
	Payments *fulfillment.Reconciler
	Shipping *fulfillment.ShippingService
	Ingest   *fulfillment.Ingestor
}
