package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"distribution-order-services/internal/queue"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"
	"distribution-order-services/internal/woocommerce"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	IngestPing      = "ping"
	IngestIgnored   = "ignored"
	IngestDuplicate = "duplicate"
	IngestImported  = "imported"
)

type IngestConfig struct {
	// DefaultSecret verifies stores that have no secret of their own.
	DefaultSecret string
	OrderPrefix   string
}

type Ingestor struct {
	repo     store.Repository
	shipping *ShippingService
	jobs     ShipmentQueue
	events   EventPublisher
	logger   *zap.Logger
	cfg      IngestConfig
	now      func() time.Time
}

// NewIngestor builds the marketplace intake. jobs may be nil, in which case
// auto-ship stores are booked inline.
func NewIngestor(repo store.Repository, shipping *ShippingService, jobs ShipmentQueue, events EventPublisher, logger *zap.Logger, cfg IngestConfig) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OrderPrefix == "" {
		cfg.OrderPrefix = "WC"
	}
	return &Ingestor{
		repo:     repo,
		shipping: shipping,
		jobs:     jobs,
		events:   events,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

type WooDelivery struct {
	StoreID   uuid.UUID
	Topic     string
	Signature string
	Body      []byte
}

type IngestOutcome struct {
	Status      string                  `json:"status"`
	Reason      string                  `json:"reason,omitempty"`
	Purchase    *store.CustomerPurchase `json:"-"`
	OrderNumber string                  `json:"order_number,omitempty"`
	Shipment    *Shipment               `json:"shipment,omitempty"`
	Queued      bool                    `json:"queued,omitempty"`
	// ShipmentError is set when import worked but booking did not.
	ShipmentError string `json:"shipment_error,omitempty"`
}

// HandleWooCommerce verifies and imports one WooCommerce order delivery.
// Redeliveries of an imported order return the existing purchase.
func (in *Ingestor) HandleWooCommerce(ctx context.Context, d WooDelivery) (IngestOutcome, error) {
	wooStore, err := in.repo.GetWooStore(ctx, d.StoreID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return IngestOutcome{}, notFound("store not found")
		}
		return IngestOutcome{}, err
	}
	if !wooStore.IsActive {
		return IngestOutcome{}, forbidden("store is disabled")
	}

	if woocommerce.IsPing(d.Body, d.Topic) {
		return IngestOutcome{Status: IngestPing}, nil
	}

	secret := strings.TrimSpace(wooStore.WebhookSecret)
	if secret == "" {
		secret = in.cfg.DefaultSecret
	}
	if !woocommerce.VerifySignature(d.Body, d.Signature, secret) {
		in.logger.Warn("woocommerce signature mismatch",
			zap.String("store_id", d.StoreID.String()),
			zap.String("topic", d.Topic),
		)
		return IngestOutcome{}, unauthorized("invalid webhook signature")
	}

	order, err := woocommerce.ParseOrder(d.Body)
	if err != nil {
		return IngestOutcome{}, invalid(err.Error())
	}
	if !woocommerce.Importable(order.Status) {
		return IngestOutcome{Status: IngestIgnored, Reason: "status " + order.Status}, nil
	}

	existing, err := in.repo.FindPurchaseByExternalID(ctx, store.PlatformWooCommerce, order.ExternalID(), wooStore.SellerID)
	switch {
	case err == nil:
		return in.redelivered(ctx, wooStore, order, existing)
	case !errors.Is(err, store.ErrNotFound):
		return IngestOutcome{}, err
	}

	purchase, err := woocommerce.MapOrder(order, wooStore.SellerID)
	if err != nil {
		if errors.Is(err, woocommerce.ErrNoSKU) {
			return IngestOutcome{Status: IngestIgnored, Reason: err.Error()}, nil
		}
		return IngestOutcome{}, invalid(err.Error())
	}
	if bundle, err := in.repo.FindBundleBySKU(ctx, purchase.SKU); err == nil {
		purchase.BundleID = &bundle.ID
	} else if !errors.Is(err, store.ErrNotFound) {
		return IngestOutcome{}, err
	}

	duplicate, err := in.insertPurchase(ctx, &purchase)
	if err != nil {
		return IngestOutcome{}, err
	}
	if duplicate {
		return IngestOutcome{Status: IngestDuplicate, Purchase: &purchase, OrderNumber: purchase.OrderNumber}, nil
	}

	in.logger.Info("woocommerce order imported",
		zap.String("store_id", wooStore.ID.String()),
		zap.String("external_order_id", purchase.ExternalOrderID),
		zap.String("order_number", purchase.OrderNumber),
		zap.String("sku", purchase.SKU),
	)
	publish(ctx, in.events, in.logger, queue.EventPurchaseImported, map[string]any{
		"purchase_id":       purchase.ID,
		"seller_id":         purchase.SellerID,
		"order_number":      purchase.OrderNumber,
		"platform":          purchase.Platform,
		"external_order_id": purchase.ExternalOrderID,
	})

	out := IngestOutcome{Status: IngestImported, Purchase: &purchase, OrderNumber: purchase.OrderNumber}
	if wooStore.AutoShip && readyToShip(purchase) {
		in.autoShip(ctx, purchase, &out)
	}
	return out, nil
}

// readyToShip holds back online orders until WooCommerce reports payment.
func readyToShip(p store.CustomerPurchase) bool {
	return p.IsCOD() || p.PaymentStatus == store.PaymentStatusPaid
}

// redelivered handles a delivery for an order already imported. An online
// order that moved from on-hold to a paid status is marked paid here, and the
// auto-ship that was held back at import runs once.
func (in *Ingestor) redelivered(ctx context.Context, wooStore store.WooStore, order woocommerce.Order, existing store.CustomerPurchase) (IngestOutcome, error) {
	if existing.IsCOD() || existing.PaymentStatus == store.PaymentStatusPaid || !woocommerce.Paid(order.Status) {
		return IngestOutcome{Status: IngestDuplicate, Purchase: &existing, OrderNumber: existing.OrderNumber}, nil
	}

	marked := false
	err := in.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockPurchase(ctx, existing.ID)
		if err != nil {
			return err
		}
		if locked.PaymentStatus != store.PaymentStatusPaid {
			if err := tx.SetPurchasePaymentStatus(ctx, locked.ID, store.PaymentStatusPaid); err != nil {
				return err
			}
			locked.PaymentStatus = store.PaymentStatusPaid
			marked = true
		}
		existing = locked
		return nil
	})
	if err != nil {
		return IngestOutcome{}, err
	}

	out := IngestOutcome{Status: IngestDuplicate, Purchase: &existing, OrderNumber: existing.OrderNumber}
	if !marked {
		return out, nil
	}
	in.logger.Info("woocommerce order marked paid",
		zap.String("store_id", wooStore.ID.String()),
		zap.String("order_number", existing.OrderNumber),
		zap.String("status", order.Status),
	)
	if wooStore.AutoShip && existing.TrackingNumber == "" && existing.DeliveryStatus == store.DeliveryPending {
		in.autoShip(ctx, existing, &out)
	}
	return out, nil
}

// insertPurchase allocates an order number and inserts. The second result is
// true when a concurrent delivery already imported the same order.
func (in *Ingestor) insertPurchase(ctx context.Context, purchase *store.CustomerPurchase) (bool, error) {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		purchase.OrderNumber = utils.NewOrderNumber(in.cfg.OrderPrefix, in.now())
		err = in.repo.InsertPurchase(ctx, purchase)
		if err == nil {
			return false, nil
		}
		if !store.IsUniqueViolation(err) {
			return false, err
		}
		existing, findErr := in.repo.FindPurchaseByExternalID(ctx, purchase.Platform, purchase.ExternalOrderID, purchase.SellerID)
		if findErr == nil {
			*purchase = existing
			return true, nil
		}
	}
	return false, fmt.Errorf("allocate order number: %w", err)
}

func (in *Ingestor) autoShip(ctx context.Context, purchase store.CustomerPurchase, out *IngestOutcome) {
	if in.jobs != nil {
		err := in.jobs.EnqueueShipment(ctx, purchase.ID, purchase.SellerID, store.PlatformWooCommerce)
		if err == nil {
			out.Queued = true
			return
		}
		in.logger.Warn("enqueue shipment failed, booking inline",
			zap.String("order_number", purchase.OrderNumber),
			zap.Error(err),
		)
	}
	if in.shipping == nil {
		return
	}

	shipment, err := in.shipping.CreateShipment(ctx, SystemActor(), purchase.ID)
	if err != nil {
		in.logger.Error("auto ship failed",
			zap.String("order_number", purchase.OrderNumber),
			zap.Error(err),
		)
		out.ShipmentError = AsError(err).Message
		return
	}
	out.Shipment = &shipment
}

// IsRejection reports whether err means the delivery itself was bad, as
// opposed to the service failing to handle it.
func IsRejection(err error) bool {
	fe := AsError(err)
	return fe.Status == http.StatusUnauthorized || fe.Status == http.StatusBadRequest
}
