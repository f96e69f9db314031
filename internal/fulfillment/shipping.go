package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"distribution-order-services/internal/export"
	"distribution-order-services/internal/inventory"
	"distribution-order-services/internal/ninjavan"
	"distribution-order-services/internal/queue"
	"distribution-order-services/internal/storage"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type ShippingConfig struct {
	TrackingPrefix  string
	DefaultWeightKg float64
	PickupRequired  bool
	Timezone        string
	Shipper         ninjavan.Contact
	BulkConcurrency int
}

type ShippingService struct {
	repo    store.Repository
	courier Courier
	objects ObjectStore
	events  EventPublisher
	logger  *zap.Logger
	cfg     ShippingConfig
	now     func() time.Time
}

// NewShippingService wires the courier flows. objects may be nil when no
// waybill archive is configured.
func NewShippingService(repo store.Repository, courier Courier, objects ObjectStore, events EventPublisher, logger *zap.Logger, cfg ShippingConfig) *ShippingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultWeightKg <= 0 {
		cfg.DefaultWeightKg = 1
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = 5
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Kuala_Lumpur"
	}
	return &ShippingService{
		repo:    repo,
		courier: courier,
		objects: objects,
		events:  events,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

type Shipment struct {
	PurchaseID     uuid.UUID `json:"purchase_id"`
	OrderNumber    string    `json:"order_number"`
	TrackingNumber string    `json:"tracking_number"`
	Courier        string    `json:"courier"`
	DeliveryStatus string    `json:"delivery_status"`
	// Existing is true when the purchase already had a tracking number.
	Existing bool `json:"existing"`
}

func shipmentOf(p store.CustomerPurchase, existing bool) Shipment {
	return Shipment{
		PurchaseID:     p.ID,
		OrderNumber:    p.OrderNumber,
		TrackingNumber: p.TrackingNumber,
		Courier:        p.Courier,
		DeliveryStatus: p.DeliveryStatus,
		Existing:       existing,
	}
}

// CreateShipment books a NinjaVan parcel for one purchase and deducts the
// seller's stock for it.
func (s *ShippingService) CreateShipment(ctx context.Context, actor Actor, purchaseID uuid.UUID) (Shipment, error) {
	purchase, err := s.loadPurchase(ctx, actor, purchaseID)
	if err != nil {
		return Shipment{}, err
	}
	if purchase.TrackingNumber != "" {
		return shipmentOf(purchase, true), nil
	}
	if purchase.DeliveryStatus == store.DeliveryCancelled {
		return Shipment{}, conflict("PURCHASE_CANCELLED", "purchase was cancelled")
	}
	if err := validateAddress(purchase); err != nil {
		return Shipment{}, err
	}

	plan, products, err := s.stockPlan(ctx, purchase)
	if err != nil {
		return Shipment{}, err
	}

	tracking, err := s.newTrackingNumber(ctx)
	if err != nil {
		return Shipment{}, err
	}
	booked, err := s.courier.CreateOrder(ctx, s.orderRequest(purchase, tracking, weightOf(plan, products, s.cfg.DefaultWeightKg)))
	if err != nil {
		s.logger.Error("ninjavan create order failed",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("order_number", purchase.OrderNumber),
			zap.Error(err),
		)
		return Shipment{}, upstream("courier booking failed", err)
	}
	if booked.TrackingNumber != "" {
		tracking = booked.TrackingNumber
	}

	var shipped store.CustomerPurchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockPurchase(ctx, purchase.ID)
		if err != nil {
			return err
		}
		if locked.TrackingNumber != "" {
			return conflict("ALREADY_SHIPPED", "purchase was shipped concurrently")
		}
		at := s.now()
		if err := tx.MarkPurchaseShipped(ctx, locked.ID, tracking, store.CourierNinjaVan, at); err != nil {
			return err
		}
		if !locked.InventoryDeducted {
			for _, line := range plan {
				product := products[strings.ToUpper(line.SKU)]
				if err := tx.AdjustInventory(ctx, locked.SellerID, product.ID, -line.Qty); err != nil {
					return err
				}
			}
			if err := tx.SetInventoryDeducted(ctx, locked.ID, true); err != nil {
				return err
			}
		}
		locked.TrackingNumber = tracking
		locked.Courier = store.CourierNinjaVan
		locked.DeliveryStatus = store.DeliveryShipped
		locked.ShippedAt = &at
		locked.InventoryDeducted = true
		shipped = locked
		return nil
	})
	if err != nil {
		s.compensate(ctx, purchase, tracking, err)
		if errors.Is(err, store.ErrInsufficientStock) {
			return Shipment{}, insufficientStock(err)
		}
		return Shipment{}, err
	}

	s.logger.Info("shipment created",
		zap.String("purchase_id", shipped.ID.String()),
		zap.String("order_number", shipped.OrderNumber),
		zap.String("tracking_number", tracking),
	)
	publish(ctx, s.events, s.logger, queue.EventShipmentCreated, map[string]any{
		"purchase_id":     shipped.ID,
		"seller_id":       shipped.SellerID,
		"order_number":    shipped.OrderNumber,
		"tracking_number": tracking,
		"courier":         store.CourierNinjaVan,
	})
	return shipmentOf(shipped, false), nil
}

// compensate cancels a parcel that was booked but could not be recorded.
func (s *ShippingService) compensate(ctx context.Context, purchase store.CustomerPurchase, tracking string, cause error) {
	s.logger.Error("shipment not recorded, cancelling courier order",
		zap.String("purchase_id", purchase.ID.String()),
		zap.String("tracking_number", tracking),
		zap.Error(cause),
	)
	if _, err := s.courier.CancelOrder(context.WithoutCancel(ctx), tracking); err != nil {
		s.logger.Error("compensating cancel failed",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("tracking_number", tracking),
			zap.Error(err),
		)
	}
}

func (s *ShippingService) loadPurchase(ctx context.Context, actor Actor, purchaseID uuid.UUID) (store.CustomerPurchase, error) {
	purchase, err := s.repo.GetPurchase(ctx, purchaseID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.CustomerPurchase{}, notFound("purchase not found")
		}
		return store.CustomerPurchase{}, err
	}
	if !actor.CanManage(purchase.SellerID) {
		return store.CustomerPurchase{}, forbidden("not your purchase")
	}
	return purchase, nil
}

func (s *ShippingService) stockPlan(ctx context.Context, purchase store.CustomerPurchase) ([]inventory.Line, map[string]store.Product, error) {
	lines, err := inventory.ParseBundleSKU(purchase.SKU)
	if err != nil {
		return nil, nil, invalid("purchase sku is invalid: " + err.Error())
	}
	plan := inventory.Plan(lines, max(purchase.Quantity, 1))
	products, err := s.repo.ProductsBySKU(ctx, inventory.SKUs(plan))
	if err != nil {
		return nil, nil, err
	}
	if missing := missingSKUs(plan, products, false); len(missing) > 0 {
		return nil, nil, invalid("unknown products: " + strings.Join(missing, ", "))
	}
	return plan, products, nil
}

func (s *ShippingService) newTrackingNumber(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		tracking := utils.NewTrackingNumber(s.cfg.TrackingPrefix)
		exists, err := s.repo.TrackingNumberExists(ctx, tracking)
		if err != nil {
			return "", err
		}
		if !exists {
			return tracking, nil
		}
	}
	return "", errors.New("could not allocate a tracking number")
}

func validateAddress(p store.CustomerPurchase) error {
	var missing []string
	if strings.TrimSpace(p.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(p.CustomerPhone) == "" {
		missing = append(missing, "customer_phone")
	}
	if strings.TrimSpace(p.Address1) == "" {
		missing = append(missing, "address_1")
	}
	if strings.TrimSpace(p.Postcode) == "" {
		missing = append(missing, "postcode")
	}
	if len(missing) > 0 {
		return invalid("purchase is missing " + strings.Join(missing, ", "))
	}
	return nil
}

func weightOf(plan []inventory.Line, products map[string]store.Product, fallback float64) float64 {
	total := decimal.Zero
	for _, line := range plan {
		w := products[strings.ToUpper(line.SKU)].WeightKg
		if w.IsPositive() {
			total = total.Add(w.Mul(decimal.NewFromInt(int64(line.Qty))))
		}
	}
	if !total.IsPositive() {
		return fallback
	}
	f, _ := total.Round(3).Float64()
	return f
}

func (s *ShippingService) orderRequest(p store.CustomerPurchase, tracking string, weight float64) ninjavan.OrderRequest {
	today := utils.DateInTimezone(s.now(), s.cfg.Timezone)
	country := strings.ToUpper(strings.TrimSpace(p.Country))
	if country == "" {
		country = "MY"
	}

	job := ninjavan.ParcelJob{
		IsPickupRequired:  s.cfg.PickupRequired,
		DeliveryStartDate: today,
		DeliveryTimeslot: ninjavan.Timeslot{
			StartTime: "09:00",
			EndTime:   "22:00",
			Timezone:  s.cfg.Timezone,
		},
		DeliveryInstructions: p.Notes,
		Dimensions:           ninjavan.Dimensions{Weight: weight},
	}
	if s.cfg.PickupRequired {
		job.PickupServiceType = "Scheduled"
		job.PickupServiceLevel = "Standard"
		job.PickupDate = today
		job.PickupTimeslot = &ninjavan.Timeslot{
			StartTime: "09:00",
			EndTime:   "18:00",
			Timezone:  s.cfg.Timezone,
		}
	}
	if p.IsCOD() && p.PaymentStatus != store.PaymentStatusPaid {
		amount, _ := p.TotalPrice.Round(2).Float64()
		job.CashOnDelivery = &amount
	}

	return ninjavan.OrderRequest{
		RequestedTrackingNumber: tracking,
		Reference:               ninjavan.Reference{MerchantOrderNumber: p.OrderNumber},
		From:                    s.cfg.Shipper,
		To: ninjavan.Contact{
			Name:        p.CustomerName,
			PhoneNumber: p.CustomerPhone,
			Email:       p.CustomerEmail,
			Address: ninjavan.Address{
				Address1: p.Address1,
				Address2: p.Address2,
				City:     p.City,
				State:    p.State,
				Country:  country,
				Postcode: p.Postcode,
			},
		},
		ParcelJob: job,
	}
}

// CancelShipment cancels the courier order and puts deducted stock back.
// Cancelling twice is a no-op.
func (s *ShippingService) CancelShipment(ctx context.Context, actor Actor, purchaseID uuid.UUID) (Shipment, error) {
	purchase, err := s.loadPurchase(ctx, actor, purchaseID)
	if err != nil {
		return Shipment{}, err
	}
	if purchase.DeliveryStatus == store.DeliveryCancelled {
		return shipmentOf(purchase, true), nil
	}
	if purchase.TrackingNumber == "" {
		return Shipment{}, conflict("NOT_SHIPPED", "purchase has no shipment")
	}
	if purchase.DeliveryStatus == store.DeliveryDelivered || purchase.DeliveryStatus == store.DeliveryReturned {
		return Shipment{}, conflict("SHIPMENT_FINISHED", "shipment already "+purchase.DeliveryStatus)
	}

	result, err := s.courier.CancelOrder(ctx, purchase.TrackingNumber)
	if err != nil {
		s.logger.Error("ninjavan cancel failed",
			zap.String("purchase_id", purchase.ID.String()),
			zap.String("tracking_number", purchase.TrackingNumber),
			zap.Error(err),
		)
		return Shipment{}, upstream("courier cancel failed", err)
	}

	var cancelled store.CustomerPurchase
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockPurchase(ctx, purchase.ID)
		if err != nil {
			return err
		}
		cancelled = locked
		if locked.DeliveryStatus == store.DeliveryCancelled {
			return nil
		}
		if err := s.restoreStock(ctx, tx, locked); err != nil {
			return err
		}
		if err := tx.SetPurchaseDeliveryStatus(ctx, locked.ID, store.DeliveryCancelled); err != nil {
			return err
		}
		cancelled.DeliveryStatus = store.DeliveryCancelled
		cancelled.InventoryDeducted = false
		return nil
	})
	if err != nil {
		return Shipment{}, err
	}

	if s.objects != nil {
		if err := s.objects.DeleteKey(ctx, storage.WaybillKey(purchase.TrackingNumber)); err != nil {
			s.logger.Warn("delete archived waybill failed", zap.String("tracking_number", purchase.TrackingNumber), zap.Error(err))
		}
	}

	s.logger.Info("shipment cancelled",
		zap.String("purchase_id", cancelled.ID.String()),
		zap.String("tracking_number", cancelled.TrackingNumber),
		zap.Bool("already_cancelled", result.AlreadyCancelled),
	)
	publish(ctx, s.events, s.logger, queue.EventShipmentCanceled, map[string]any{
		"purchase_id":       cancelled.ID,
		"seller_id":         cancelled.SellerID,
		"tracking_number":   cancelled.TrackingNumber,
		"already_cancelled": result.AlreadyCancelled,
	})
	return shipmentOf(cancelled, false), nil
}

// restoreStock gives the seller back what shipping took. It runs at most once
// per purchase because the flag is cleared with it.
func (s *ShippingService) restoreStock(ctx context.Context, tx store.Tx, p store.CustomerPurchase) error {
	if !p.InventoryDeducted {
		return nil
	}
	lines, err := inventory.ParseBundleSKU(p.SKU)
	if err != nil {
		return fmt.Errorf("purchase %s: %w", p.OrderNumber, err)
	}
	plan := inventory.Plan(lines, max(p.Quantity, 1))
	products, err := tx.ProductsBySKU(ctx, inventory.SKUs(plan))
	if err != nil {
		return err
	}
	for _, line := range plan {
		product, ok := products[strings.ToUpper(line.SKU)]
		if !ok {
			s.logger.Warn("cannot restore unknown product", zap.String("sku", line.SKU), zap.String("order_number", p.OrderNumber))
			continue
		}
		if err := tx.AdjustInventory(ctx, p.SellerID, product.ID, line.Qty); err != nil {
			return err
		}
	}
	return tx.SetInventoryDeducted(ctx, p.ID, false)
}

type BulkItem struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	Shipment   *Shipment `json:"shipment,omitempty"`
	Error      string    `json:"error,omitempty"`
	Code       string    `json:"code,omitempty"`
}

type BulkResult struct {
	Results   []BulkItem `json:"results"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
}

// BulkShip books purchases concurrently. One failure does not stop or undo
// the others.
func (s *ShippingService) BulkShip(ctx context.Context, actor Actor, ids []uuid.UUID) (BulkResult, error) {
	if len(ids) == 0 {
		return BulkResult{}, invalid("purchase_ids is required")
	}

	results := make([]BulkItem, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BulkConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			item := BulkItem{PurchaseID: id}
			shipment, err := s.CreateShipment(gctx, actor, id)
			if err != nil {
				fe := AsError(err)
				item.Error = fe.Message
				item.Code = fe.Code
			} else {
				item.Shipment = &shipment
			}
			results[i] = item
			return nil
		})
	}
	_ = g.Wait()

	out := BulkResult{Results: results}
	for _, item := range results {
		if item.Error != "" {
			out.Failed++
		} else {
			out.Succeeded++
		}
	}
	s.logger.Info("bulk ship finished",
		zap.Int("requested", len(ids)),
		zap.Int("succeeded", out.Succeeded),
		zap.Int("failed", out.Failed),
	)
	return out, nil
}

type Waybill struct {
	TrackingNumber string
	PDF            []byte
	URL            string
}

// Waybill returns the airway bill PDF, served from the archive when it has
// been fetched before.
func (s *ShippingService) Waybill(ctx context.Context, actor Actor, trackingNumber string) (Waybill, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return Waybill{}, invalid("tracking number is required")
	}
	purchase, err := s.repo.GetPurchaseByTracking(ctx, trackingNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Waybill{}, notFound("shipment not found")
		}
		return Waybill{}, err
	}
	if !actor.CanManage(purchase.SellerID) {
		return Waybill{}, forbidden("not your shipment")
	}

	key := storage.WaybillKey(trackingNumber)
	if s.objects != nil {
		body, ok, err := s.objects.GetObject(ctx, key)
		if err != nil {
			s.logger.Warn("waybill archive read failed", zap.String("tracking_number", trackingNumber), zap.Error(err))
		} else if ok {
			return Waybill{TrackingNumber: trackingNumber, PDF: body, URL: purchase.WaybillURL}, nil
		}
	}

	pdf, err := s.courier.Waybill(ctx, trackingNumber)
	if err != nil {
		return Waybill{}, upstream("waybill unavailable", err)
	}
	out := Waybill{TrackingNumber: trackingNumber, PDF: pdf, URL: purchase.WaybillURL}
	if s.objects == nil {
		return out, nil
	}

	url, err := s.objects.PutObject(ctx, key, pdf, "application/pdf", "private, max-age=86400")
	if err != nil {
		s.logger.Warn("waybill archive write failed", zap.String("tracking_number", trackingNumber), zap.Error(err))
		return out, nil
	}
	if err := s.repo.SetPurchaseWaybillURL(ctx, purchase.ID, url); err != nil {
		s.logger.Warn("save waybill url failed", zap.String("tracking_number", trackingNumber), zap.Error(err))
	}
	out.URL = url
	return out, nil
}

type StatusUpdate struct {
	TrackingNumber string `json:"tracking_number"`
	CourierStatus  string `json:"courier_status"`
	DeliveryStatus string `json:"delivery_status"`
	Changed        bool   `json:"changed"`
}

// ApplyCourierStatus moves a purchase along after a NinjaVan status event.
func (s *ShippingService) ApplyCourierStatus(ctx context.Context, trackingNumber, courierStatus string) (StatusUpdate, error) {
	update := StatusUpdate{TrackingNumber: trackingNumber, CourierStatus: courierStatus}
	next, ok := ninjavan.MapStatus(courierStatus)
	if !ok {
		return update, nil
	}

	var purchase store.CustomerPurchase
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockPurchaseByTracking(ctx, trackingNumber)
		if err != nil {
			return err
		}
		purchase = locked
		update.DeliveryStatus = locked.DeliveryStatus
		if locked.DeliveryStatus == next || store.IsTerminalDelivery(locked.DeliveryStatus) {
			return nil
		}

		if next == store.DeliveryReturned || next == store.DeliveryCancelled {
			if err := s.restoreStock(ctx, tx, locked); err != nil {
				return err
			}
		}
		if next == store.DeliveryDelivered && locked.IsCOD() && locked.PaymentStatus != store.PaymentStatusPaid {
			if err := tx.SetPurchasePaymentStatus(ctx, locked.ID, store.PaymentStatusPaid); err != nil {
				return err
			}
		}
		if err := tx.SetPurchaseDeliveryStatus(ctx, locked.ID, next); err != nil {
			return err
		}
		update.DeliveryStatus = next
		update.Changed = true
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return update, notFound("shipment not found")
		}
		return update, err
	}

	if update.Changed {
		s.logger.Info("delivery status updated",
			zap.String("tracking_number", trackingNumber),
			zap.String("courier_status", courierStatus),
			zap.String("delivery_status", update.DeliveryStatus),
		)
		publish(ctx, s.events, s.logger, queue.EventShipmentStatus, map[string]any{
			"purchase_id":     purchase.ID,
			"seller_id":       purchase.SellerID,
			"tracking_number": trackingNumber,
			"delivery_status": update.DeliveryStatus,
		})
	}
	return update, nil
}

// Manifest renders the day's shipped parcels for pickup. HQ sees every seller.
func (s *ShippingService) Manifest(ctx context.Context, actor Actor, date string) ([]byte, error) {
	if date == "" {
		date = utils.DateInTimezone(s.now(), s.cfg.Timezone)
	}
	from, to, err := utils.DayBounds(date, s.cfg.Timezone)
	if err != nil {
		return nil, invalid("date must be YYYY-MM-DD")
	}

	var seller *uuid.UUID
	if !actor.System && !actor.Role.IsHQ() {
		id := actor.UserID
		seller = &id
	}
	purchases, err := s.repo.ListShippedPurchases(ctx, seller, from, to)
	if err != nil {
		return nil, err
	}
	return export.Manifest(purchases, s.cfg.Timezone)
}

// HandleShipmentJob is the shipment queue consumer. Errors that will not go
// away on retry are logged and acknowledged.
func (s *ShippingService) HandleShipmentJob(ctx context.Context, body []byte) error {
	job, err := queue.DecodeShipmentJob(body)
	if err != nil {
		s.logger.Error("drop malformed shipment job", zap.Error(err))
		return nil
	}
	_, err = s.CreateShipment(ctx, SystemActor(), job.PurchaseID)
	if err == nil {
		return nil
	}
	if Retryable(err) {
		return err
	}
	s.logger.Warn("shipment job rejected",
		zap.String("purchase_id", job.PurchaseID.String()),
		zap.String("source", job.Source),
		zap.Error(err),
	)
	return nil
}
