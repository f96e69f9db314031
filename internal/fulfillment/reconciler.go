package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"distribution-order-services/internal/inventory"
	"distribution-order-services/internal/lock"
	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/queue"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const PendingOrderChannel = "pending_order_updates"

type ReconcilerConfig struct {
	StatusTokenSecret string
	OrderPrefix       string
	LockTTL           time.Duration
	Timezone          string
}

type Reconciler struct {
	repo     store.Repository
	gateways payment.Registry
	events   EventPublisher
	locker   lock.Locker
	logger   *zap.Logger
	cfg      ReconcilerConfig
	now      func() time.Time
}

func NewReconciler(repo store.Repository, gateways payment.Registry, events EventPublisher, locker lock.Locker, logger *zap.Logger, cfg ReconcilerConfig) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = lock.NewLocal()
	}
	if cfg.OrderPrefix == "" {
		cfg.OrderPrefix = "ORD"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	return &Reconciler{
		repo:     repo,
		gateways: gateways,
		events:   events,
		locker:   locker,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

type CreatePaymentInput struct {
	BuyerID  uuid.UUID
	BundleID uuid.UUID
	Quantity int
	Gateway  string
}

type CreatePaymentOutput struct {
	OrderNumber string          `json:"order_number"`
	PaymentURL  string          `json:"payment_url"`
	StatusToken string          `json:"status_token"`
	Gateway     string          `json:"gateway"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// CreatePayment prices a bundle for the buyer, records a pending order and
// opens a payment session with the chosen gateway.
func (r *Reconciler) CreatePayment(ctx context.Context, in CreatePaymentInput) (CreatePaymentOutput, error) {
	if in.Quantity <= 0 {
		return CreatePaymentOutput{}, invalid("quantity must be positive")
	}
	gw, ok := r.gateways.Get(in.Gateway)
	if !ok {
		return CreatePaymentOutput{}, invalid("unsupported payment gateway")
	}

	buyer, err := r.repo.GetProfile(ctx, in.BuyerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreatePaymentOutput{}, notFound("buyer profile not found")
		}
		return CreatePaymentOutput{}, err
	}
	if !buyer.IsActive {
		return CreatePaymentOutput{}, forbidden("account is inactive")
	}

	bundle, err := r.repo.GetBundle(ctx, in.BundleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return CreatePaymentOutput{}, notFound("bundle not found")
		}
		return CreatePaymentOutput{}, err
	}
	if !bundle.IsActive {
		return CreatePaymentOutput{}, invalid("bundle is not available")
	}
	unitPrice, ok := bundle.PriceFor(buyer.Role)
	if !ok {
		return CreatePaymentOutput{}, forbidden("role cannot purchase stock")
	}
	if !unitPrice.IsPositive() {
		return CreatePaymentOutput{}, invalid("bundle has no price for this role")
	}
	if err := r.checkBundleProducts(ctx, bundle.SKU); err != nil {
		return CreatePaymentOutput{}, err
	}

	seller, err := r.resolveSeller(ctx, buyer)
	if err != nil {
		return CreatePaymentOutput{}, err
	}

	order := store.PendingOrder{
		BuyerID:    buyer.ID,
		SellerID:   seller.ID,
		BundleID:   bundle.ID,
		BundleSKU:  bundle.SKU,
		Quantity:   in.Quantity,
		UnitPrice:  unitPrice,
		TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))),
		Gateway:    gw.Name(),
		Status:     store.OrderPending,
	}
	if err := r.insertPendingOrder(ctx, &order); err != nil {
		return CreatePaymentOutput{}, err
	}

	session, err := gw.CreatePayment(ctx, payment.Request{
		OrderNumber: order.OrderNumber,
		Amount:      order.TotalPrice,
		Description: fmt.Sprintf("%s x%d", bundle.Name, in.Quantity),
		PayerName:   buyer.FullName,
		PayerEmail:  buyer.Email,
		PayerPhone:  buyer.Phone,
	})
	if err != nil {
		r.logger.Error("create payment failed",
			zap.String("gateway", gw.Name()),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		if markErr := r.repo.MarkPendingOrderFailed(ctx, order.ID, "gateway error: "+err.Error()); markErr != nil {
			r.logger.Error("mark pending order failed", zap.String("order_number", order.OrderNumber), zap.Error(markErr))
		}
		return CreatePaymentOutput{}, upstream("payment gateway unavailable", err)
	}

	if err := r.repo.UpdatePendingOrderPayment(ctx, order.ID, session.Ref, session.URL); err != nil {
		return CreatePaymentOutput{}, err
	}

	r.logger.Info("payment created",
		zap.String("gateway", gw.Name()),
		zap.String("order_number", order.OrderNumber),
		zap.String("gateway_ref", session.Ref),
	)

	return CreatePaymentOutput{
		OrderNumber: order.OrderNumber,
		PaymentURL:  session.URL,
		StatusToken: utils.CreatePaymentStatusToken(r.cfg.StatusTokenSecret, order.OrderNumber),
		Gateway:     gw.Name(),
		TotalPrice:  order.TotalPrice,
	}, nil
}

// resolveSeller picks the buyer's active upline, else HQ.
func (r *Reconciler) resolveSeller(ctx context.Context, buyer store.Profile) (store.Profile, error) {
	if buyer.UplineID != nil {
		upline, err := r.repo.GetProfile(ctx, *buyer.UplineID)
		switch {
		case err == nil && upline.IsActive:
			return upline, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return store.Profile{}, err
		}
		r.logger.Warn("upline unavailable, selling from hq",
			zap.String("buyer_id", buyer.ID.String()),
			zap.String("upline_id", buyer.UplineID.String()),
		)
	}
	hq, err := r.repo.FindHQProfile(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Profile{}, conflict("NO_SELLER", "no seller available for this buyer")
		}
		return store.Profile{}, err
	}
	return hq, nil
}

func (r *Reconciler) checkBundleProducts(ctx context.Context, sku string) error {
	lines, err := inventory.ParseBundleSKU(sku)
	if err != nil {
		return invalid("bundle sku is invalid: " + err.Error())
	}
	products, err := r.repo.ProductsBySKU(ctx, inventory.SKUs(lines))
	if err != nil {
		return err
	}
	if missing := missingSKUs(lines, products, true); len(missing) > 0 {
		return invalid("unknown products in bundle: " + strings.Join(missing, ", "))
	}
	return nil
}

func (r *Reconciler) insertPendingOrder(ctx context.Context, order *store.PendingOrder) error {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		order.OrderNumber = utils.NewOrderNumber(r.cfg.OrderPrefix, r.now())
		err = r.repo.InsertPendingOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !store.IsUniqueViolation(err) {
			return err
		}
	}
	return fmt.Errorf("allocate order number: %w", err)
}

type ReconcileResult struct {
	Order            store.PendingOrder `json:"-"`
	State            payment.State      `json:"state"`
	AlreadyProcessed bool               `json:"already_processed"`
	// Shortfalls lists product units the seller could not cover.
	Shortfalls map[string]int `json:"shortfalls,omitempty"`
}

// Reconcile asks the gateway for the real payment state of one order and
// applies it. Callers pass whatever identifies the order: the gateway ref
// from a callback, the order number from a return page, or both.
func (r *Reconciler) Reconcile(ctx context.Context, gateway, ref, orderNumber string) (ReconcileResult, error) {
	gw, ok := r.gateways.Get(gateway)
	if !ok {
		return ReconcileResult{}, invalid("unsupported payment gateway")
	}

	order, err := r.findOrder(ctx, gateway, ref, orderNumber)
	if err != nil {
		return ReconcileResult{}, err
	}
	if order.Gateway != gateway {
		return ReconcileResult{}, conflict("GATEWAY_MISMATCH", "order was not paid through this gateway")
	}
	if order.Status != store.OrderPending {
		return ReconcileResult{Order: order, State: stateOf(order), AlreadyProcessed: true}, nil
	}

	release, err := r.locker.Acquire(ctx, "reconcile:"+gateway+":"+order.OrderNumber, r.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return ReconcileResult{}, conflict("RECONCILE_IN_PROGRESS", "payment confirmation already in progress")
		}
		return ReconcileResult{}, err
	}
	defer release()

	checkRef := order.GatewayRef
	if checkRef == "" {
		checkRef = ref
	}
	status, err := gw.FetchStatus(ctx, checkRef, order.OrderNumber)
	if err != nil {
		r.logger.Error("fetch payment status failed",
			zap.String("gateway", gateway),
			zap.String("order_number", order.OrderNumber),
			zap.Error(err),
		)
		return ReconcileResult{}, upstream("payment gateway unavailable", err)
	}
	if status.State == payment.StatePaid && !status.Amount.IsZero() && !status.Amount.Equal(order.TotalPrice) {
		r.logger.Warn("paid amount mismatch",
			zap.String("order_number", order.OrderNumber),
			zap.String("expected", order.TotalPrice.StringFixed(2)),
			zap.String("paid", status.Amount.StringFixed(2)),
		)
		status.State = payment.StateFailed
		status.Reason = "amount mismatch"
	}
	if status.State == payment.StatePending {
		return ReconcileResult{Order: order, State: payment.StatePending}, nil
	}

	result := ReconcileResult{State: status.State}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockPendingOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if locked.Status != store.OrderPending {
			result.Order = locked
			result.State = stateOf(locked)
			result.AlreadyProcessed = true
			return nil
		}

		switch status.State {
		case payment.StatePaid:
			paidAt, shortfalls, err := r.completeOrder(ctx, tx, locked, status)
			if err != nil {
				return err
			}
			locked.CompletedAt = &paidAt
			result.Shortfalls = shortfalls
		case payment.StateFailed:
			reason := status.Reason
			if reason == "" {
				reason = "payment failed"
			}
			if err := tx.FailPendingOrder(ctx, locked.ID, reason); err != nil {
				return err
			}
			locked.FailureReason = reason
		}
		if err := tx.Notify(ctx, PendingOrderChannel, locked.OrderNumber); err != nil {
			return err
		}

		locked.Status = orderStatusFor(status.State)
		result.Order = locked
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReconcileResult{}, notFound("order not found")
		}
		return ReconcileResult{}, err
	}

	if !result.AlreadyProcessed {
		r.afterTransition(ctx, result)
	}
	return result, nil
}

func (r *Reconciler) findOrder(ctx context.Context, gateway, ref, orderNumber string) (store.PendingOrder, error) {
	var (
		order store.PendingOrder
		err   = store.ErrNotFound
	)
	if orderNumber != "" {
		order, err = r.repo.GetPendingOrderByNumber(ctx, orderNumber)
	}
	if errors.Is(err, store.ErrNotFound) && ref != "" {
		order, err = r.repo.GetPendingOrderByRef(ctx, gateway, ref)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.PendingOrder{}, notFound("order not found")
		}
		return store.PendingOrder{}, err
	}
	return order, nil
}

// completeOrder moves stock from seller to buyer and records the transaction.
// The seller side is clamped: a paid order completes even when the seller is short.
func (r *Reconciler) completeOrder(ctx context.Context, tx store.Tx, order store.PendingOrder, status payment.Result) (time.Time, map[string]int, error) {
	ref := status.Ref
	if ref == "" {
		ref = order.GatewayRef
	}
	paidAt := r.now()
	if status.PaidAt != nil {
		paidAt = *status.PaidAt
	}

	if existing, found, err := tx.FindTransaction(ctx, order.ID, order.Gateway, ref); err != nil {
		return time.Time{}, nil, err
	} else if found {
		r.logger.Warn("transaction already recorded", zap.String("order_number", order.OrderNumber))
		return existing.PaidAt, nil, tx.CompletePendingOrder(ctx, order.ID, ref, existing.PaidAt)
	}

	lines, err := inventory.ParseBundleSKU(order.BundleSKU)
	if err != nil {
		return time.Time{}, nil, fmt.Errorf("order %s: %w", order.OrderNumber, err)
	}
	plan := inventory.Plan(lines, order.Quantity)
	products, err := tx.ProductsBySKU(ctx, inventory.SKUs(plan))
	if err != nil {
		return time.Time{}, nil, err
	}
	if missing := missingSKUs(plan, products, false); len(missing) > 0 {
		return time.Time{}, nil, fmt.Errorf("order %s: unknown products %s", order.OrderNumber, strings.Join(missing, ", "))
	}

	var shortfalls map[string]int
	for _, line := range plan {
		product := products[strings.ToUpper(line.SKU)]
		if err := tx.AdjustInventory(ctx, order.BuyerID, product.ID, line.Qty); err != nil {
			return time.Time{}, nil, err
		}
		short, err := tx.DeductAvailable(ctx, order.SellerID, product.ID, line.Qty)
		if err != nil {
			return time.Time{}, nil, err
		}
		if short > 0 {
			if shortfalls == nil {
				shortfalls = make(map[string]int)
			}
			shortfalls[product.SKU] = short
			r.logger.Warn("seller stock shortfall",
				zap.String("order_number", order.OrderNumber),
				zap.String("seller_id", order.SellerID.String()),
				zap.String("sku", product.SKU),
				zap.Int("short", short),
			)
		}
	}

	txn := store.Transaction{
		PendingOrderID: order.ID,
		OrderNumber:    order.OrderNumber,
		BuyerID:        order.BuyerID,
		SellerID:       order.SellerID,
		BundleID:       order.BundleID,
		Quantity:       order.Quantity,
		UnitPrice:      order.UnitPrice,
		TotalPrice:     order.TotalPrice,
		Gateway:        order.Gateway,
		GatewayRef:     ref,
		PaidAt:         paidAt,
	}
	if err := tx.InsertTransaction(ctx, &txn); err != nil {
		return time.Time{}, nil, err
	}
	if err := tx.CompletePendingOrder(ctx, order.ID, ref, paidAt); err != nil {
		return time.Time{}, nil, err
	}
	return paidAt, shortfalls, nil
}

func (r *Reconciler) afterTransition(ctx context.Context, result ReconcileResult) {
	order := result.Order
	switch result.State {
	case payment.StatePaid:
		r.logger.Info("order completed",
			zap.String("order_number", order.OrderNumber),
			zap.String("gateway", order.Gateway),
		)
		publish(ctx, r.events, r.logger, queue.EventOrderCompleted, map[string]any{
			"order_number": order.OrderNumber,
			"buyer_id":     order.BuyerID,
			"seller_id":    order.SellerID,
			"bundle_id":    order.BundleID,
			"quantity":     order.Quantity,
			"total_price":  order.TotalPrice,
			"gateway":      order.Gateway,
			"shortfalls":   result.Shortfalls,
		})
	case payment.StateFailed:
		r.logger.Info("order failed",
			zap.String("order_number", order.OrderNumber),
			zap.String("reason", order.FailureReason),
		)
		publish(ctx, r.events, r.logger, queue.EventOrderFailed, map[string]any{
			"order_number": order.OrderNumber,
			"buyer_id":     order.BuyerID,
			"gateway":      order.Gateway,
			"reason":       order.FailureReason,
		})
	}
}

type PaymentStatus struct {
	OrderNumber   string          `json:"order_number"`
	Status        string          `json:"status"`
	Gateway       string          `json:"gateway"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Quantity      int             `json:"quantity"`
	PaymentURL    string          `json:"payment_url,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

func StatusOf(order store.PendingOrder) PaymentStatus {
	return PaymentStatus{
		OrderNumber:   order.OrderNumber,
		Status:        order.Status,
		Gateway:       order.Gateway,
		TotalPrice:    order.TotalPrice,
		Quantity:      order.Quantity,
		PaymentURL:    order.PaymentURL,
		FailureReason: order.FailureReason,
		CompletedAt:   order.CompletedAt,
	}
}

// VerifyStatusToken checks a public status token against an order number.
func (r *Reconciler) VerifyStatusToken(orderNumber, token string) bool {
	return utils.VerifyPaymentStatusToken(r.cfg.StatusTokenSecret, token, orderNumber)
}

// PaymentStatus serves the public return page. A pending order is reconciled
// on the way so the page does not wait on a late callback.
func (r *Reconciler) PaymentStatus(ctx context.Context, orderNumber, token string) (PaymentStatus, error) {
	if !r.VerifyStatusToken(orderNumber, token) {
		return PaymentStatus{}, unauthorized("invalid status token")
	}
	order, err := r.repo.GetPendingOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return PaymentStatus{}, notFound("order not found")
		}
		return PaymentStatus{}, err
	}
	if order.Status != store.OrderPending || order.GatewayRef == "" {
		return StatusOf(order), nil
	}

	result, err := r.Reconcile(ctx, order.Gateway, order.GatewayRef, order.OrderNumber)
	if err != nil {
		// the stored row is still a valid answer
		r.logger.Warn("status reconcile failed", zap.String("order_number", orderNumber), zap.Error(err))
		return StatusOf(order), nil
	}
	return StatusOf(result.Order), nil
}

// Verify is the signed-in buyer's "check my payment" action.
func (r *Reconciler) Verify(ctx context.Context, actor Actor, orderNumber string) (ReconcileResult, error) {
	order, err := r.repo.GetPendingOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReconcileResult{}, notFound("order not found")
		}
		return ReconcileResult{}, err
	}
	if !actor.System && !actor.Role.IsHQ() && actor.UserID != order.BuyerID {
		return ReconcileResult{}, forbidden("not your order")
	}
	return r.Reconcile(ctx, order.Gateway, order.GatewayRef, order.OrderNumber)
}

func stateOf(order store.PendingOrder) payment.State {
	switch order.Status {
	case store.OrderCompleted:
		return payment.StatePaid
	case store.OrderFailed:
		return payment.StateFailed
	}
	return payment.StatePending
}

func orderStatusFor(state payment.State) string {
	switch state {
	case payment.StatePaid:
		return store.OrderCompleted
	case payment.StateFailed:
		return store.OrderFailed
	}
	return store.OrderPending
}

func missingSKUs(lines []inventory.Line, products map[string]store.Product, activeOnly bool) []string {
	var missing []string
	for _, line := range lines {
		if p, ok := products[strings.ToUpper(line.SKU)]; !ok || (activeOnly && !p.IsActive) {
			missing = append(missing, line.SKU)
		}
	}
	return missing
}
