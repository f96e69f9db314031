package fulfillment

import (
	"context"
	"errors"

	"distribution-order-services/internal/inventory"
	"distribution-order-services/internal/receipt"
	"distribution-order-services/internal/store"

	"go.uber.org/zap"
)

type ReceiptFile struct {
	Filename string
	PDF      []byte
}

// Receipt renders the PDF for a completed stock order. Buyer, seller and HQ
// may download it.
func (r *Reconciler) Receipt(ctx context.Context, actor Actor, orderNumber string) (ReceiptFile, error) {
	order, err := r.repo.GetPendingOrderByNumber(ctx, orderNumber)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ReceiptFile{}, notFound("order not found")
		}
		return ReceiptFile{}, err
	}
	if !actor.System && !actor.Role.IsHQ() && actor.UserID != order.BuyerID && actor.UserID != order.SellerID {
		return ReceiptFile{}, forbidden("not your order")
	}
	if order.Status != store.OrderCompleted {
		return ReceiptFile{}, conflict("ORDER_NOT_COMPLETED", "receipt is only available for completed orders")
	}

	txn, err := r.repo.GetTransactionByPendingOrder(ctx, order.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ReceiptFile{}, err
	}
	buyer, err := r.repo.GetProfile(ctx, order.BuyerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ReceiptFile{}, err
	}
	seller, err := r.repo.GetProfile(ctx, order.SellerID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ReceiptFile{}, err
	}
	bundle, err := r.repo.GetBundle(ctx, order.BundleID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return ReceiptFile{}, err
	}

	units := 0
	if lines, err := inventory.ParseBundleSKU(order.BundleSKU); err == nil {
		units = inventory.Units(inventory.Plan(lines, order.Quantity))
	}

	paidAt := txn.PaidAt
	if paidAt.IsZero() && order.CompletedAt != nil {
		paidAt = *order.CompletedAt
	}
	ref := txn.GatewayRef
	if ref == "" {
		ref = order.GatewayRef
	}

	pdf, err := receipt.Render(receipt.Receipt{
		OrderNumber: order.OrderNumber,
		BuyerName:   buyer.FullName,
		BuyerEmail:  buyer.Email,
		SellerName:  seller.FullName,
		BundleName:  bundle.Name,
		BundleSKU:   order.BundleSKU,
		Quantity:    order.Quantity,
		Units:       units,
		UnitPrice:   order.UnitPrice,
		Total:       order.TotalPrice,
		Gateway:     order.Gateway,
		GatewayRef:  ref,
		PaidAt:      paidAt,
		Timezone:    r.cfg.Timezone,
	})
	if err != nil {
		r.logger.Error("render receipt failed", zap.String("order_number", orderNumber), zap.Error(err))
		return ReceiptFile{}, err
	}
	return ReceiptFile{Filename: receipt.Filename(order.OrderNumber), PDF: pdf}, nil
}
