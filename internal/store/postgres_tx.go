package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockPendingOrder(ctx context.Context, id uuid.UUID) (PendingOrder, error) {
	return scanPendingOrder(t.tx.QueryRow(ctx, `select `+pendingOrderColumns+` from pending_orders where id = $1 for update`, id))
}

func (t *pgTx) FindTransaction(ctx context.Context, pendingOrderID uuid.UUID, gateway, ref string) (Transaction, bool, error) {
	txn, err := scanTransaction(t.tx.QueryRow(ctx, `
		select `+transactionColumns+`
		from transactions
		where pending_order_id = $1 or (gateway = $2 and gateway_ref = $3)
		limit 1
	`, pendingOrderID, gateway, ref))
	if errors.Is(err, ErrNotFound) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, err
	}
	return txn, true, nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	return t.tx.QueryRow(ctx, `
		insert into transactions (
			id, pending_order_id, order_number, buyer_id, seller_id, bundle_id, quantity,
			unit_price, total_price, gateway, gateway_ref, paid_at
		) values ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12)
		returning created_at
	`,
		txn.ID, txn.PendingOrderID, txn.OrderNumber, txn.BuyerID, txn.SellerID, txn.BundleID, txn.Quantity,
		txn.UnitPrice.String(), txn.TotalPrice.String(), txn.Gateway, txn.GatewayRef, txn.PaidAt,
	).Scan(&txn.CreatedAt)
}

func (t *pgTx) CompletePendingOrder(ctx context.Context, id uuid.UUID, ref string, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		update pending_orders
		set status = 'completed', gateway_ref = coalesce(nullif($2, ''), gateway_ref),
			completed_at = $3, failure_reason = null, updated_at = now()
		where id = $1 and status = 'pending'
	`, id, ref, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending order %s is no longer pending", id)
	}
	return nil
}

func (t *pgTx) FailPendingOrder(ctx context.Context, id uuid.UUID, reason string) error {
	return failPendingOrder(ctx, t.tx, id, reason)
}

func (t *pgTx) ProductsBySKU(ctx context.Context, skus []string) (map[string]Product, error) {
	return productsBySKU(ctx, t.tx, skus)
}

func (t *pgTx) AdjustInventory(ctx context.Context, userID, productID uuid.UUID, delta int) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		_, err := t.tx.Exec(ctx, `
			insert into inventory (user_id, product_id, quantity)
			values ($1, $2, $3)
			on conflict (user_id, product_id)
			do update set quantity = inventory.quantity + excluded.quantity, updated_at = now()
		`, userID, productID, delta)
		return err
	}

	tag, err := t.tx.Exec(ctx, `
		update inventory
		set quantity = quantity + $3, updated_at = now()
		where user_id = $1 and product_id = $2 and quantity + $3 >= 0
	`, userID, productID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s product %s needs %d", ErrInsufficientStock, userID, productID, -delta)
	}
	return nil
}

func (t *pgTx) DeductAvailable(ctx context.Context, userID, productID uuid.UUID, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	var onHand int
	err := t.tx.QueryRow(ctx, `
		select quantity from inventory where user_id = $1 and product_id = $2 for update
	`, userID, productID).Scan(&onHand)
	if errors.Is(err, pgx.ErrNoRows) {
		return qty, nil
	}
	if err != nil {
		return 0, err
	}

	take := min(qty, onHand)
	if take > 0 {
		if _, err := t.tx.Exec(ctx, `
			update inventory set quantity = quantity - $3, updated_at = now()
			where user_id = $1 and product_id = $2
		`, userID, productID, take); err != nil {
			return 0, err
		}
	}
	return qty - take, nil
}

func (t *pgTx) LockPurchase(ctx context.Context, id uuid.UUID) (CustomerPurchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx, `select `+purchaseColumns+` from customer_purchases where id = $1 for update`, id))
}

func (t *pgTx) LockPurchaseByTracking(ctx context.Context, trackingNumber string) (CustomerPurchase, error) {
	return scanPurchase(t.tx.QueryRow(ctx, `select `+purchaseColumns+` from customer_purchases where tracking_number = $1 for update`, trackingNumber))
}

func (t *pgTx) MarkPurchaseShipped(ctx context.Context, id uuid.UUID, trackingNumber, courier string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		update customer_purchases
		set tracking_number = $2, courier = $3, delivery_status = 'shipped', shipped_at = $4, updated_at = now()
		where id = $1
	`, id, trackingNumber, courier, at)
	return err
}

func (t *pgTx) SetPurchaseDeliveryStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := t.tx.Exec(ctx, `update customer_purchases set delivery_status = $2, updated_at = now() where id = $1`, id, status)
	return err
}

func (t *pgTx) SetPurchasePaymentStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := t.tx.Exec(ctx, `update customer_purchases set payment_status = $2, updated_at = now() where id = $1`, id, status)
	return err
}

func (t *pgTx) SetInventoryDeducted(ctx context.Context, id uuid.UUID, deducted bool) error {
	_, err := t.tx.Exec(ctx, `update customer_purchases set inventory_deducted = $2, updated_at = now() where id = $1`, id, deducted)
	return err
}

func (t *pgTx) Notify(ctx context.Context, channel, payload string) error {
	_, err := t.tx.Exec(ctx, `select pg_notify($1, $2)`, channel, payload)
	return err
}
