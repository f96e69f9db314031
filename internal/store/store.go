// Package store is the Postgres persistence layer. Every multi-row change runs
// through WithTx so row locks and inventory updates commit together.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicate is what the in-memory store returns where Postgres raises 23505.
	ErrDuplicate = errors.New("duplicate key")
)

func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicate) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Repository covers reads and single-row writes outside a transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error

	GetProfile(ctx context.Context, id uuid.UUID) (Profile, error)
	FindHQProfile(ctx context.Context) (Profile, error)
	GetBundle(ctx context.Context, id uuid.UUID) (Bundle, error)
	FindBundleBySKU(ctx context.Context, sku string) (Bundle, error)
	ProductsBySKU(ctx context.Context, skus []string) (map[string]Product, error)

	InsertPendingOrder(ctx context.Context, order *PendingOrder) error
	UpdatePendingOrderPayment(ctx context.Context, id uuid.UUID, ref, paymentURL string) error
	MarkPendingOrderFailed(ctx context.Context, id uuid.UUID, reason string) error
	GetPendingOrderByNumber(ctx context.Context, orderNumber string) (PendingOrder, error)
	GetPendingOrderByRef(ctx context.Context, gateway, ref string) (PendingOrder, error)
	GetTransactionByPendingOrder(ctx context.Context, pendingOrderID uuid.UUID) (Transaction, error)

	GetPurchase(ctx context.Context, id uuid.UUID) (CustomerPurchase, error)
	GetPurchaseByTracking(ctx context.Context, trackingNumber string) (CustomerPurchase, error)
	FindPurchaseByExternalID(ctx context.Context, platform, externalID string, sellerID uuid.UUID) (CustomerPurchase, error)
	InsertPurchase(ctx context.Context, purchase *CustomerPurchase) error
	TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error)
	SetPurchaseWaybillURL(ctx context.Context, id uuid.UUID, waybillURL string) error
	ListShippedPurchases(ctx context.Context, sellerID *uuid.UUID, from, to time.Time) ([]CustomerPurchase, error)

	GetWooStore(ctx context.Context, id uuid.UUID) (WooStore, error)
	LogWebhook(ctx context.Context, entry WebhookLog) error

	LoadNinjaVanToken(ctx context.Context) (string, time.Time, error)
	SaveNinjaVanToken(ctx context.Context, accessToken string, expiresAt time.Time) error
}

// Tx is the set of operations that must run under a row lock.
type Tx interface {
	LockPendingOrder(ctx context.Context, id uuid.UUID) (PendingOrder, error)
	FindTransaction(ctx context.Context, pendingOrderID uuid.UUID, gateway, ref string) (Transaction, bool, error)
	InsertTransaction(ctx context.Context, txn *Transaction) error
	CompletePendingOrder(ctx context.Context, id uuid.UUID, ref string, at time.Time) error
	FailPendingOrder(ctx context.Context, id uuid.UUID, reason string) error

	ProductsBySKU(ctx context.Context, skus []string) (map[string]Product, error)
	// AdjustInventory applies delta to one (user, product) row and refuses to
	// take it below zero.
	AdjustInventory(ctx context.Context, userID, productID uuid.UUID, delta int) error
	// DeductAvailable removes up to qty and returns how many units were missing.
	DeductAvailable(ctx context.Context, userID, productID uuid.UUID, qty int) (int, error)

	LockPurchase(ctx context.Context, id uuid.UUID) (CustomerPurchase, error)
	LockPurchaseByTracking(ctx context.Context, trackingNumber string) (CustomerPurchase, error)
	MarkPurchaseShipped(ctx context.Context, id uuid.UUID, trackingNumber, courier string, at time.Time) error
	SetPurchaseDeliveryStatus(ctx context.Context, id uuid.UUID, status string) error
	SetPurchasePaymentStatus(ctx context.Context, id uuid.UUID, status string) error
	SetInventoryDeducted(ctx context.Context, id uuid.UUID, deducted bool) error

	Notify(ctx context.Context, channel, payload string) error
}
