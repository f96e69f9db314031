package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"distribution-order-services/internal/auth"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAdjustInventoryNeverNegative(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, product := uuid.New(), uuid.New()
	m.SetInventory(user, product, 3)

	err := m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		require.NoError(t, tx.AdjustInventory(ctx, user, product, 2))
		return tx.AdjustInventory(ctx, user, product, -6)
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, 3, m.Inventory(user, product), "failed transaction must not leak the +2")

	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.AdjustInventory(ctx, user, product, -3)
	}))
	require.Equal(t, 0, m.Inventory(user, product))
}

func TestDeductAvailableReportsShortfall(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	user, product := uuid.New(), uuid.New()
	m.SetInventory(user, product, 4)

	var shortfall int
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		shortfall, err = tx.DeductAvailable(ctx, user, product, 10)
		return err
	}))
	require.Equal(t, 6, shortfall)
	require.Equal(t, 0, m.Inventory(user, product))
}

func TestPendingOrderCompletesOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	order := &PendingOrder{OrderNumber: "PO-1", Quantity: 1, Gateway: "billplz", UnitPrice: decimal.NewFromInt(10), TotalPrice: decimal.NewFromInt(10)}
	require.NoError(t, m.InsertPendingOrder(ctx, order))
	require.True(t, IsUniqueViolation(m.InsertPendingOrder(ctx, &PendingOrder{OrderNumber: "PO-1"})))

	now := time.Now()
	complete := func(ctx context.Context, tx Tx) error {
		return tx.CompletePendingOrder(ctx, order.ID, "bill-1", now)
	}
	require.NoError(t, m.WithTx(ctx, complete))
	require.Error(t, m.WithTx(ctx, complete))

	got, err := m.GetPendingOrderByRef(ctx, "billplz", "bill-1")
	require.NoError(t, err)
	require.Equal(t, OrderCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	require.NoError(t, m.MarkPendingOrderFailed(ctx, order.ID, "late failure"))
	got, _ = m.GetPendingOrderByNumber(ctx, "PO-1")
	require.Equal(t, OrderCompleted, got.Status)
}

func TestInsertPurchaseExternalIDUnique(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seller := uuid.New()

	first := &CustomerPurchase{OrderNumber: "WC-1", SellerID: seller, Platform: PlatformWooCommerce, ExternalOrderID: "881"}
	require.NoError(t, m.InsertPurchase(ctx, first))
	require.Equal(t, DeliveryPending, first.DeliveryStatus)

	err := m.InsertPurchase(ctx, &CustomerPurchase{OrderNumber: "WC-2", SellerID: seller, Platform: PlatformWooCommerce, ExternalOrderID: "881"})
	require.True(t, IsUniqueViolation(err))

	other := &CustomerPurchase{OrderNumber: "WC-3", SellerID: uuid.New(), Platform: PlatformWooCommerce, ExternalOrderID: "881"}
	require.NoError(t, m.InsertPurchase(ctx, other))

	found, err := m.FindPurchaseByExternalID(ctx, PlatformWooCommerce, "881", seller)
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)
}

func TestListShippedPurchasesWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seller := uuid.New()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	for i, at := range []time.Time{day.Add(2 * time.Hour), day.Add(-time.Minute), day.Add(26 * time.Hour)} {
		p := &CustomerPurchase{OrderNumber: fmt.Sprintf("CP-%d", i), SellerID: seller}
		require.NoError(t, m.InsertPurchase(ctx, p))
		shippedAt := at
		require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.MarkPurchaseShipped(ctx, p.ID, fmt.Sprintf("DMS%d", i), CourierNinjaVan, shippedAt)
		}))
	}

	out, err := m.ListShippedPurchases(ctx, &seller, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "DMS0", out[0].TrackingNumber)

	out, err = m.ListShippedPurchases(ctx, nil, day.Add(-time.Hour), day.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, out, 3)
}

func TestListShippedPurchasesSkipsCancelled(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	seller := uuid.New()
	day := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	var ids []uuid.UUID
	for i := 0; i < 2; i++ {
		p := &CustomerPurchase{OrderNumber: fmt.Sprintf("CP-%d", i), SellerID: seller}
		require.NoError(t, m.InsertPurchase(ctx, p))
		require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.MarkPurchaseShipped(ctx, p.ID, fmt.Sprintf("DMS%d", i), CourierNinjaVan, day.Add(time.Hour))
		}))
		ids = append(ids, p.ID)
	}
	require.NoError(t, m.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetPurchaseDeliveryStatus(ctx, ids[1], DeliveryCancelled)
	}))

	out, err := m.ListShippedPurchases(ctx, &seller, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, ids[0], out[0].ID)
}

func TestBundlePriceFor(t *testing.T) {
	b := Bundle{
		MasterAgentPrice: decimal.NewFromInt(80),
		AgentPrice:       decimal.NewFromInt(90),
		BranchPrice:      decimal.NewFromInt(95),
		MarketerPrice:    decimal.NewFromInt(100),
	}
	price, ok := b.PriceFor(auth.RoleAgent)
	require.True(t, ok)
	require.True(t, price.Equal(decimal.NewFromInt(90)))

	_, ok = b.PriceFor(auth.RoleHQ)
	require.False(t, ok)
}

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	require.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.False(t, IsUniqueViolation(nil))
}
