package fulfillment

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"distribution-order-services/internal/queue"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/woocommerce"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const wooOrderBody = `{
	"id": 5120,
	"number": "5120",
	"status": "processing",
	"currency": "MYR",
	"total": "150.00",
	"payment_method": "cod",
	"customer_note": "leave at guardhouse",
	"billing": {"first_name": "Siti", "last_name": "Aminah", "email": "siti@example.com", "phone": "60111111111",
		"address_1": "12 Jalan Mawar", "city": "Kuala Lumpur", "state": "WP", "postcode": "50450", "country": "MY"},
	"shipping": {"first_name": "", "last_name": "", "address_1": "", "postcode": "", "country": ""},
	"line_items": [
		{"id": 1, "name": "Glow Set", "sku": "SRM-2 + CLN-1", "quantity": 1}
	]
}`

type ingestHarness struct {
	w        *world
	store    store.WooStore
	courier  *fakeCourier
	jobs     *fakeJobs
	events   *fakeEvents
	ingestor *Ingestor
}

func newIngestHarness(autoShip bool, jobs *fakeJobs) *ingestHarness {
	w := newWorld()
	w.repo.SetInventory(w.agent.ID, w.serum.ID, 10)
	w.repo.SetInventory(w.agent.ID, w.cleanser.ID, 10)
	h := &ingestHarness{
		w:       w,
		store:   store.WooStore{ID: uuid.New(), SellerID: w.agent.ID, StoreURL: "https://shop.example", WebhookSecret: "woo-secret", AutoShip: autoShip, IsActive: true},
		courier: &fakeCourier{},
		jobs:    jobs,
		events:  &fakeEvents{},
	}
	w.repo.AddWooStore(h.store)
	shipping := newTestShipping(w, h.courier, nil, h.events)

	var q ShipmentQueue
	if jobs != nil {
		q = jobs
	}
	h.ingestor = NewIngestor(w.repo, shipping, q, h.events, zap.NewNop(), IngestConfig{DefaultSecret: "fallback-secret", OrderPrefix: "WC"})
	return h
}

func (h *ingestHarness) deliver(body string, secret string) (IngestOutcome, error) {
	return h.ingestor.HandleWooCommerce(context.Background(), WooDelivery{
		StoreID:   h.store.ID,
		Topic:     "order.created",
		Signature: woocommerce.Sign([]byte(body), secret),
		Body:      []byte(body),
	})
}

func TestWooCommerceImportIsIdempotent(t *testing.T) {
	h := newIngestHarness(false, nil)

	out, err := h.deliver(wooOrderBody, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestImported, out.Status)
	require.NotNil(t, out.Purchase)
	p := *out.Purchase
	assert.Equal(t, "Siti Aminah", p.CustomerName)
	assert.Equal(t, "12 Jalan Mawar", p.Address1)
	assert.Equal(t, "SRM-2 + CLN-1", p.SKU)
	assert.Equal(t, store.PaymentCOD, p.PaymentMethod)
	assert.Equal(t, "5120", p.ExternalOrderID)
	require.NotNil(t, p.BundleID)
	assert.Equal(t, h.w.bundle.ID, *p.BundleID)
	assert.Equal(t, 1, h.events.count(queue.EventPurchaseImported))

	again, err := h.deliver(wooOrderBody, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, again.Status)
	assert.Equal(t, out.OrderNumber, again.OrderNumber)
	assert.Equal(t, 1, h.events.count(queue.EventPurchaseImported))
	assert.Zero(t, h.courier.createdCount(), "store is not auto-ship")
}

func TestWooCommerceRejectsTamperedBody(t *testing.T) {
	h := newIngestHarness(false, nil)

	_, err := h.ingestor.HandleWooCommerce(context.Background(), WooDelivery{
		StoreID:   h.store.ID,
		Topic:     "order.created",
		Signature: woocommerce.Sign([]byte(wooOrderBody), "woo-secret"),
		Body:      []byte(wooOrderBody + " "),
	})
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, AsError(err).Status)
	assert.True(t, IsRejection(err))

	_, err = h.deliver(wooOrderBody, "fallback-secret")
	assert.Equal(t, http.StatusUnauthorized, AsError(err).Status, "store secret wins over the default")
}

func TestWooCommerceDefaultSecret(t *testing.T) {
	h := newIngestHarness(false, nil)
	h.store.WebhookSecret = ""
	h.w.repo.AddWooStore(h.store)

	out, err := h.deliver(wooOrderBody, "fallback-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestImported, out.Status)
}

func TestWooCommercePingAndIgnored(t *testing.T) {
	h := newIngestHarness(false, nil)

	out, err := h.ingestor.HandleWooCommerce(context.Background(), WooDelivery{
		StoreID: h.store.ID,
		Body:    []byte("webhook_id=42"),
	})
	require.NoError(t, err)
	assert.Equal(t, IngestPing, out.Status)

	pending := `{"id": 77, "status": "pending", "line_items": [{"id": 1, "sku": "SRM-1", "quantity": 1}]}`
	out, err = h.deliver(pending, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out.Status)

	noSKU := `{"id": 78, "status": "processing", "line_items": [{"id": 1, "sku": "", "quantity": 1}]}`
	out, err = h.deliver(noSKU, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestIgnored, out.Status)

	_, err = h.deliver(`{"status": "processing"}`, "woo-secret")
	assert.Equal(t, http.StatusBadRequest, AsError(err).Status)

	_, err = h.ingestor.HandleWooCommerce(context.Background(), WooDelivery{StoreID: uuid.New(), Body: []byte("{}")})
	assert.Equal(t, http.StatusNotFound, AsError(err).Status)
}

func TestWooCommerceAutoShipInline(t *testing.T) {
	h := newIngestHarness(true, nil)

	out, err := h.deliver(wooOrderBody, "woo-secret")
	require.NoError(t, err)
	require.NotNil(t, out.Shipment)
	assert.False(t, out.Queued)
	assert.Equal(t, 1, h.courier.createdCount())
	assert.Equal(t, 8, h.w.repo.Inventory(h.w.agent.ID, h.w.serum.ID))
}

func TestWooCommerceAutoShipQueued(t *testing.T) {
	jobs := &fakeJobs{}
	h := newIngestHarness(true, jobs)

	out, err := h.deliver(wooOrderBody, "woo-secret")
	require.NoError(t, err)
	assert.True(t, out.Queued)
	require.Len(t, jobs.ids, 1)
	assert.Equal(t, out.Purchase.ID, jobs.ids[0])
	assert.Zero(t, h.courier.createdCount())
}

func TestWooCommerceCourierFailureKeepsImport(t *testing.T) {
	h := newIngestHarness(true, &fakeJobs{err: errors.New("broker down")})
	h.courier.createErr = errors.New("ninjavan down")

	out, err := h.deliver(wooOrderBody, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestImported, out.Status)
	assert.NotEmpty(t, out.ShipmentError)

	stored, err := h.w.repo.GetPurchase(context.Background(), out.Purchase.ID)
	require.NoError(t, err)
	assert.Equal(t, store.DeliveryPending, stored.DeliveryStatus)
}

func TestWooCommerceOnHoldOrderShipsOncePaid(t *testing.T) {
	h := newIngestHarness(true, nil)
	onHold := strings.NewReplacer(`"status": "processing"`, `"status": "on-hold"`, `"payment_method": "cod"`, `"payment_method": "bacs"`).Replace(wooOrderBody)

	out, err := h.deliver(onHold, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestImported, out.Status)
	assert.Nil(t, out.Shipment)
	assert.Zero(t, h.courier.createdCount())
	assert.Equal(t, store.PaymentStatusPending, out.Purchase.PaymentStatus)
	id := out.Purchase.ID

	paid := strings.Replace(onHold, `"status": "on-hold"`, `"status": "processing"`, 1)
	out, err = h.deliver(paid, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, out.Status)
	require.NotNil(t, out.Shipment)
	assert.Equal(t, 1, h.courier.createdCount())

	stored, err := h.w.repo.GetPurchase(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, store.PaymentStatusPaid, stored.PaymentStatus)
	assert.NotEmpty(t, stored.TrackingNumber)

	out, err = h.deliver(paid, "woo-secret")
	require.NoError(t, err)
	assert.Equal(t, IngestDuplicate, out.Status)
	assert.Nil(t, out.Shipment)
	assert.Equal(t, 1, h.courier.createdCount())
}
