package woocommerce

import (
	"testing"

	"distribution-order-services/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const sampleOrder = `{
	"id": 881,
	"number": "881",
	"status": "processing",
	"currency": "MYR",
	"total": "129.90",
	"payment_method": "fpx",
	"customer_note": "Leave at guardhouse",
	"billing": {"first_name": "Aina", "last_name": "Rahman", "email": "aina@example.com", "phone": "0123456789"},
	"shipping": {"first_name": "Aina", "last_name": "Rahman", "address_1": "12 Jalan Mawar", "city": "Shah Alam", "state": "Selangor", "postcode": "40000", "country": "my"},
	"line_items": [
		{"id": 1, "name": "Serum", "quantity": 2, "sku": "SRM-2"},
		{"id": 2, "name": "Cleanser", "quantity": 1, "sku": "CLN"},
		{"id": 3, "name": "Gift card", "quantity": 1, "sku": ""}
	]
}`

func TestVerifySignature(t *testing.T) {
	body := []byte(sampleOrder)
	sig := Sign(body, "wc-secret")

	require.True(t, VerifySignature(body, sig, "wc-secret"))
	require.False(t, VerifySignature(append([]byte{}, append(body, ' ')...), sig, "wc-secret"))
	require.False(t, VerifySignature(body, sig, "other"))
	require.False(t, VerifySignature(body, "", "wc-secret"))
}

func TestIsPing(t *testing.T) {
	require.True(t, IsPing([]byte("webhook_id=12"), ""))
	require.False(t, IsPing([]byte("webhook_id=12"), "order.created"))
	require.False(t, IsPing([]byte(sampleOrder), ""))
}

func TestMapOrder(t *testing.T) {
	order, err := ParseOrder([]byte(sampleOrder))
	require.NoError(t, err)
	seller := uuid.New()

	p, err := MapOrder(order, seller)
	require.NoError(t, err)
	require.Equal(t, seller, p.SellerID)
	require.Equal(t, "Aina Rahman", p.CustomerName)
	require.Equal(t, "0123456789", p.CustomerPhone)
	require.Equal(t, "MY", p.Country)
	require.Equal(t, "SRM-4 + CLN-1", p.SKU)
	require.Equal(t, "881", p.ExternalOrderID)
	require.Equal(t, store.PaymentOnline, p.PaymentMethod)
	require.Equal(t, store.PaymentStatusPaid, p.PaymentStatus)
	require.Equal(t, "129.9", p.TotalPrice.String())
	require.Equal(t, "WooCommerce #881 | Leave at guardhouse", p.Notes)
}

func TestMapOrderCODAndBillingFallback(t *testing.T) {
	order := Order{
		ID:            9,
		Status:        "on-hold",
		PaymentMethod: "cod",
		Billing:       Address{FirstName: "Lim", Address1: "1 Jalan Satu", Postcode: "50000", Phone: "011"},
		LineItems:     []LineItem{{SKU: "SRM", Quantity: 3}},
	}
	p, err := MapOrder(order, uuid.New())
	require.NoError(t, err)
	require.Equal(t, store.PaymentCOD, p.PaymentMethod)
	require.Equal(t, store.PaymentStatusPending, p.PaymentStatus)
	require.Equal(t, "1 Jalan Satu", p.Address1)
	require.Equal(t, "Lim", p.CustomerName)
	require.Equal(t, "SRM-3", p.SKU)
}

func TestMapOrderWithoutSKU(t *testing.T) {
	_, err := MapOrder(Order{ID: 1, LineItems: []LineItem{{Name: "Gift"}}}, uuid.New())
	require.ErrorIs(t, err, ErrNoSKU)
}

func TestImportable(t *testing.T) {
	for _, s := range []string{"processing", "completed", "on-hold", "Processing"} {
		require.True(t, Importable(s), s)
	}
	for _, s := range []string{"pending", "cancelled", "refunded", "failed", ""} {
		require.False(t, Importable(s), s)
	}
}

func TestPaid(t *testing.T) {
	require.True(t, Paid("processing"))
	require.True(t, Paid(" Completed"))
	require.False(t, Paid("on-hold"))
	require.False(t, Paid("pending"))
}
