// Package woocommerce verifies WooCommerce order webhooks and maps their
// payloads onto customer purchases.
package woocommerce

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"distribution-order-services/internal/inventory"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/utils"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	HeaderSignature = "X-WC-Webhook-Signature"
	HeaderTopic     = "X-WC-Webhook-Topic"
	HeaderSource    = "X-WC-Webhook-Source"
)

var ErrNoSKU = errors.New("order has no line items with a SKU")

type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Address1  string `json:"address_1"`
	Address2  string `json:"address_2"`
	City      string `json:"city"`
	State     string `json:"state"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

func (a Address) name() string {
	return strings.TrimSpace(strings.TrimSpace(a.FirstName) + " " + strings.TrimSpace(a.LastName))
}

type LineItem struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	SKU       string `json:"sku"`
	Total     string `json:"total"`
}

type Order struct {
	ID            int64      `json:"id"`
	Number        string     `json:"number"`
	Status        string     `json:"status"`
	Currency      string     `json:"currency"`
	Total         string     `json:"total"`
	PaymentMethod string     `json:"payment_method"`
	CustomerNote  string     `json:"customer_note"`
	Billing       Address    `json:"billing"`
	Shipping      Address    `json:"shipping"`
	LineItems     []LineItem `json:"line_items"`
}

func (o Order) ExternalID() string {
	return strconv.FormatInt(o.ID, 10)
}

func ParseOrder(body []byte) (Order, error) {
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return Order{}, fmt.Errorf("decode woocommerce order: %w", err)
	}
	if order.ID == 0 {
		return Order{}, errors.New("woocommerce order id missing")
	}
	return order, nil
}

// VerifySignature checks the base64 HMAC-SHA256 WooCommerce sends over the raw body.
func VerifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// Sign is VerifySignature's counterpart, used when replaying deliveries.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// IsPing reports the delivery WooCommerce sends when a webhook is saved.
func IsPing(body []byte, topic string) bool {
	return strings.TrimSpace(topic) == "" && bytes.HasPrefix(bytes.TrimSpace(body), []byte("webhook_id="))
}

func Importable(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "processing", "completed", "on-hold":
		return true
	}
	return false
}

// Paid reports whether WooCommerce has taken payment for an order in status.
func Paid(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "processing", "completed":
		return true
	}
	return false
}

// CompositeSKU folds the line items into one "SKU-qty + SKU-qty" string.
func CompositeSKU(items []LineItem) (string, error) {
	lines := make([]inventory.Line, 0, len(items))
	for _, item := range items {
		sku := strings.TrimSpace(item.SKU)
		if sku == "" {
			continue
		}
		qty := item.Quantity
		if qty <= 0 {
			qty = 1
		}
		// A store SKU may itself be a bundle ("SRM-2").
		parsed, err := inventory.ParseBundleSKU(sku)
		if err != nil {
			return "", fmt.Errorf("line item %d: %w", item.ID, err)
		}
		lines = append(lines, inventory.Plan(parsed, qty)...)
	}
	if len(lines) == 0 {
		return "", ErrNoSKU
	}
	// Round-trip through the parser so duplicates merge.
	merged, err := inventory.ParseBundleSKU(inventory.FormatBundleSKU(lines))
	if err != nil {
		return "", err
	}
	return inventory.FormatBundleSKU(merged), nil
}

// MapOrder builds the purchase row for sellerID. The caller assigns the
// internal order number.
func MapOrder(order Order, sellerID uuid.UUID) (store.CustomerPurchase, error) {
	sku, err := CompositeSKU(order.LineItems)
	if err != nil {
		return store.CustomerPurchase{}, err
	}

	ship := order.Shipping
	if strings.TrimSpace(ship.Address1) == "" {
		ship = order.Billing
	}
	name := ship.name()
	if name == "" {
		name = order.Billing.name()
	}
	if name == "" {
		name = fmt.Sprintf("WooCommerce customer #%s", orderLabel(order))
	}
	phone := strings.TrimSpace(ship.Phone)
	if phone == "" {
		phone = strings.TrimSpace(order.Billing.Phone)
	}
	country := strings.ToUpper(strings.TrimSpace(ship.Country))
	if country == "" {
		country = "MY"
	}

	total, err := utils.ParseAmount(order.Total)
	if err != nil {
		total = decimal.Zero
	}

	purchase := store.CustomerPurchase{
		SellerID:        sellerID,
		CustomerName:    name,
		CustomerPhone:   phone,
		CustomerEmail:   strings.TrimSpace(order.Billing.Email),
		Address1:        strings.TrimSpace(ship.Address1),
		Address2:        strings.TrimSpace(ship.Address2),
		Postcode:        strings.TrimSpace(ship.Postcode),
		City:            strings.TrimSpace(ship.City),
		State:           strings.TrimSpace(ship.State),
		Country:         country,
		SKU:             sku,
		Quantity:        1,
		TotalPrice:      total,
		Platform:        store.PlatformWooCommerce,
		ExternalOrderID: order.ExternalID(),
		DeliveryStatus:  store.DeliveryPending,
		Notes:           notes(order),
	}

	if strings.EqualFold(order.PaymentMethod, "cod") {
		purchase.PaymentMethod = store.PaymentCOD
		purchase.PaymentStatus = store.PaymentStatusPending
	} else {
		purchase.PaymentMethod = store.PaymentOnline
		purchase.PaymentStatus = store.PaymentStatusPending
		if Paid(order.Status) {
			purchase.PaymentStatus = store.PaymentStatusPaid
		}
	}
	return purchase, nil
}

func orderLabel(order Order) string {
	if strings.TrimSpace(order.Number) != "" {
		return strings.TrimSpace(order.Number)
	}
	return order.ExternalID()
}

func notes(order Order) string {
	parts := []string{"WooCommerce #" + orderLabel(order)}
	if note := strings.TrimSpace(order.CustomerNote); note != "" {
		parts = append(parts, note)
	}
	return strings.Join(parts, " | ")
}
