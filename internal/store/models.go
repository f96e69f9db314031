package store

import (
	"strings"
	"time"

	"distribution-order-services/internal/auth"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// pending_orders.status
const (
	OrderPending   = "pending"
	OrderCompleted = "completed"
	OrderFailed    = "failed"
)

// customer_purchases.delivery_status
const (
	DeliveryPending   = "pending"
	DeliveryShipped   = "shipped"
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
	DeliveryReturned  = "returned"
	DeliveryCancelled = "cancelled"
)

const (
	PaymentCOD      = "cod"
	PaymentOnline   = "online"
	PaymentTransfer = "transfer"

	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"

	PlatformManual      = "manual"
	PlatformWooCommerce = "woocommerce"

	CourierNinjaVan = "ninjavan"
)

// webhook_logs.status
const (
	LogReceived  = "received"
	LogProcessed = "processed"
	LogIgnored   = "ignored"
	LogRejected  = "rejected"
	LogFailed    = "failed"
)

// IsTerminalDelivery reports whether a courier can no longer move the parcel.
func IsTerminalDelivery(status string) bool {
	switch status {
	case DeliveryDelivered, DeliveryReturned, DeliveryCancelled:
		return true
	}
	return false
}

type Profile struct {
	ID            uuid.UUID
	FullName      string
	Email         string
	Phone         string
	Role          auth.UserRole
	UplineID      *uuid.UUID
	BranchID      *uuid.UUID
	MasterAgentID *uuid.UUID
	IsActive      bool
}

type Product struct {
	ID       uuid.UUID
	SKU      string
	Name     string
	WeightKg decimal.Decimal
	IsActive bool
}

type Bundle struct {
	ID               uuid.UUID
	Name             string
	SKU              string
	MasterAgentPrice decimal.Decimal
	AgentPrice       decimal.Decimal
	BranchPrice      decimal.Decimal
	MarketerPrice    decimal.Decimal
	CustomerPrice    decimal.Decimal
	IsActive         bool
}

// PriceFor returns the tier price a buyer with role pays. HQ never buys.
func (b Bundle) PriceFor(role auth.UserRole) (decimal.Decimal, bool) {
	switch role {
	case auth.RoleMasterAgent:
		return b.MasterAgentPrice, true
	case auth.RoleAgent:
		return b.AgentPrice, true
	case auth.RoleBranch:
		return b.BranchPrice, true
	case auth.RoleMarketer:
		return b.MarketerPrice, true
	}
	return decimal.Zero, false
}

type PendingOrder struct {
	ID            uuid.UUID
	OrderNumber   string
	BuyerID       uuid.UUID
	SellerID      uuid.UUID
	BundleID      uuid.UUID
	BundleSKU     string
	Quantity      int
	UnitPrice     decimal.Decimal
	TotalPrice    decimal.Decimal
	Gateway       string
	GatewayRef    string
	PaymentURL    string
	Status        string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

type Transaction struct {
	ID             uuid.UUID
	PendingOrderID uuid.UUID
	OrderNumber    string
	BuyerID        uuid.UUID
	SellerID       uuid.UUID
	BundleID       uuid.UUID
	Quantity       int
	UnitPrice      decimal.Decimal
	TotalPrice     decimal.Decimal
	Gateway        string
	GatewayRef     string
	PaidAt         time.Time
	CreatedAt      time.Time
}

type CustomerPurchase struct {
	ID                uuid.UUID
	OrderNumber       string
	SellerID          uuid.UUID
	CustomerName      string
	CustomerPhone     string
	CustomerEmail     string
	Address1          string
	Address2          string
	Postcode          string
	City              string
	State             string
	Country           string
	BundleID          *uuid.UUID
	SKU               string
	Quantity          int
	TotalPrice        decimal.Decimal
	PaymentMethod     string
	PaymentStatus     string
	Platform          string
	ExternalOrderID   string
	DeliveryStatus    string
	TrackingNumber    string
	Courier           string
	WaybillURL        string
	Notes             string
	InventoryDeducted bool
	ShippedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (p CustomerPurchase) IsCOD() bool {
	return strings.EqualFold(p.PaymentMethod, PaymentCOD)
}

type WooStore struct {
	ID            uuid.UUID
	SellerID      uuid.UUID
	StoreURL      string
	WebhookSecret string
	AutoShip      bool
	IsActive      bool
}

type WebhookLog struct {
	Source    string
	Event     string
	Reference string
	Status    string
	Payload   string
	Error     string
	CreatedAt time.Time
}
