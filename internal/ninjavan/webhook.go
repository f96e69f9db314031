package ninjavan

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

// Delivery statuses a courier event can move a purchase to.
const (
	DeliveryInTransit = "in_transit"
	DeliveryDelivered = "delivered"
	DeliveryReturned  = "returned"
	DeliveryCancelled = "cancelled"
)

type Event struct {
	TrackingID        string `json:"tracking_id"`
	ShipperOrderRefNo string `json:"shipper_order_ref_no"`
	Status            string `json:"status"`
	PreviousStatus    string `json:"previous_status"`
	Timestamp         string `json:"timestamp"`
	Comments          string `json:"comments"`
}

func VerifyWebhook(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}

// MapStatus translates a NinjaVan order status into a delivery status. The
// second result is false for statuses that do not move the purchase.
func MapStatus(status string) (string, bool) {
	s := strings.ToLower(strings.TrimSpace(status))
	switch {
	case s == "":
		return "", false
	case s == "delivered" || s == "completed" || strings.HasPrefix(s, "delivered,") || s == "successful delivery":
		return DeliveryDelivered, true
	case strings.Contains(s, "returned to sender") || s == "returned":
		return DeliveryReturned, true
	case s == "cancelled" || s == "canceled":
		return DeliveryCancelled, true
	case strings.Contains(s, "pending pickup") || s == "staging" || s == "pending":
		return "", false
	case strings.Contains(s, "pickup"),
		strings.Contains(s, "hub"),
		strings.Contains(s, "transit"),
		strings.Contains(s, "vehicle for delivery"),
		strings.Contains(s, "delivery exception"),
		strings.Contains(s, "return to sender triggered"):
		return DeliveryInTransit, true
	}
	return "", false
}
