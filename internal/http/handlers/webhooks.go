package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/ninjavan"
	"distribution-order-services/internal/woocommerce"
	"distribution-order-services/pkg/response"
)

const ninjaVanSignatureHeader = "X-Ninjavan-Hmac-Sha256"

// NinjaVanWebhook applies courier status pushes to the matching purchase.
// Unknown tracking numbers are acknowledged so NinjaVan stops retrying.
func (h *Handler) NinjaVanWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}

	if !ninjavan.VerifyWebhook(body, r.Header.Get(ninjaVanSignatureHeader), h.Config.NinjaVanClientSecret) {
		h.logWebhook(ctx, "ninjavan", "status", "", webhookRejected, body, errBadSignature)
		response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid webhook signature")
		return
	}

	var event ninjavan.Event
	if err := json.Unmarshal(body, &event); err != nil || strings.TrimSpace(event.TrackingID) == "" {
		h.logWebhook(ctx, "ninjavan", "status", "", webhookRejected, body, errors.New("malformed event"))
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "tracking_id is required")
		return
	}

	update, err := h.Shipping.ApplyCourierStatus(ctx, event.TrackingID, event.Status)
	if err != nil {
		if fulfillment.AsError(err).Status == http.StatusNotFound {
			h.logWebhook(ctx, "ninjavan", event.Status, event.TrackingID, webhookIgnored, body, err)
			response.Success(w, map[string]any{"status": "ignored"})
			return
		}
		h.logWebhook(ctx, "ninjavan", event.Status, event.TrackingID, webhookFailed, body, err)
		h.writeError(w, r, err)
		return
	}

	status := webhookProcessed
	if !update.Changed {
		status = webhookIgnored
	}
	h.logWebhook(ctx, "ninjavan", event.Status, event.TrackingID, status, body, nil)
	response.Success(w, update)
}

// WooCommerceWebhook imports an order pushed by a connected store.
func (h *Handler) WooCommerceWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	storeID, err := readPathUUID(r, "storeId")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid store id")
		return
	}
	body, err := readBody(r)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	topic := strings.TrimSpace(r.Header.Get(woocommerce.HeaderTopic))
	event := topic
	if event == "" {
		event = "ping"
	}

	out, err := h.Ingest.HandleWooCommerce(ctx, fulfillment.WooDelivery{
		StoreID:   storeID,
		Topic:     topic,
		Signature: r.Header.Get(woocommerce.HeaderSignature),
		Body:      body,
	})
	if err != nil {
		h.logWebhook(ctx, "woocommerce", event, storeID.String(), webhookStatusFor(err), body, err)
		h.writeError(w, r, err)
		return
	}

	status := webhookIgnored
	reference := storeID.String()
	if out.OrderNumber != "" {
		reference = out.OrderNumber
	}
	var cause error
	if out.Status == fulfillment.IngestImported {
		status = webhookProcessed
		if out.ShipmentError != "" {
			cause = errors.New(out.ShipmentError)
		}
	}
	h.logWebhook(ctx, "woocommerce", event, reference, status, body, cause)
	response.Success(w, out)
}
