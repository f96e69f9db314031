package handlers

import (
	"net/http"
	"strings"

	"distribution-order-services/pkg/response"

	"github.com/google/uuid"
)

type createShipmentRequest struct {
	PurchaseID string `json:"purchase_id"`
}

type bulkShipRequest struct {
	PurchaseIDs []string `json:"purchase_ids"`
}

func (h *Handler) CreateShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body createShipmentRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	purchaseID, err := uuid.Parse(strings.TrimSpace(body.PurchaseID))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "purchase_id must be a valid id")
		return
	}

	shipment, err := h.Shipping.CreateShipment(r.Context(), actor, purchaseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if shipment.Existing {
		status = http.StatusOK
	}
	response.JSON(w, status, map[string]any{
		"success": true,
		"data":    shipment,
	})
}

// BulkShip books many purchases at once. Per-purchase failures are reported
// in the body; the request itself still succeeds.
func (h *Handler) BulkShip(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body bulkShipRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	ids := make([]uuid.UUID, 0, len(body.PurchaseIDs))
	for _, raw := range body.PurchaseIDs {
		id, err := uuid.Parse(strings.TrimSpace(raw))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "purchase_ids must be valid ids")
			return
		}
		ids = append(ids, id)
	}

	result, err := h.Shipping.BulkShip(r.Context(), actor, ids)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, result)
}

func (h *Handler) CancelShipment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	purchaseID, err := readPathUUID(r, "purchaseId")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid purchase id")
		return
	}

	shipment, err := h.Shipping.CancelShipment(r.Context(), actor, purchaseID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, shipment)
}

// ShipmentWaybill streams the airway bill PDF. With ?format=url the archived
// link is returned instead.
func (h *Handler) ShipmentWaybill(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	tracking := readPathString(r, "trackingNumber")

	waybill, err := h.Shipping.Waybill(r.Context(), actor, tracking)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if r.URL.Query().Get("format") == "url" && waybill.URL != "" {
		response.Success(w, map[string]any{
			"tracking_number": waybill.TrackingNumber,
			"url":             waybill.URL,
		})
		return
	}
	response.Binary(w, "application/pdf", "waybill-"+waybill.TrackingNumber+".pdf", waybill.PDF)
}

func (h *Handler) ShipmentManifest(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	body, err := h.Shipping.Manifest(r.Context(), actor, date)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filename := "pickup-manifest.xlsx"
	if date != "" {
		filename = "pickup-manifest-" + date + ".xlsx"
	}
	response.Binary(w, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", filename, body)
}
