package handlers

import (
	"net/http"
	"strings"

	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/pkg/response"

	"github.com/google/uuid"
)

type createPaymentRequest struct {
	BundleID string `json:"bundle_id"`
	Quantity int    `json:"quantity"`
	// BuyerID is only honoured for service-role calls.
	BuyerID string `json:"buyer_id"`
}

func (h *Handler) CreateBillplzPayment(w http.ResponseWriter, r *http.Request) {
	h.createPayment(w, r, "billplz")
}

func (h *Handler) CreateBayarCashPayment(w http.ResponseWriter, r *http.Request) {
	h.createPayment(w, r, "bayarcash")
}

func (h *Handler) createPayment(w http.ResponseWriter, r *http.Request, gateway string) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var body createPaymentRequest
	if err := decodeJSON(r, &body); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
		return
	}
	bundleID, err := uuid.Parse(strings.TrimSpace(body.BundleID))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "bundle_id must be a valid id")
		return
	}

	buyerID := actor.UserID
	if actor.System {
		buyerID, err = uuid.Parse(strings.TrimSpace(body.BuyerID))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "buyer_id is required for service calls")
			return
		}
	}

	out, err := h.Payments.CreatePayment(r.Context(), fulfillment.CreatePaymentInput{
		BuyerID:  buyerID,
		BundleID: bundleID,
		Quantity: body.Quantity,
		Gateway:  gateway,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"data":    out,
	})
}

// PublicPaymentStatus backs the payment return page. The status token in the
// query stands in for a login.
func (h *Handler) PublicPaymentStatus(w http.ResponseWriter, r *http.Request) {
	orderNumber := readPathString(r, "orderNumber")
	if orderNumber == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Order number is required")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))

	status, err := h.Payments.PaymentStatus(r.Context(), orderNumber, token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	response.Success(w, status)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderNumber := readPathString(r, "orderNumber")
	if orderNumber == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Order number is required")
		return
	}

	result, err := h.Payments.Verify(r.Context(), actor, orderNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Success(w, map[string]any{
		"state":             result.State,
		"already_processed": result.AlreadyProcessed,
		"order":             fulfillment.StatusOf(result.Order),
		"shortfalls":        result.Shortfalls,
	})
}

func (h *Handler) OrderReceipt(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	orderNumber := readPathString(r, "orderNumber")
	if orderNumber == "" {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Order number is required")
		return
	}

	file, err := h.Payments.Receipt(r.Context(), actor, orderNumber)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Binary(w, "application/pdf", file.Filename, file.PDF)
}
