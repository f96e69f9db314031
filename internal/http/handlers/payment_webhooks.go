package handlers

import (
	"errors"
	"net/http"
	"net/url"

	"distribution-order-services/internal/bayarcash"
	"distribution-order-services/internal/billplz"
	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/utils"
	"distribution-order-services/pkg/response"

	"go.uber.org/zap"
)

var (
	errBadSignature = errors.New("signature mismatch")
	errBadChecksum  = errors.New("checksum mismatch")
)

// BillplzCallback handles the server-to-server bill callback. The form is
// only used to find the bill; the paid state comes from the Billplz API.
func (h *Handler) BillplzCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid form body")
		return
	}
	form := r.PostForm
	cb := billplz.ParseCallback(form)
	payload := []byte(form.Encode())

	if !billplz.VerifySignature(form, h.Config.BillplzXSignatureKey) {
		h.logWebhook(ctx, "billplz", "callback", cb.ID, webhookRejected, payload, errBadSignature)
		response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid X-Signature")
		return
	}
	if cb.ID == "" {
		h.logWebhook(ctx, "billplz", "callback", "", webhookRejected, payload, errMissingParam)
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Bill id is required")
		return
	}

	result, err := h.Payments.Reconcile(ctx, "billplz", cb.ID, "")
	if err != nil {
		h.logWebhook(ctx, "billplz", "callback", cb.ID, webhookStatusFor(err), payload, err)
		h.writeError(w, r, err)
		return
	}
	status := webhookProcessed
	if result.AlreadyProcessed {
		status = webhookIgnored
	}
	h.logWebhook(ctx, "billplz", "callback", cb.ID, status, payload, nil)
	response.Success(w, reconcileView(result))
}

// BillplzRedirect is where the payer's browser lands after the bill page. It
// reconciles and forwards to the frontend return page with a status token.
func (h *Handler) BillplzRedirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	cb := billplz.ParseRedirect(query)
	payload := []byte(query.Encode())

	if !billplz.VerifySignature(query, h.Config.BillplzXSignatureKey) {
		h.logWebhook(ctx, "billplz", "redirect", cb.ID, webhookRejected, payload, errBadSignature)
		response.Error(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid X-Signature")
		return
	}

	result, err := h.Payments.Reconcile(ctx, "billplz", cb.ID, "")
	if err != nil {
		h.logWebhook(ctx, "billplz", "redirect", cb.ID, webhookStatusFor(err), payload, err)
		h.Logger.Warn("billplz redirect reconcile failed", zap.String("bill_id", cb.ID), zap.Error(err))
		http.Redirect(w, r, h.returnURL("", "error"), http.StatusFound)
		return
	}
	h.logWebhook(ctx, "billplz", "redirect", cb.ID, webhookProcessed, payload, nil)
	http.Redirect(w, r, h.returnURL(result.Order.OrderNumber, string(result.State)), http.StatusFound)
}

func (h *Handler) returnURL(orderNumber, status string) string {
	params := url.Values{}
	params.Set("status", status)
	if orderNumber != "" {
		params.Set("orderNumber", orderNumber)
		params.Set("token", utils.CreatePaymentStatusToken(h.Config.PaymentStatusTokenSecret, orderNumber))
	}
	return h.Config.FrontendBaseURL + "/payment/return?" + params.Encode()
}

// BayarCashCallback handles pre-transaction and transaction callbacks.
// Pre-transaction notices carry no outcome and are only logged.
func (h *Handler) BayarCashCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid form body")
		return
	}
	form := r.PostForm
	cb := bayarcash.ParseCallback(form)
	payload := []byte(form.Encode())
	event := cb.RecordType
	if event == "" {
		event = "transaction"
	}

	if !bayarcash.VerifyCallbackChecksum(cb, h.Config.BayarCashAPISecretKey) {
		h.logWebhook(ctx, "bayarcash", event, cb.OrderNumber, webhookRejected, payload, errBadChecksum)
		response.Error(w, http.StatusUnauthorized, "INVALID_CHECKSUM", "Invalid checksum")
		return
	}
	if cb.IsPreTransaction() {
		h.logWebhook(ctx, "bayarcash", event, cb.OrderNumber, webhookIgnored, payload, nil)
		response.Success(w, map[string]any{"status": "ignored"})
		return
	}

	result, err := h.Payments.Reconcile(ctx, "bayarcash", cb.TransactionID, cb.OrderNumber)
	if err != nil {
		h.logWebhook(ctx, "bayarcash", event, cb.OrderNumber, webhookStatusFor(err), payload, err)
		h.writeError(w, r, err)
		return
	}
	status := webhookProcessed
	if result.AlreadyProcessed {
		status = webhookIgnored
	}
	h.logWebhook(ctx, "bayarcash", event, cb.OrderNumber, status, payload, nil)
	response.Success(w, reconcileView(result))
}

func reconcileView(result fulfillment.ReconcileResult) map[string]any {
	return map[string]any{
		"state":             result.State,
		"already_processed": result.AlreadyProcessed,
		"order_number":      result.Order.OrderNumber,
	}
}
