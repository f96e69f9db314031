package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/middleware"
	"distribution-order-services/internal/store"
	"distribution-order-services/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Webhook log outcomes.
const (
	webhookProcessed = "processed"
	webhookIgnored   = "ignored"
	webhookRejected  = "rejected"
	webhookFailed    = "failed"
)

var errMissingParam = errors.New("missing param")

func readPathString(r *http.Request, key string) string {
	return strings.TrimSpace(chi.URLParam(r, key))
}

func readPathUUID(r *http.Request, key string) (uuid.UUID, error) {
	value := readPathString(r, key)
	if value == "" {
		return uuid.Nil, errMissingParam
	}
	return uuid.Parse(value)
}

func decodeJSON(r *http.Request, out any) error {
	err := json.NewDecoder(r.Body).Decode(out)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
}

// requireActor turns the auth context into a service actor. A missing
// context means the route was mounted without UserAuth.
func requireActor(w http.ResponseWriter, r *http.Request) (fulfillment.Actor, bool) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok || ac == nil {
		response.Error(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
		return fulfillment.Actor{}, false
	}
	if ac.Service {
		return fulfillment.SystemActor(), true
	}
	return fulfillment.Actor{UserID: ac.UserID, Role: ac.Role}, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	fe := fulfillment.AsError(err)
	if fe.Status >= http.StatusInternalServerError {
		h.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.String("code", fe.Code),
			zap.Error(err),
		)
	}
	response.Error(w, fe.Status, fe.Code, fe.Message)
}

func (h *Handler) logWebhook(ctx context.Context, source, event, reference, status string, payload []byte, cause error) {
	if h.Webhooks == nil {
		return
	}
	entry := store.WebhookLog{
		Source:    source,
		Event:     event,
		Reference: reference,
		Status:    status,
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := h.Webhooks.LogWebhook(ctx, entry); err != nil {
		h.Logger.Warn("webhook log insert failed",
			zap.String("source", source),
			zap.String("reference", reference),
			zap.Error(err),
		)
	}
}

// webhookStatusFor picks the log outcome for a handler error.
func webhookStatusFor(err error) string {
	if err == nil {
		return webhookProcessed
	}
	if fulfillment.IsRejection(err) {
		return webhookRejected
	}
	return webhookFailed
}
