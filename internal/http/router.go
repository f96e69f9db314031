package httpapi

import (
	"net/http"

	"distribution-order-services/internal/config"
	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/http/handlers"
	"distribution-order-services/internal/middleware"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Services are the domain entry points the routes call into.
type Services struct {
	Payments *fulfillment.Reconciler
	Shipping *fulfillment.ShippingService
	Ingest   *fulfillment.Ingestor
}

func NewRouter(repo store.Repository, logger *zap.Logger, cfg config.Config, svc Services, wsServer *ws.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Telemetry(logger))

	if cfg.Env == "development" || len(cfg.CorsAllowedOrigins) > 0 {
		options := cors.Options{
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"X-Request-Id",
				"Apikey",
				"X-Client-Info",
			},
			ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
			AllowCredentials: true,
			MaxAge:           300,
		}

		if cfg.Env == "development" {
			options.AllowOriginFunc = func(_ *http.Request, origin string) bool {
				return true
			}
		} else {
			options.AllowedOrigins = cfg.CorsAllowedOrigins
		}

		r.Use(cors.Handler(options))
	}

	h := &handlers.Handler{
		Logger:   logger,
		Config:   cfg,
		Webhooks: repo,
		Payments: svc.Payments,
		Shipping: svc.Shipping,
		Ingest:   svc.Ingest,
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/payments/{orderNumber}", h.PublicPaymentStatus)
	})

	r.Route("/api/webhooks", func(r chi.Router) {
		r.Use(setResponseHeader("Cache-Control", "no-store"))
		r.Post("/billplz", h.BillplzCallback)
		r.Get("/billplz/redirect", h.BillplzRedirect)
		r.Post("/bayarcash", h.BayarCashCallback)
		r.Post("/ninjavan", h.NinjaVanWebhook)
		r.Post("/woocommerce/{storeId}", h.WooCommerceWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.ServiceRoleKey))
		r.Use(middleware.UserAuth(repo, cfg.SupabaseJWTSecret, logger))

		r.Post("/api/payments/billplz", h.CreateBillplzPayment)
		r.Post("/api/payments/bayarcash", h.CreateBayarCashPayment)
		r.Post("/api/payments/{orderNumber}/verify", h.VerifyPayment)
		r.Get("/api/orders/{orderNumber}/receipt", h.OrderReceipt)

		r.Route("/api/shipments", func(r chi.Router) {
			r.Post("/", h.CreateShipment)
			r.Post("/bulk", h.BulkShip)
			r.Get("/manifest", h.ShipmentManifest)
			r.Post("/{purchaseId}/cancel", h.CancelShipment)
			r.Get("/{trackingNumber}/waybill", h.ShipmentWaybill)
		})
	})

	// Scheduled sweeps re-check stale pending orders through here.
	r.Route("/api/internal", func(r chi.Router) {
		r.Use(middleware.ServiceAuth(cfg.ServiceRoleKey))
		r.Use(middleware.RequireService())
		r.Post("/payments/{orderNumber}/reconcile", h.VerifyPayment)
	})

	if wsServer != nil {
		r.Get("/ws/public/payment", wsServer.PaymentWS)
	}

	return r
}

func setResponseHeader(name string, value string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(name, value)
			next.ServeHTTP(w, r)
		})
	}
}
