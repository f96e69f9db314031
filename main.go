package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"distribution-order-services/internal/bayarcash"
	"distribution-order-services/internal/billplz"
	"distribution-order-services/internal/config"
	"distribution-order-services/internal/db"
	"distribution-order-services/internal/fulfillment"
	httpapi "distribution-order-services/internal/http"
	"distribution-order-services/internal/lock"
	"distribution-order-services/internal/logger"
	"distribution-order-services/internal/ninjavan"
	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/queue"
	"distribution-order-services/internal/storage"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/ws"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log, err := logger.New(cfg.Env)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal("schema migration failed", zap.Error(err))
		}
		log.Info("schema migrated")
	}

	repo := store.NewPostgres(pool)

	gateways := payment.Registry{
		"billplz": billplz.New(billplz.Config{
			BaseURL:       cfg.BillplzBaseURL,
			APIKey:        cfg.BillplzAPIKey,
			XSignatureKey: cfg.BillplzXSignatureKey,
			CollectionID:  cfg.BillplzCollectionID,
			CallbackURL:   cfg.PublicBaseURL + "/api/webhooks/billplz",
			RedirectURL:   cfg.PublicBaseURL + "/api/webhooks/billplz/redirect",
			Timeout:       cfg.HTTPClientTimeout,
		}),
		"bayarcash": bayarcash.New(bayarcash.Config{
			BaseURL:        cfg.BayarCashBaseURL,
			Token:          cfg.BayarCashToken,
			APISecretKey:   cfg.BayarCashAPISecretKey,
			PortalKey:      cfg.BayarCashPortalKey,
			PaymentChannel: cfg.BayarCashChannel,
			CallbackURL:    cfg.PublicBaseURL + "/api/webhooks/bayarcash",
			ReturnURL:      cfg.FrontendBaseURL + "/payment/return",
			Timeout:        cfg.HTTPClientTimeout,
		}),
	}

	courier := ninjavan.New(ninjavan.Config{
		BaseURL:      cfg.NinjaVanBaseURL,
		ClientID:     cfg.NinjaVanClientID,
		ClientSecret: cfg.NinjaVanClientSecret,
		CountryCode:  cfg.NinjaVanCountryCode,
		Timeout:      cfg.HTTPClientTimeout,
	}, repo, log)

	var objects fulfillment.ObjectStore
	if cfg.ObjectStoreEnabled() {
		archive, err := storage.NewObjectStore(ctx, storage.Config{
			Endpoint:        cfg.ObjectStoreEndpoint,
			Region:          cfg.ObjectStoreRegion,
			AccessKeyID:     cfg.ObjectStoreAccessKeyID,
			SecretAccessKey: cfg.ObjectStoreSecretAccessKey,
			Bucket:          cfg.ObjectStoreBucket,
			PublicBaseURL:   cfg.ObjectStorePublicBaseURL,
			StorageClass:    cfg.ObjectStoreStorageClass,
		})
		if err != nil {
			log.Warn("object store unavailable; waybills will not be archived", zap.Error(err))
		} else {
			objects = archive
		}
	} else {
		log.Info("waybill archive disabled (object store not configured)")
	}

	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		redisLock, redisClient, err := lock.NewRedisFromURL(ctx, cfg.RedisURL)
		if err != nil {
			if cfg.IsProduction() {
				log.Fatal("redis connection failed", zap.Error(err))
			}
			log.Warn("redis connection failed; using in-process locks", zap.Error(err))
		} else {
			defer redisClient.Close()
			locker = redisLock
		}
	}

	queueClient := connectQueue(ctx, cfg, log)
	var (
		events fulfillment.EventPublisher
		jobs   fulfillment.ShipmentQueue
	)
	if queueClient != nil {
		defer queueClient.Close()
		events = queueClient
		jobs = queueClient
	}

	payments := fulfillment.NewReconciler(repo, gateways, events, locker, log, fulfillment.ReconcilerConfig{
		StatusTokenSecret: cfg.PaymentStatusTokenSecret,
		Timezone:          cfg.ShipperTimezone,
	})
	shipping := fulfillment.NewShippingService(repo, courier, objects, events, log, fulfillment.ShippingConfig{
		TrackingPrefix:  cfg.NinjaVanTrackingPrefix,
		DefaultWeightKg: cfg.NinjaVanDefaultWeight,
		PickupRequired:  cfg.NinjaVanPickupRequired,
		Timezone:        cfg.ShipperTimezone,
		BulkConcurrency: cfg.BulkShipConcurrency,
		Shipper: ninjavan.Contact{
			Name:        cfg.ShipperName,
			PhoneNumber: cfg.ShipperPhone,
			Email:       cfg.ShipperEmail,
			Address: ninjavan.Address{
				Address1: cfg.ShipperAddress1,
				Address2: cfg.ShipperAddress2,
				City:     cfg.ShipperCity,
				State:    cfg.ShipperState,
				Country:  cfg.ShipperCountry,
				Postcode: cfg.ShipperPostcode,
			},
		},
	})
	ingest := fulfillment.NewIngestor(repo, shipping, jobs, events, log, fulfillment.IngestConfig{
		DefaultSecret: cfg.WooCommerceWebhookSecret,
	})

	if queueClient != nil {
		if cfg.RabbitMQWorkerMode == "daemon" {
			log.Info("shipment worker enabled", zap.String("mode", "daemon"), zap.String("queue", queue.ShipmentJobsQueue))
			go func() {
				err := queueClient.ConsumeWithRetry(ctx, queue.ShipmentJobsQueue, shipping.HandleShipmentJob, 5, 10*time.Second, log)
				if err != nil && ctx.Err() == nil {
					log.Error("shipment worker stopped", zap.Error(err))
				}
			}()
		} else {
			log.Info("shipment worker disabled", zap.String("mode", cfg.RabbitMQWorkerMode))
		}
	}

	wsServer := ws.New(pool, repo, log, ws.Config{
		StatusTokenSecret: cfg.PaymentStatusTokenSecret,
		HeartbeatInterval: cfg.WSHeartbeatInterval,
	})
	wsServer.Start(ctx)

	services := httpapi.Services{Payments: payments, Shipping: shipping, Ingest: ingest}
	apiServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      httpapi.NewRouter(repo, log, cfg, services, wsServer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("order api ready", zap.String("base", "/api"))
		log.Info("payment ws ready", zap.String("path", "/ws/public/payment"))
		log.Info("order service listening", zap.String("addr", cfg.HTTPAddr))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxShutdown); err != nil {
		log.Error("http server shutdown failed", zap.Error(err))
	}
}

// connectQueue dials RabbitMQ and declares the events and shipment job
// topology. Outside production a broker failure only disables the worker.
func connectQueue(ctx context.Context, cfg config.Config, log *zap.Logger) *queue.Client {
	if cfg.RabbitMQURL == "" {
		log.Info("shipment worker disabled (RABBITMQ_URL is empty)")
		return nil
	}

	fail := func(msg string, err error) {
		if cfg.IsProduction() {
			log.Fatal(msg, zap.Error(err))
		}
		log.Warn(msg+"; continuing without broker", zap.Error(err))
	}

	qc, err := queue.New(cfg.RabbitMQURL)
	if err != nil {
		fail("rabbitmq connection failed", err)
		return nil
	}
	if err := queue.EnsureEventsTopology(ctx, qc); err != nil {
		fail("rabbitmq events topology failed", err)
		_ = qc.Close()
		return nil
	}
	if err := queue.EnsureShipmentJobsTopology(ctx, qc); err != nil {
		fail("rabbitmq shipment_jobs topology failed", err)
		_ = qc.Close()
		return nil
	}
	log.Info("rabbitmq enabled", zap.String("exchange", queue.EventsExchange), zap.String("jobs", queue.ShipmentJobsQueue))
	return qc
}
