package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	AutoMigrate              bool
	SupabaseJWTSecret        string
	ServiceRoleKey           string
	PaymentStatusTokenSecret string
	PublicBaseURL            string
	FrontendBaseURL          string
	CorsAllowedOrigins       []string
	HTTPClientTimeout        time.Duration
	WSHeartbeatInterval      time.Duration
	BulkShipConcurrency      int

	BillplzAPIKey        string
	BillplzXSignatureKey string
	BillplzCollectionID  string
	BillplzBaseURL       string

	BayarCashToken        string
	BayarCashAPISecretKey string
	BayarCashPortalKey    string
	BayarCashChannel      int
	BayarCashBaseURL      string

	NinjaVanClientID       string
	NinjaVanClientSecret   string
	NinjaVanBaseURL        string
	NinjaVanCountryCode    string
	NinjaVanTrackingPrefix string
	NinjaVanPickupRequired bool
	NinjaVanDefaultWeight  float64
	ShipperName            string
	ShipperPhone           string
	ShipperEmail           string
	ShipperAddress1        string
	ShipperAddress2        string
	ShipperPostcode        string
	ShipperCity            string
	ShipperState           string
	ShipperCountry         string
	ShipperTimezone        string

	WooCommerceWebhookSecret string

	RabbitMQURL        string
	RabbitMQWorkerMode string
	RedisURL           string

	ObjectStoreEndpoint        string
	ObjectStoreRegion          string
	ObjectStoreAccessKeyID     string
	ObjectStoreSecretAccessKey string
	ObjectStoreBucket          string
	ObjectStorePublicBaseURL   string
	ObjectStoreStorageClass    string
}

func Load() Config {
	cfg := Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8086"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		AutoMigrate:              getEnvBool("AUTO_MIGRATE", false),
		SupabaseJWTSecret:        getEnv("SUPABASE_JWT_SECRET", ""),
		ServiceRoleKey:           getEnv("SERVICE_ROLE_KEY", ""),
		PaymentStatusTokenSecret: getEnv("PAYMENT_STATUS_TOKEN_SECRET", "dev-insecure-payment-status-secret"),
		PublicBaseURL:            strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8086"), "/"),
		FrontendBaseURL:          strings.TrimRight(getEnv("FRONTEND_BASE_URL", "http://localhost:5173"), "/"),
		CorsAllowedOrigins:       splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
		HTTPClientTimeout:        getEnvDuration("HTTP_CLIENT_TIMEOUT", 20*time.Second),
		WSHeartbeatInterval:      getEnvDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		BulkShipConcurrency:      int(getEnvInt64("BULK_SHIP_CONCURRENCY", 5)),

		BillplzAPIKey:        getEnv("BILLPLZ_API_KEY", ""),
		BillplzXSignatureKey: getEnv("BILLPLZ_X_SIGNATURE_KEY", ""),
		BillplzCollectionID:  getEnv("BILLPLZ_COLLECTION_ID", ""),
		BillplzBaseURL:       getEnv("BILLPLZ_BASE_URL", "https://www.billplz-sandbox.com"),

		BayarCashToken:        getEnv("BAYARCASH_API_TOKEN", ""),
		BayarCashAPISecretKey: getEnv("BAYARCASH_API_SECRET_KEY", ""),
		BayarCashPortalKey:    getEnv("BAYARCASH_PORTAL_KEY", ""),
		BayarCashChannel:      int(getEnvInt64("BAYARCASH_PAYMENT_CHANNEL", 1)),
		BayarCashBaseURL:      getEnv("BAYARCASH_BASE_URL", "https://console.bayarcash-sandbox.com/api/v2"),

		NinjaVanClientID:       getEnv("NINJAVAN_CLIENT_ID", ""),
		NinjaVanClientSecret:   getEnv("NINJAVAN_CLIENT_SECRET", ""),
		NinjaVanBaseURL:        getEnv("NINJAVAN_BASE_URL", "https://api-sandbox.ninjavan.co"),
		NinjaVanCountryCode:    strings.ToLower(getEnv("NINJAVAN_COUNTRY_CODE", "sg")),
		NinjaVanTrackingPrefix: getEnv("NINJAVAN_TRACKING_PREFIX", "DMS"),
		NinjaVanPickupRequired: getEnvBool("NINJAVAN_PICKUP_REQUIRED", true),
		NinjaVanDefaultWeight:  getEnvFloat("NINJAVAN_DEFAULT_WEIGHT_KG", 1),
		ShipperName:            getEnv("SHIPPER_NAME", ""),
		ShipperPhone:           getEnv("SHIPPER_PHONE", ""),
		ShipperEmail:           getEnv("SHIPPER_EMAIL", ""),
		ShipperAddress1:        getEnv("SHIPPER_ADDRESS_1", ""),
		ShipperAddress2:        getEnv("SHIPPER_ADDRESS_2", ""),
		ShipperPostcode:        getEnv("SHIPPER_POSTCODE", ""),
		ShipperCity:            getEnv("SHIPPER_CITY", ""),
		ShipperState:           getEnv("SHIPPER_STATE", ""),
		ShipperCountry:         strings.ToUpper(getEnv("SHIPPER_COUNTRY", "MY")),
		ShipperTimezone:        getEnv("SHIPPER_TIMEZONE", "Asia/Kuala_Lumpur"),

		WooCommerceWebhookSecret: getEnv("WOOCOMMERCE_WEBHOOK_SECRET", ""),

		RabbitMQURL:        getEnv("RABBITMQ_URL", ""),
		RabbitMQWorkerMode: getEnv("RABBITMQ_WORKER_MODE", "daemon"),
		RedisURL:           getEnv("REDIS_URL", ""),

		// Object store (Cloudflare R2 / S3-compatible) for waybill archives
		ObjectStoreEndpoint:        getEnvFirst([]string{"OBJECT_STORE_ENDPOINT", "R2_S3_ENDPOINT"}, ""),
		ObjectStoreRegion:          getEnvFirst([]string{"OBJECT_STORE_REGION", "R2_REGION"}, "auto"),
		ObjectStoreAccessKeyID:     getEnvFirst([]string{"OBJECT_STORE_ACCESS_KEY_ID", "R2_ACCESS_KEY_ID"}, ""),
		ObjectStoreSecretAccessKey: getEnvFirst([]string{"OBJECT_STORE_SECRET_ACCESS_KEY", "R2_SECRET_ACCESS_KEY"}, ""),
		ObjectStoreBucket:          getEnvFirst([]string{"OBJECT_STORE_BUCKET", "R2_BUCKET"}, ""),
		ObjectStorePublicBaseURL:   getEnvFirst([]string{"OBJECT_STORE_PUBLIC_BASE_URL", "R2_PUBLIC_BASE_URL"}, ""),
		ObjectStoreStorageClass:    getEnvFirst([]string{"OBJECT_STORE_STORAGE_CLASS", "R2_STORAGE_CLASS"}, "STANDARD"),
	}

	if cfg.BulkShipConcurrency <= 0 {
		cfg.BulkShipConcurrency = 5
	}
	if cfg.NinjaVanDefaultWeight <= 0 {
		cfg.NinjaVanDefaultWeight = 1
	}

	return cfg
}

// ObjectStoreEnabled reports whether waybills can be archived.
func (c Config) ObjectStoreEnabled() bool {
	return c.ObjectStoreEndpoint != "" && c.ObjectStoreBucket != "" && c.ObjectStorePublicBaseURL != ""
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvFirst(keys []string, fallback string) string {
	for _, k := range keys {
		value := strings.TrimSpace(os.Getenv(k))
		if value != "" {
			return value
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
