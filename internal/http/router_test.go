package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"distribution-order-services/internal/auth"
	"distribution-order-services/internal/billplz"
	"distribution-order-services/internal/config"
	"distribution-order-services/internal/fulfillment"
	"distribution-order-services/internal/ninjavan"
	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/store"
	"distribution-order-services/internal/woocommerce"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	jwtSecret      = "jwt-secret"
	serviceKey     = "service-role-key"
	xSignatureKey  = "billplz-x-signature"
	ninjaVanSecret = "ninjavan-client-secret"
	wooSecret      = "woo-secret"
)

type stubGateway struct {
	mu     sync.Mutex
	result payment.Result
}

func (g *stubGateway) Name() string { return "billplz" }

func (g *stubGateway) CreatePayment(_ context.Context, req payment.Request) (payment.Session, error) {
	return payment.Session{Ref: "bill-" + req.OrderNumber, URL: "https://pay.example/" + req.OrderNumber}, nil
}

func (g *stubGateway) FetchStatus(context.Context, string, string) (payment.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.result, nil
}

func (g *stubGateway) settle(result payment.Result) {
	g.mu.Lock()
	g.result = result
	g.mu.Unlock()
}

type stubCourier struct {
	mu     sync.Mutex
	booked int
}

func (c *stubCourier) CreateOrder(_ context.Context, order ninjavan.OrderRequest) (ninjavan.OrderResponse, error) {
	c.mu.Lock()
	c.booked++
	c.mu.Unlock()
	return ninjavan.OrderResponse{TrackingNumber: order.RequestedTrackingNumber}, nil
}

func (c *stubCourier) CancelOrder(_ context.Context, tracking string) (ninjavan.CancelResult, error) {
	return ninjavan.CancelResult{TrackingNumber: tracking}, nil
}

func (c *stubCourier) Waybill(context.Context, string) ([]byte, error) {
	return []byte("%PDF-1.4"), nil
}

type testAPI struct {
	handler  http.Handler
	repo     *store.Memory
	gateway  *stubGateway
	courier  *stubCourier
	agent    store.Profile
	marketer store.Profile
	bundle   store.Bundle
	woo      store.WooStore
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo := store.NewMemory()
	hq := store.Profile{ID: uuid.New(), FullName: "HQ", Role: auth.RoleHQ, IsActive: true}
	agent := store.Profile{ID: uuid.New(), FullName: "Aina", Role: auth.RoleAgent, UplineID: &hq.ID, IsActive: true}
	marketer := store.Profile{ID: uuid.New(), FullName: "Mira", Email: "mira@example.com", Role: auth.RoleMarketer, UplineID: &agent.ID, IsActive: true}
	for _, p := range []store.Profile{hq, agent, marketer} {
		repo.AddProfile(p)
	}
	serum := store.Product{ID: uuid.New(), SKU: "SRM", Name: "Serum", IsActive: true}
	repo.AddProduct(serum)
	bundle := store.Bundle{
		ID:            uuid.New(),
		Name:          "Serum Duo",
		SKU:           "SRM-2",
		AgentPrice:    decimal.RequireFromString("40"),
		MarketerPrice: decimal.RequireFromString("45.50"),
		CustomerPrice: decimal.RequireFromString("60"),
		IsActive:      true,
	}
	repo.AddBundle(bundle)
	repo.SetInventory(agent.ID, serum.ID, 20)
	woo := store.WooStore{ID: uuid.New(), SellerID: agent.ID, StoreURL: "https://shop.example", WebhookSecret: wooSecret, IsActive: true}
	repo.AddWooStore(woo)

	cfg := config.Config{
		Env:                      "test",
		SupabaseJWTSecret:        jwtSecret,
		ServiceRoleKey:           serviceKey,
		PaymentStatusTokenSecret: "status-secret",
		FrontendBaseURL:          "https://app.example",
		BillplzXSignatureKey:     xSignatureKey,
		NinjaVanClientSecret:     ninjaVanSecret,
	}
	gateway := &stubGateway{result: payment.Result{State: payment.StatePending}}
	courier := &stubCourier{}
	logger := zap.NewNop()

	payments := fulfillment.NewReconciler(repo, payment.Registry{"billplz": gateway}, nil, nil, logger, fulfillment.ReconcilerConfig{
		StatusTokenSecret: cfg.PaymentStatusTokenSecret,
	})
	shipping := fulfillment.NewShippingService(repo, courier, nil, nil, logger, fulfillment.ShippingConfig{
		TrackingPrefix:  "DMS",
		DefaultWeightKg: 1,
		Timezone:        "Asia/Kuala_Lumpur",
	})
	ingest := fulfillment.NewIngestor(repo, shipping, nil, nil, logger, fulfillment.IngestConfig{})

	return &testAPI{
		handler:  NewRouter(repo, logger, cfg, Services{Payments: payments, Shipping: shipping, Ingest: ingest}, nil),
		repo:     repo,
		gateway:  gateway,
		courier:  courier,
		agent:    agent,
		marketer: marketer,
		bundle:   bundle,
		woo:      woo,
	}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, p store.Profile) string {
	t.Helper()
	token, err := auth.IssueAccessToken(jwtSecret, p.ID.String(), p.Email, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func lastLog(t *testing.T, repo *store.Memory) store.WebhookLog {
	t.Helper()
	logs := repo.WebhookLogs()
	require.NotEmpty(t, logs)
	return logs[len(logs)-1]
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(httptest.NewRequest(http.MethodPost, "/api/shipments", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decode(t, rec).Code)

	req := httptest.NewRequest(http.MethodPost, "/api/payments/billplz", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
}

func TestBillplzPaymentLifecycle(t *testing.T) {
	api := newTestAPI(t)

	body := `{"bundle_id":"` + api.bundle.ID.String() + `","quantity":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/billplz", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, api.marketer))
	rec := api.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created fulfillment.CreatePaymentOutput
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.True(t, created.TotalPrice.Equal(decimal.RequireFromString("91")))
	require.NotEmpty(t, created.StatusToken)

	statusURL := "/api/public/payments/" + created.OrderNumber + "?token=" + url.QueryEscape(created.StatusToken)
	rec = api.do(httptest.NewRequest(http.MethodGet, statusURL, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var status fulfillment.PaymentStatus
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &status))
	assert.Equal(t, store.OrderPending, status.Status)

	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/public/payments/"+created.OrderNumber+"?token=forged", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// unsigned callback is refused and logged
	form := url.Values{"id": {"bill-" + created.OrderNumber}, "paid": {"true"}, "x_signature": {"deadbeef"}}
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/billplz", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
	assert.Equal(t, "rejected", lastLog(t, api.repo).Status)

	paidAt := time.Date(2026, 5, 4, 2, 0, 0, 0, time.UTC)
	api.gateway.settle(payment.Result{State: payment.StatePaid, Ref: "bill-" + created.OrderNumber, Amount: created.TotalPrice, PaidAt: &paidAt})

	form = url.Values{"id": {"bill-" + created.OrderNumber}, "paid": {"true"}, "state": {"paid"}}
	form.Set("x_signature", billplz.Sign(form, xSignatureKey))
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/billplz", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "processed", lastLog(t, api.repo).Status)

	order, err := api.repo.GetPendingOrderByNumber(context.Background(), created.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, store.OrderCompleted, order.Status)

	// a replayed callback changes nothing
	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/billplz", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.Equal(t, http.StatusOK, api.do(req).Code)
	assert.Equal(t, "ignored", lastLog(t, api.repo).Status)
	assert.Len(t, api.repo.Transactions(), 1)

	req = httptest.NewRequest(http.MethodGet, "/api/orders/"+created.OrderNumber+"/receipt", nil)
	req.Header.Set("Authorization", bearer(t, api.marketer))
	rec = api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
}

func TestBillplzRedirectCarriesStatusToken(t *testing.T) {
	api := newTestAPI(t)

	body := `{"bundle_id":"` + api.bundle.ID.String() + `","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/billplz", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, api.marketer))
	rec := api.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created fulfillment.CreatePaymentOutput
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))

	query := url.Values{"billplz[id]": {"bill-" + created.OrderNumber}, "billplz[paid]": {"false"}}
	query.Set("billplz[x_signature]", billplz.Sign(query, xSignatureKey))
	rec = api.do(httptest.NewRequest(http.MethodGet, "/api/webhooks/billplz/redirect?"+query.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "app.example", location.Host)
	assert.Equal(t, created.OrderNumber, location.Query().Get("orderNumber"))
	assert.Equal(t, "pending", location.Query().Get("status"))
	assert.NotEmpty(t, location.Query().Get("token"))
}

func TestServiceKeyBooksShipment(t *testing.T) {
	api := newTestAPI(t)
	purchase := store.CustomerPurchase{
		SellerID:      api.agent.ID,
		OrderNumber:   "CP-ROUTER-1",
		CustomerName:  "Siti",
		CustomerPhone: "60111111111",
		Address1:      "12 Jalan Mawar",
		Postcode:      "50450",
		City:          "Kuala Lumpur",
		State:         "WP",
		Country:       "MY",
		SKU:           "SRM-2",
		Quantity:      1,
		TotalPrice:    decimal.RequireFromString("60"),
		PaymentMethod: store.PaymentOnline,
		PaymentStatus: store.PaymentStatusPaid,
		Platform:      store.PlatformManual,
	}
	require.NoError(t, api.repo.InsertPurchase(context.Background(), &purchase))

	req := httptest.NewRequest(http.MethodPost, "/api/shipments", strings.NewReader(`{"purchase_id":"`+purchase.ID.String()+`"}`))
	req.Header.Set("Authorization", "Bearer "+serviceKey)
	rec := api.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var shipment fulfillment.Shipment
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &shipment))
	assert.True(t, strings.HasPrefix(shipment.TrackingNumber, "DMS"))
	assert.Equal(t, 1, api.courier.booked)

	// the marketer does not own this purchase
	req = httptest.NewRequest(http.MethodPost, "/api/shipments/"+purchase.ID.String()+"/cancel", nil)
	req.Header.Set("Authorization", bearer(t, api.marketer))
	assert.Equal(t, http.StatusForbidden, api.do(req).Code)

	req = httptest.NewRequest(http.MethodGet, "/api/shipments/"+shipment.TrackingNumber+"/waybill", nil)
	req.Header.Set("Authorization", bearer(t, api.agent))
	rec = api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "%PDF-1.4", rec.Body.String())
}

func ninjaVanSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestNinjaVanWebhook(t *testing.T) {
	api := newTestAPI(t)
	body := []byte(`{"tracking_id":"DMS-UNKNOWN","status":"Delivered"}`)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/ninjavan", strings.NewReader(string(body)))
	req.Header.Set("X-Ninjavan-Hmac-Sha256", "bogus")
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
	assert.Equal(t, "rejected", lastLog(t, api.repo).Status)

	req = httptest.NewRequest(http.MethodPost, "/api/webhooks/ninjavan", strings.NewReader(string(body)))
	req.Header.Set("X-Ninjavan-Hmac-Sha256", ninjaVanSignature(body, ninjaVanSecret))
	rec := api.do(req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := lastLog(t, api.repo)
	assert.Equal(t, "ignored", entry.Status)
	assert.Equal(t, "DMS-UNKNOWN", entry.Reference)
}

func TestWooCommerceWebhookWritesLog(t *testing.T) {
	api := newTestAPI(t)
	body := []byte(`{"id": 901, "status": "processing", "total": "60.00", "payment_method": "bacs",
		"billing": {"first_name": "Siti", "last_name": "A", "phone": "60111111111", "address_1": "12 Jalan Mawar",
			"city": "Kuala Lumpur", "state": "WP", "postcode": "50450", "country": "MY"},
		"line_items": [{"id": 1, "sku": "SRM-2", "quantity": 1}]}`)
	path := "/api/webhooks/woocommerce/" + api.woo.ID.String()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set(woocommerce.HeaderTopic, "order.created")
	req.Header.Set(woocommerce.HeaderSignature, woocommerce.Sign(body, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)
	assert.Equal(t, "rejected", lastLog(t, api.repo).Status)

	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body)))
	req.Header.Set(woocommerce.HeaderTopic, "order.created")
	req.Header.Set(woocommerce.HeaderSignature, woocommerce.Sign(body, wooSecret))
	rec := api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out fulfillment.IngestOutcome
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &out))
	assert.Equal(t, fulfillment.IngestImported, out.Status)
	entry := lastLog(t, api.repo)
	assert.Equal(t, "processed", entry.Status)
	assert.Equal(t, "order.created", entry.Event)
	assert.Equal(t, out.OrderNumber, entry.Reference)

	rec = api.do(httptest.NewRequest(http.MethodPost, "/api/webhooks/woocommerce/not-a-uuid", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInternalReconcileIsServiceOnly(t *testing.T) {
	api := newTestAPI(t)

	body := `{"bundle_id":"` + api.bundle.ID.String() + `","quantity":1}`
	req := httptest.NewRequest(http.MethodPost, "/api/payments/billplz", strings.NewReader(body))
	req.Header.Set("Authorization", bearer(t, api.marketer))
	rec := api.do(req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created fulfillment.CreatePaymentOutput
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))

	path := "/api/internal/payments/" + created.OrderNumber + "/reconcile"
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", bearer(t, api.marketer))
	assert.Equal(t, http.StatusUnauthorized, api.do(req).Code)

	api.gateway.settle(payment.Result{State: payment.StateFailed, Reason: "bank declined"})
	req = httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set("Authorization", "Bearer "+serviceKey)
	rec = api.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	order, err := api.repo.GetPendingOrderByNumber(context.Background(), created.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, store.OrderFailed, order.Status)
	assert.Equal(t, "bank declined", order.FailureReason)
}
