package fulfillment

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"distribution-order-services/internal/auth"
	"distribution-order-services/internal/ninjavan"
	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type fakeGateway struct {
	name       string
	createErr  error
	result     payment.Result
	fetchErr   error
	fetchCalls atomic.Int32
	lastRef    atomic.Value
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePayment(_ context.Context, req payment.Request) (payment.Session, error) {
	if g.createErr != nil {
		return payment.Session{}, g.createErr
	}
	return payment.Session{Ref: "ref-" + req.OrderNumber, URL: "https://pay.example/" + req.OrderNumber}, nil
}

func (g *fakeGateway) FetchStatus(_ context.Context, ref string, _ string) (payment.Result, error) {
	g.fetchCalls.Add(1)
	g.lastRef.Store(ref)
	if g.fetchErr != nil {
		return payment.Result{}, g.fetchErr
	}
	// give concurrent callers a chance to overlap
	time.Sleep(2 * time.Millisecond)
	return g.result, nil
}

type fakeCourier struct {
	mu        sync.Mutex
	created   []ninjavan.OrderRequest
	cancelled []string
	createErr error
	cancelErr error
	already   bool
	waybill   []byte
}

func (c *fakeCourier) CreateOrder(_ context.Context, order ninjavan.OrderRequest) (ninjavan.OrderResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.createErr != nil {
		return ninjavan.OrderResponse{}, c.createErr
	}
	c.created = append(c.created, order)
	return ninjavan.OrderResponse{TrackingNumber: order.RequestedTrackingNumber, RequestedTrackingNumber: order.RequestedTrackingNumber}, nil
}

func (c *fakeCourier) CancelOrder(_ context.Context, trackingNumber string) (ninjavan.CancelResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return ninjavan.CancelResult{}, c.cancelErr
	}
	c.cancelled = append(c.cancelled, trackingNumber)
	return ninjavan.CancelResult{TrackingNumber: trackingNumber, AlreadyCancelled: c.already}, nil
}

func (c *fakeCourier) Waybill(context.Context, string) ([]byte, error) {
	if c.waybill == nil {
		return nil, errors.New("no waybill")
	}
	return c.waybill, nil
}

func (c *fakeCourier) createdCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.created)
}

type fakeEvents struct {
	mu    sync.Mutex
	types []string
}

func (e *fakeEvents) PublishEvent(_ context.Context, eventType string, _ any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.types = append(e.types, eventType)
	return nil
}

func (e *fakeEvents) count(eventType string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type fakeJobs struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (q *fakeJobs) EnqueueShipment(_ context.Context, purchaseID, _ uuid.UUID, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.ids = append(q.ids, purchaseID)
	return nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}}
}

func (o *fakeObjects) PutObject(_ context.Context, key string, body []byte, _ string, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = body
	return "https://cdn.example/" + key, nil
}

func (o *fakeObjects) GetObject(_ context.Context, key string) ([]byte, bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	body, ok := o.objects[key]
	return body, ok, nil
}

func (o *fakeObjects) DeleteKey(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	o.deleted = append(o.deleted, key)
	return nil
}

// world is a small distribution network: HQ supplies an agent who sells to
// a marketer. The bundle "SRM-2 + CLN-1" holds three units.
type world struct {
	repo     *store.Memory
	hq       store.Profile
	agent    store.Profile
	marketer store.Profile
	serum    store.Product
	cleanser store.Product
	bundle   store.Bundle
}

func newWorld() *world {
	w := &world{repo: store.NewMemory()}
	agentID := uuid.New()
	w.hq = store.Profile{ID: uuid.New(), FullName: "HQ", Email: "hq@example.com", Role: auth.RoleHQ, IsActive: true}
	w.agent = store.Profile{ID: agentID, FullName: "Aina Agent", Email: "agent@example.com", Phone: "60123456789", Role: auth.RoleAgent, UplineID: &w.hq.ID, IsActive: true}
	w.marketer = store.Profile{ID: uuid.New(), FullName: "Mira Marketer", Email: "mira@example.com", Phone: "60198765432", Role: auth.RoleMarketer, UplineID: &agentID, IsActive: true}
	w.serum = store.Product{ID: uuid.New(), SKU: "SRM", Name: "Serum", WeightKg: decimal.RequireFromString("0.25"), IsActive: true}
	w.cleanser = store.Product{ID: uuid.New(), SKU: "CLN", Name: "Cleanser", WeightKg: decimal.RequireFromString("0.5"), IsActive: true}
	w.bundle = store.Bundle{
		ID:               uuid.New(),
		Name:             "Glow Set",
		SKU:              "SRM-2 + CLN-1",
		MasterAgentPrice: decimal.RequireFromString("80"),
		AgentPrice:       decimal.RequireFromString("90"),
		BranchPrice:      decimal.RequireFromString("95"),
		MarketerPrice:    decimal.RequireFromString("100.50"),
		CustomerPrice:    decimal.RequireFromString("150"),
		IsActive:         true,
	}

	for _, p := range []store.Profile{w.hq, w.agent, w.marketer} {
		w.repo.AddProfile(p)
	}
	w.repo.AddProduct(w.serum)
	w.repo.AddProduct(w.cleanser)
	w.repo.AddBundle(w.bundle)
	return w
}

func (w *world) purchase(seller uuid.UUID, method string) store.CustomerPurchase {
	p := store.CustomerPurchase{
		SellerID:      seller,
		OrderNumber:   "CP-" + uuid.NewString()[:8],
		CustomerName:  "Siti",
		CustomerPhone: "60111111111",
		Address1:      "12 Jalan Mawar",
		Postcode:      "50450",
		City:          "Kuala Lumpur",
		State:         "WP",
		Country:       "MY",
		SKU:           w.bundle.SKU,
		Quantity:      1,
		TotalPrice:    decimal.RequireFromString("150"),
		PaymentMethod: method,
		PaymentStatus: store.PaymentStatusPending,
		Platform:      store.PlatformManual,
	}
	if err := w.repo.InsertPurchase(context.Background(), &p); err != nil {
		panic(err)
	}
	return p
}

func actorFor(p store.Profile) Actor {
	return Actor{UserID: p.ID, Role: p.Role}
}
