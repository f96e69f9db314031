package store

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"distribution-order-services/internal/auth"

	"github.com/google/uuid"
)

type inventoryKey struct {
	UserID    uuid.UUID
	ProductID uuid.UUID
}

// Notification is a pg_notify captured by Memory.
type Notification struct {
	Channel string
	Payload string
}

type memoryState struct {
	profiles      map[uuid.UUID]Profile
	products      map[uuid.UUID]Product
	bundles       map[uuid.UUID]Bundle
	inventory     map[inventoryKey]int
	pendingOrders map[uuid.UUID]PendingOrder
	transactions  map[uuid.UUID]Transaction
	purchases     map[uuid.UUID]CustomerPurchase
	wooStores     map[uuid.UUID]WooStore
	notifications []Notification
}

func (s *memoryState) clone() *memoryState {
	return &memoryState{
		profiles:      maps.Clone(s.profiles),
		products:      maps.Clone(s.products),
		bundles:       maps.Clone(s.bundles),
		inventory:     maps.Clone(s.inventory),
		pendingOrders: maps.Clone(s.pendingOrders),
		transactions:  maps.Clone(s.transactions),
		purchases:     maps.Clone(s.purchases),
		wooStores:     maps.Clone(s.wooStores),
		notifications: append([]Notification(nil), s.notifications...),
	}
}

// Memory is an in-process Repository. Transactions run one at a time against
// a copy of the state that replaces the original on success.
type Memory struct {
	mu    sync.Mutex
	state *memoryState
	logs  []WebhookLog
	token struct {
		value     string
		expiresAt time.Time
	}
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		state: &memoryState{
			profiles:      map[uuid.UUID]Profile{},
			products:      map[uuid.UUID]Product{},
			bundles:       map[uuid.UUID]Bundle{},
			inventory:     map[inventoryKey]int{},
			pendingOrders: map[uuid.UUID]PendingOrder{},
			transactions:  map[uuid.UUID]Transaction{},
			purchases:     map[uuid.UUID]CustomerPurchase{},
			wooStores:     map[uuid.UUID]WooStore{},
		},
		now: time.Now,
	}
}

// Seeding helpers.

func (m *Memory) AddProfile(p Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.profiles[p.ID] = p
}

func (m *Memory) AddProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.products[p.ID] = p
}

func (m *Memory) AddBundle(b Bundle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.bundles[b.ID] = b
}

func (m *Memory) AddWooStore(s WooStore) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.wooStores[s.ID] = s
}

func (m *Memory) SetInventory(userID, productID uuid.UUID, qty int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.inventory[inventoryKey{userID, productID}] = qty
}

func (m *Memory) Inventory(userID, productID uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.inventory[inventoryKey{userID, productID}]
}

func (m *Memory) Transactions() []Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transaction, 0, len(m.state.transactions))
	for _, t := range m.state.transactions {
		out = append(out, t)
	}
	return out
}

func (m *Memory) Notifications() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.state.notifications...)
}

func (m *Memory) WebhookLogs() []WebhookLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]WebhookLog(nil), m.logs...)
}

func (m *Memory) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	if err := fn(ctx, &memoryTx{state: work}); err != nil {
		return err
	}
	m.state = work
	return nil
}

func (m *Memory) GetProfile(_ context.Context, id uuid.UUID) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) FindHQProfile(context.Context) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.profiles {
		if p.Role == auth.RoleHQ && p.IsActive {
			return p, nil
		}
	}
	return Profile{}, ErrNotFound
}

func (m *Memory) GetBundle(_ context.Context, id uuid.UUID) (Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bundles[id]
	if !ok {
		return Bundle{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) FindBundleBySKU(_ context.Context, sku string) (Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.state.bundles {
		if b.IsActive && strings.EqualFold(b.SKU, strings.TrimSpace(sku)) {
			return b, nil
		}
	}
	return Bundle{}, ErrNotFound
}

func (m *Memory) ProductsBySKU(_ context.Context, skus []string) (map[string]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.productsBySKU(skus), nil
}

func (s *memoryState) productsBySKU(skus []string) map[string]Product {
	want := make(map[string]bool, len(skus))
	for _, sku := range skus {
		want[strings.ToUpper(strings.TrimSpace(sku))] = true
	}
	out := make(map[string]Product, len(skus))
	for _, p := range s.products {
		key := strings.ToUpper(p.SKU)
		if want[key] {
			out[key] = p
		}
	}
	return out
}

func (m *Memory) InsertPendingOrder(_ context.Context, order *PendingOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.state.pendingOrders {
		if o.OrderNumber == order.OrderNumber {
			return fmt.Errorf("pending order %s: %w", order.OrderNumber, ErrDuplicate)
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = OrderPending
	}
	now := m.now()
	order.CreatedAt, order.UpdatedAt = now, now
	m.state.pendingOrders[order.ID] = *order
	return nil
}

func (m *Memory) UpdatePendingOrderPayment(_ context.Context, id uuid.UUID, ref, paymentURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.state.pendingOrders[id]
	if !ok {
		return ErrNotFound
	}
	o.GatewayRef, o.PaymentURL, o.UpdatedAt = ref, paymentURL, m.now()
	m.state.pendingOrders[id] = o
	return nil
}

func (m *Memory) MarkPendingOrderFailed(_ context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.failPendingOrder(id, reason)
	return nil
}

func (s *memoryState) failPendingOrder(id uuid.UUID, reason string) {
	o, ok := s.pendingOrders[id]
	if !ok || o.Status != OrderPending {
		return
	}
	o.Status, o.FailureReason, o.UpdatedAt = OrderFailed, reason, time.Now()
	s.pendingOrders[id] = o
}

func (m *Memory) GetPendingOrderByNumber(_ context.Context, orderNumber string) (PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.state.pendingOrders {
		if o.OrderNumber == orderNumber {
			return o, nil
		}
	}
	return PendingOrder{}, ErrNotFound
}

func (m *Memory) GetPendingOrderByRef(_ context.Context, gateway, ref string) (PendingOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.state.pendingOrders {
		if o.Gateway == gateway && o.GatewayRef == ref && ref != "" {
			return o, nil
		}
	}
	return PendingOrder{}, ErrNotFound
}

func (m *Memory) GetTransactionByPendingOrder(_ context.Context, pendingOrderID uuid.UUID) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.state.transactions {
		if t.PendingOrderID == pendingOrderID {
			return t, nil
		}
	}
	return Transaction{}, ErrNotFound
}

func (m *Memory) GetPurchase(_ context.Context, id uuid.UUID) (CustomerPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.purchases[id]
	if !ok {
		return CustomerPurchase{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetPurchaseByTracking(_ context.Context, trackingNumber string) (CustomerPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.purchaseByTracking(trackingNumber)
}

func (s *memoryState) purchaseByTracking(trackingNumber string) (CustomerPurchase, error) {
	for _, c := range s.purchases {
		if trackingNumber != "" && c.TrackingNumber == trackingNumber {
			return c, nil
		}
	}
	return CustomerPurchase{}, ErrNotFound
}

func (m *Memory) FindPurchaseByExternalID(_ context.Context, platform, externalID string, sellerID uuid.UUID) (CustomerPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.state.purchases {
		if c.Platform == platform && c.ExternalOrderID == externalID && c.SellerID == sellerID {
			return c, nil
		}
	}
	return CustomerPurchase{}, ErrNotFound
}

func (m *Memory) InsertPurchase(_ context.Context, c *CustomerPurchase) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.state.purchases {
		if existing.OrderNumber == c.OrderNumber {
			return fmt.Errorf("purchase %s: %w", c.OrderNumber, ErrDuplicate)
		}
		if c.ExternalOrderID != "" && existing.Platform == c.Platform &&
			existing.ExternalOrderID == c.ExternalOrderID && existing.SellerID == c.SellerID {
			return fmt.Errorf("external order %s: %w", c.ExternalOrderID, ErrDuplicate)
		}
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DeliveryStatus == "" {
		c.DeliveryStatus = DeliveryPending
	}
	if c.Quantity <= 0 {
		c.Quantity = 1
	}
	now := m.now()
	c.CreatedAt, c.UpdatedAt = now, now
	m.state.purchases[c.ID] = *c
	return nil
}

func (m *Memory) TrackingNumberExists(_ context.Context, trackingNumber string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.state.purchaseByTracking(trackingNumber)
	return err == nil, nil
}

func (m *Memory) SetPurchaseWaybillURL(_ context.Context, id uuid.UUID, waybillURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.state.purchases[id]
	if !ok {
		return ErrNotFound
	}
	c.WaybillURL = waybillURL
	m.state.purchases[id] = c
	return nil
}

func (m *Memory) ListShippedPurchases(_ context.Context, sellerID *uuid.UUID, from, to time.Time) ([]CustomerPurchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CustomerPurchase
	for _, c := range m.state.purchases {
		if c.ShippedAt == nil || c.TrackingNumber == "" || c.DeliveryStatus == DeliveryCancelled {
			continue
		}
		if c.ShippedAt.Before(from) || !c.ShippedAt.Before(to) {
			continue
		}
		if sellerID != nil && c.SellerID != *sellerID {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ShippedAt.Equal(*out[j].ShippedAt) {
			return out[i].ShippedAt.Before(*out[j].ShippedAt)
		}
		return out[i].OrderNumber < out[j].OrderNumber
	})
	return out, nil
}

func (m *Memory) GetWooStore(_ context.Context, id uuid.UUID) (WooStore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.wooStores[id]
	if !ok {
		return WooStore{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) LogWebhook(_ context.Context, entry WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.CreatedAt = m.now()
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) LoadNinjaVanToken(context.Context) (string, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token.value, m.token.expiresAt, nil
}

func (m *Memory) SaveNinjaVanToken(_ context.Context, accessToken string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token.value, m.token.expiresAt = accessToken, expiresAt
	return nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) LockPendingOrder(_ context.Context, id uuid.UUID) (PendingOrder, error) {
	o, ok := t.state.pendingOrders[id]
	if !ok {
		return PendingOrder{}, ErrNotFound
	}
	return o, nil
}

func (t *memoryTx) FindTransaction(_ context.Context, pendingOrderID uuid.UUID, gateway, ref string) (Transaction, bool, error) {
	for _, txn := range t.state.transactions {
		if txn.PendingOrderID == pendingOrderID || (txn.Gateway == gateway && txn.GatewayRef == ref) {
			return txn, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, txn *Transaction) error {
	for _, existing := range t.state.transactions {
		if existing.PendingOrderID == txn.PendingOrderID ||
			(existing.Gateway == txn.Gateway && existing.GatewayRef == txn.GatewayRef) {
			return fmt.Errorf("transaction %s: %w", txn.GatewayRef, ErrDuplicate)
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.CreatedAt = time.Now()
	t.state.transactions[txn.ID] = *txn
	return nil
}

func (t *memoryTx) CompletePendingOrder(_ context.Context, id uuid.UUID, ref string, at time.Time) error {
	o, ok := t.state.pendingOrders[id]
	if !ok || o.Status != OrderPending {
		return fmt.Errorf("pending order %s is no longer pending", id)
	}
	if ref != "" {
		o.GatewayRef = ref
	}
	o.Status, o.FailureReason, o.UpdatedAt = OrderCompleted, "", at
	o.CompletedAt = &at
	t.state.pendingOrders[id] = o
	return nil
}

func (t *memoryTx) FailPendingOrder(_ context.Context, id uuid.UUID, reason string) error {
	t.state.failPendingOrder(id, reason)
	return nil
}

func (t *memoryTx) ProductsBySKU(_ context.Context, skus []string) (map[string]Product, error) {
	return t.state.productsBySKU(skus), nil
}

func (t *memoryTx) AdjustInventory(_ context.Context, userID, productID uuid.UUID, delta int) error {
	key := inventoryKey{userID, productID}
	next := t.state.inventory[key] + delta
	if next < 0 {
		return fmt.Errorf("%w: user %s product %s needs %d", ErrInsufficientStock, userID, productID, -delta)
	}
	t.state.inventory[key] = next
	return nil
}

func (t *memoryTx) DeductAvailable(_ context.Context, userID, productID uuid.UUID, qty int) (int, error) {
	if qty <= 0 {
		return 0, nil
	}
	key := inventoryKey{userID, productID}
	take := min(qty, t.state.inventory[key])
	t.state.inventory[key] -= take
	return qty - take, nil
}

func (t *memoryTx) LockPurchase(_ context.Context, id uuid.UUID) (CustomerPurchase, error) {
	c, ok := t.state.purchases[id]
	if !ok {
		return CustomerPurchase{}, ErrNotFound
	}
	return c, nil
}

func (t *memoryTx) LockPurchaseByTracking(_ context.Context, trackingNumber string) (CustomerPurchase, error) {
	return t.state.purchaseByTracking(trackingNumber)
}

func (t *memoryTx) MarkPurchaseShipped(_ context.Context, id uuid.UUID, trackingNumber, courier string, at time.Time) error {
	c, ok := t.state.purchases[id]
	if !ok {
		return ErrNotFound
	}
	if other, err := t.state.purchaseByTracking(trackingNumber); err == nil && other.ID != id {
		return fmt.Errorf("tracking %s: %w", trackingNumber, ErrDuplicate)
	}
	c.TrackingNumber, c.Courier, c.DeliveryStatus = trackingNumber, courier, DeliveryShipped
	c.ShippedAt, c.UpdatedAt = &at, at
	t.state.purchases[id] = c
	return nil
}

func (t *memoryTx) SetPurchaseDeliveryStatus(_ context.Context, id uuid.UUID, status string) error {
	c, ok := t.state.purchases[id]
	if !ok {
		return ErrNotFound
	}
	c.DeliveryStatus, c.UpdatedAt = status, time.Now()
	t.state.purchases[id] = c
	return nil
}

func (t *memoryTx) SetPurchasePaymentStatus(_ context.Context, id uuid.UUID, status string) error {
	c, ok := t.state.purchases[id]
	if !ok {
		return ErrNotFound
	}
	c.PaymentStatus = status
	t.state.purchases[id] = c
	return nil
}

func (t *memoryTx) SetInventoryDeducted(_ context.Context, id uuid.UUID, deducted bool) error {
	c, ok := t.state.purchases[id]
	if !ok {
		return ErrNotFound
	}
	c.InventoryDeducted = deducted
	t.state.purchases[id] = c
	return nil
}

func (t *memoryTx) Notify(_ context.Context, channel, payload string) error {
	t.state.notifications = append(t.state.notifications, Notification{Channel: channel, Payload: payload})
	return nil
}
