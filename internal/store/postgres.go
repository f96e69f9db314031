package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"distribution-order-services/internal/auth"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Pool() *pgxpool.Pool {
	return p.pool
}

func (p *Postgres) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func parseMoney(value string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func uuidPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func timePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func nullText(value string) pgtype.Text {
	return pgtype.Text{String: value, Valid: value != ""}
}

// ---- profiles / catalog ----

const profileColumns = `id, full_name, email, phone, role, upline_id, branch_id, master_agent_id, is_active`

func scanProfile(row pgx.Row) (Profile, error) {
	var (
		p                           Profile
		role                        string
		upline, branch, masterAgent pgtype.UUID
	)
	if err := row.Scan(&p.ID, &p.FullName, &p.Email, &p.Phone, &role, &upline, &branch, &masterAgent, &p.IsActive); err != nil {
		return Profile{}, notFound(err)
	}
	p.Role, _ = auth.ParseRole(role)
	p.UplineID = uuidPtr(upline)
	p.BranchID = uuidPtr(branch)
	p.MasterAgentID = uuidPtr(masterAgent)
	return p, nil
}

func (p *Postgres) GetProfile(ctx context.Context, id uuid.UUID) (Profile, error) {
	return scanProfile(p.pool.QueryRow(ctx, `select `+profileColumns+` from profiles where id = $1`, id))
}

func (p *Postgres) FindHQProfile(ctx context.Context) (Profile, error) {
	return scanProfile(p.pool.QueryRow(ctx, `
		select `+profileColumns+`
		from profiles
		where role = 'hq' and is_active = true
		order by created_at asc
		limit 1
	`))
}

const bundleColumns = `id, name, sku, master_agent_price::text, agent_price::text, branch_price::text,
	marketer_price::text, customer_price::text, is_active`

func scanBundle(row pgx.Row) (Bundle, error) {
	var (
		b                                                 Bundle
		masterAgent, agent, branch, marketer, customerRaw string
	)
	if err := row.Scan(&b.ID, &b.Name, &b.SKU, &masterAgent, &agent, &branch, &marketer, &customerRaw, &b.IsActive); err != nil {
		return Bundle{}, notFound(err)
	}
	b.MasterAgentPrice = parseMoney(masterAgent)
	b.AgentPrice = parseMoney(agent)
	b.BranchPrice = parseMoney(branch)
	b.MarketerPrice = parseMoney(marketer)
	b.CustomerPrice = parseMoney(customerRaw)
	return b, nil
}

func (p *Postgres) GetBundle(ctx context.Context, id uuid.UUID) (Bundle, error) {
	return scanBundle(p.pool.QueryRow(ctx, `select `+bundleColumns+` from bundles where id = $1`, id))
}

func (p *Postgres) FindBundleBySKU(ctx context.Context, sku string) (Bundle, error) {
	return scanBundle(p.pool.QueryRow(ctx, `
		select `+bundleColumns+`
		from bundles
		where upper(sku) = upper($1) and is_active = true
		order by created_at asc
		limit 1
	`, strings.TrimSpace(sku)))
}

func (p *Postgres) ProductsBySKU(ctx context.Context, skus []string) (map[string]Product, error) {
	return productsBySKU(ctx, p.pool, skus)
}

// productsBySKU keys the result by upper-cased SKU.
func productsBySKU(ctx context.Context, q querier, skus []string) (map[string]Product, error) {
	out := make(map[string]Product, len(skus))
	if len(skus) == 0 {
		return out, nil
	}
	upper := make([]string, 0, len(skus))
	for _, s := range skus {
		upper = append(upper, strings.ToUpper(strings.TrimSpace(s)))
	}

	rows, err := q.Query(ctx, `
		select id, sku, name, weight_kg::text, is_active
		from products
		where upper(sku) = any($1)
	`, upper)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			prod   Product
			weight string
		)
		if err := rows.Scan(&prod.ID, &prod.SKU, &prod.Name, &weight, &prod.IsActive); err != nil {
			return nil, err
		}
		prod.WeightKg = parseMoney(weight)
		out[strings.ToUpper(prod.SKU)] = prod
	}
	return out, rows.Err()
}

// ---- pending orders / transactions ----

const pendingOrderColumns = `id, order_number, buyer_id, seller_id, bundle_id, bundle_sku, quantity,
	unit_price::text, total_price::text, gateway, gateway_ref, payment_url, status, failure_reason,
	created_at, updated_at, completed_at`

func scanPendingOrder(row pgx.Row) (PendingOrder, error) {
	var (
		o                           PendingOrder
		unitPrice, totalPrice       string
		ref, paymentURL, failReason pgtype.Text
		completedAt                 pgtype.Timestamptz
	)
	if err := row.Scan(
		&o.ID, &o.OrderNumber, &o.BuyerID, &o.SellerID, &o.BundleID, &o.BundleSKU, &o.Quantity,
		&unitPrice, &totalPrice, &o.Gateway, &ref, &paymentURL, &o.Status, &failReason,
		&o.CreatedAt, &o.UpdatedAt, &completedAt,
	); err != nil {
		return PendingOrder{}, notFound(err)
	}
	o.UnitPrice = parseMoney(unitPrice)
	o.TotalPrice = parseMoney(totalPrice)
	o.GatewayRef = ref.String
	o.PaymentURL = paymentURL.String
	o.FailureReason = failReason.String
	o.CompletedAt = timePtr(completedAt)
	return o, nil
}

func (p *Postgres) InsertPendingOrder(ctx context.Context, order *PendingOrder) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.Status == "" {
		order.Status = OrderPending
	}
	return p.pool.QueryRow(ctx, `
		insert into pending_orders (
			id, order_number, buyer_id, seller_id, bundle_id, bundle_sku, quantity,
			unit_price, total_price, gateway, status
		) values ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11)
		returning created_at, updated_at
	`,
		order.ID, order.OrderNumber, order.BuyerID, order.SellerID, order.BundleID, order.BundleSKU, order.Quantity,
		order.UnitPrice.String(), order.TotalPrice.String(), order.Gateway, order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
}

func (p *Postgres) UpdatePendingOrderPayment(ctx context.Context, id uuid.UUID, ref, paymentURL string) error {
	tag, err := p.pool.Exec(ctx, `
		update pending_orders
		set gateway_ref = $2, payment_url = $3, updated_at = now()
		where id = $1
	`, id, nullText(ref), nullText(paymentURL))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) MarkPendingOrderFailed(ctx context.Context, id uuid.UUID, reason string) error {
	return failPendingOrder(ctx, p.pool, id, reason)
}

func failPendingOrder(ctx context.Context, q querier, id uuid.UUID, reason string) error {
	_, err := q.Exec(ctx, `
		update pending_orders
		set status = 'failed', failure_reason = $2, updated_at = now()
		where id = $1 and status = 'pending'
	`, id, nullText(reason))
	return err
}

func (p *Postgres) GetPendingOrderByNumber(ctx context.Context, orderNumber string) (PendingOrder, error) {
	return scanPendingOrder(p.pool.QueryRow(ctx, `select `+pendingOrderColumns+` from pending_orders where order_number = $1`, orderNumber))
}

func (p *Postgres) GetPendingOrderByRef(ctx context.Context, gateway, ref string) (PendingOrder, error) {
	return scanPendingOrder(p.pool.QueryRow(ctx, `
		select `+pendingOrderColumns+`
		from pending_orders
		where gateway = $1 and gateway_ref = $2
		order by created_at desc
		limit 1
	`, gateway, ref))
}

const transactionColumns = `id, pending_order_id, order_number, buyer_id, seller_id, bundle_id, quantity,
	unit_price::text, total_price::text, gateway, gateway_ref, paid_at, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                     Transaction
		unitPrice, totalPrice string
	)
	if err := row.Scan(
		&t.ID, &t.PendingOrderID, &t.OrderNumber, &t.BuyerID, &t.SellerID, &t.BundleID, &t.Quantity,
		&unitPrice, &totalPrice, &t.Gateway, &t.GatewayRef, &t.PaidAt, &t.CreatedAt,
	); err != nil {
		return Transaction{}, notFound(err)
	}
	t.UnitPrice = parseMoney(unitPrice)
	t.TotalPrice = parseMoney(totalPrice)
	return t, nil
}

func (p *Postgres) GetTransactionByPendingOrder(ctx context.Context, pendingOrderID uuid.UUID) (Transaction, error) {
	return scanTransaction(p.pool.QueryRow(ctx, `select `+transactionColumns+` from transactions where pending_order_id = $1`, pendingOrderID))
}

// ---- customer purchases ----

const purchaseColumns = `id, order_number, seller_id, customer_name, customer_phone, customer_email,
	address_1, address_2, postcode, city, state, country, bundle_id, sku, quantity, total_price::text,
	payment_method, payment_status, platform, external_order_id, delivery_status, tracking_number,
	courier, waybill_url, notes, inventory_deducted, shipped_at, created_at, updated_at`

func scanPurchase(row pgx.Row) (CustomerPurchase, error) {
	var (
		c                                         CustomerPurchase
		bundleID                                  pgtype.UUID
		total                                     string
		externalID, tracking, courier, waybillURL pgtype.Text
		shippedAt                                 pgtype.Timestamptz
	)
	if err := row.Scan(
		&c.ID, &c.OrderNumber, &c.SellerID, &c.CustomerName, &c.CustomerPhone, &c.CustomerEmail,
		&c.Address1, &c.Address2, &c.Postcode, &c.City, &c.State, &c.Country, &bundleID, &c.SKU, &c.Quantity, &total,
		&c.PaymentMethod, &c.PaymentStatus, &c.Platform, &externalID, &c.DeliveryStatus, &tracking,
		&courier, &waybillURL, &c.Notes, &c.InventoryDeducted, &shippedAt, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return CustomerPurchase{}, notFound(err)
	}
	c.BundleID = uuidPtr(bundleID)
	c.TotalPrice = parseMoney(total)
	c.ExternalOrderID = externalID.String
	c.TrackingNumber = tracking.String
	c.Courier = courier.String
	c.WaybillURL = waybillURL.String
	c.ShippedAt = timePtr(shippedAt)
	return c, nil
}

func (p *Postgres) GetPurchase(ctx context.Context, id uuid.UUID) (CustomerPurchase, error) {
	return scanPurchase(p.pool.QueryRow(ctx, `select `+purchaseColumns+` from customer_purchases where id = $1`, id))
}

func (p *Postgres) GetPurchaseByTracking(ctx context.Context, trackingNumber string) (CustomerPurchase, error) {
	return scanPurchase(p.pool.QueryRow(ctx, `select `+purchaseColumns+` from customer_purchases where tracking_number = $1`, trackingNumber))
}

func (p *Postgres) FindPurchaseByExternalID(ctx context.Context, platform, externalID string, sellerID uuid.UUID) (CustomerPurchase, error) {
	return scanPurchase(p.pool.QueryRow(ctx, `
		select `+purchaseColumns+`
		from customer_purchases
		where platform = $1 and external_order_id = $2 and seller_id = $3
	`, platform, externalID, sellerID))
}

func (p *Postgres) InsertPurchase(ctx context.Context, c *CustomerPurchase) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.DeliveryStatus == "" {
		c.DeliveryStatus = DeliveryPending
	}
	if c.Quantity <= 0 {
		c.Quantity = 1
	}
	return p.pool.QueryRow(ctx, `
		insert into customer_purchases (
			id, order_number, seller_id, customer_name, customer_phone, customer_email,
			address_1, address_2, postcode, city, state, country, bundle_id, sku, quantity, total_price,
			payment_method, payment_status, platform, external_order_id, delivery_status, notes
		) values (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13, $14, $15, $16::numeric,
			$17, $18, $19, $20, $21, $22
		)
		returning created_at, updated_at
	`,
		c.ID, c.OrderNumber, c.SellerID, c.CustomerName, c.CustomerPhone, c.CustomerEmail,
		c.Address1, c.Address2, c.Postcode, c.City, c.State, c.Country, c.BundleID, c.SKU, c.Quantity, c.TotalPrice.String(),
		c.PaymentMethod, c.PaymentStatus, c.Platform, nullText(c.ExternalOrderID), c.DeliveryStatus, c.Notes,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
}

func (p *Postgres) TrackingNumberExists(ctx context.Context, trackingNumber string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx, `select exists(select 1 from customer_purchases where tracking_number = $1)`, trackingNumber).Scan(&exists)
	return exists, err
}

func (p *Postgres) SetPurchaseWaybillURL(ctx context.Context, id uuid.UUID, waybillURL string) error {
	_, err := p.pool.Exec(ctx, `update customer_purchases set waybill_url = $2, updated_at = now() where id = $1`, id, waybillURL)
	return err
}

func (p *Postgres) ListShippedPurchases(ctx context.Context, sellerID *uuid.UUID, from, to time.Time) ([]CustomerPurchase, error) {
	rows, err := p.pool.Query(ctx, `
		select `+purchaseColumns+`
		from customer_purchases
		where shipped_at >= $1 and shipped_at < $2
			and tracking_number is not null
			and delivery_status <> 'cancelled'
			and ($3::uuid is null or seller_id = $3)
		order by shipped_at asc, order_number asc
	`, from, to, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CustomerPurchase
	for rows.Next() {
		c, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- woocommerce / webhook logs / courier tokens ----

func (p *Postgres) GetWooStore(ctx context.Context, id uuid.UUID) (WooStore, error) {
	var s WooStore
	err := p.pool.QueryRow(ctx, `
		select id, seller_id, store_url, webhook_secret, auto_ship, is_active
		from woocommerce_stores
		where id = $1
	`, id).Scan(&s.ID, &s.SellerID, &s.StoreURL, &s.WebhookSecret, &s.AutoShip, &s.IsActive)
	if err != nil {
		return WooStore{}, notFound(err)
	}
	return s, nil
}

func (p *Postgres) LogWebhook(ctx context.Context, entry WebhookLog) error {
	_, err := p.pool.Exec(ctx, `
		insert into webhook_logs (source, event, reference, status, payload, error)
		values ($1, $2, $3, $4, $5, $6)
	`, entry.Source, entry.Event, entry.Reference, entry.Status, entry.Payload, entry.Error)
	return err
}

func (p *Postgres) LoadNinjaVanToken(ctx context.Context) (string, time.Time, error) {
	var (
		token     string
		expiresAt time.Time
	)
	err := p.pool.QueryRow(ctx, `
		select access_token, expires_at
		from ninjavan_tokens
		order by created_at desc
		limit 1
	`).Scan(&token, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, nil
	}
	return token, expiresAt, err
}

func (p *Postgres) SaveNinjaVanToken(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if _, err := p.pool.Exec(ctx, `insert into ninjavan_tokens (access_token, expires_at) values ($1, $2)`, accessToken, expiresAt); err != nil {
		return fmt.Errorf("save ninjavan token: %w", err)
	}
	_, err := p.pool.Exec(ctx, `delete from ninjavan_tokens where expires_at < now() - interval '1 day'`)
	return err
}
