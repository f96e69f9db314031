// Package billplz talks to the Billplz v3/v4 API.
package billplz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/utils"

	"github.com/shopspring/decimal"
)

const maxDescriptionLength = 200

type Config struct {
	BaseURL       string
	APIKey        string
	XSignatureKey string
	CollectionID  string
	CallbackURL   string
	RedirectURL   string
	Timeout       time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

// APIError is a non-2xx answer from Billplz.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("billplz: status %d: %s", e.StatusCode, e.Body)
}

type Bill struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Paid         bool   `json:"paid"`
	State        string `json:"state"`
	Amount       int64  `json:"amount"`
	PaidAmount   int64  `json:"paid_amount"`
	DueAt        string `json:"due_at"`
	Email        string `json:"email"`
	Mobile       string `json:"mobile"`
	Name         string `json:"name"`
	URL          string `json:"url"`
	Reference1   string `json:"reference_1"`
	PaidAt       string `json:"paid_at"`
}

type Transaction struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CompletedAt    string `json:"completed_at"`
	PaymentChannel string `json:"payment_channel"`
}

type transactionsResponse struct {
	BillID       string        `json:"bill_id"`
	Transactions []Transaction `json:"transactions"`
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Name() string {
	return payment.GatewayBillplz
}

func (c *Client) CreatePayment(ctx context.Context, req payment.Request) (payment.Session, error) {
	bill, err := c.CreateBill(ctx, req)
	if err != nil {
		return payment.Session{}, err
	}
	return payment.Session{Ref: bill.ID, URL: bill.URL}, nil
}

func (c *Client) CreateBill(ctx context.Context, req payment.Request) (Bill, error) {
	description := strings.TrimSpace(req.Description)
	if len(description) > maxDescriptionLength {
		description = description[:maxDescriptionLength]
	}

	form := url.Values{}
	form.Set("collection_id", c.cfg.CollectionID)
	form.Set("email", req.PayerEmail)
	form.Set("mobile", req.PayerPhone)
	form.Set("name", req.PayerName)
	form.Set("amount", strconv.FormatInt(utils.ToCents(req.Amount), 10))
	form.Set("description", description)
	form.Set("callback_url", c.cfg.CallbackURL)
	if c.cfg.RedirectURL != "" {
		form.Set("redirect_url", c.cfg.RedirectURL)
	}
	form.Set("reference_1_label", "Order")
	form.Set("reference_1", req.OrderNumber)

	var bill Bill
	if err := c.do(ctx, http.MethodPost, "/api/v3/bills", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &bill); err != nil {
		return Bill{}, err
	}
	return bill, nil
}

func (c *Client) GetBill(ctx context.Context, billID string) (Bill, error) {
	var bill Bill
	err := c.do(ctx, http.MethodGet, "/api/v3/bills/"+url.PathEscape(billID), nil, "", &bill)
	return bill, err
}

func (c *Client) ListTransactions(ctx context.Context, billID string) ([]Transaction, error) {
	var out transactionsResponse
	if err := c.do(ctx, http.MethodGet, "/api/v4/bills/"+url.PathEscape(billID)+"/transactions", nil, "", &out); err != nil {
		return nil, err
	}
	return out.Transactions, nil
}

// FetchStatus resolves a bill's state from the API. A bill is failed when it
// was deleted or its most recent payment attempt failed.
func (c *Client) FetchStatus(ctx context.Context, ref string, _ string) (payment.Result, error) {
	if strings.TrimSpace(ref) == "" {
		return payment.Result{}, fmt.Errorf("billplz: bill id is required")
	}

	bill, err := c.GetBill(ctx, ref)
	if err != nil {
		return payment.Result{}, err
	}

	result := payment.Result{
		State:  payment.StatePending,
		Ref:    bill.ID,
		Amount: utils.FromCents(bill.Amount),
	}

	if bill.Paid || strings.EqualFold(bill.State, "paid") {
		result.State = payment.StatePaid
		if bill.PaidAmount > 0 {
			result.Amount = utils.FromCents(bill.PaidAmount)
		}
		if paidAt, ok := parseTime(bill.PaidAt); ok {
			result.PaidAt = &paidAt
		}
		return result, nil
	}

	if strings.EqualFold(bill.State, "deleted") {
		result.State = payment.StateFailed
		result.Reason = "bill deleted"
		return result, nil
	}

	txs, err := c.ListTransactions(ctx, ref)
	if err != nil {
		return payment.Result{}, err
	}
	if len(txs) > 0 && strings.EqualFold(txs[0].Status, "failed") {
		result.State = payment.StateFailed
		result.Reason = "payment attempt failed"
		if txs[0].PaymentChannel != "" {
			result.Reason += " (" + txs[0].PaymentChannel + ")"
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.APIKey, "")
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("billplz: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("billplz: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("billplz: decode: %w", err)
	}
	return nil
}

func parseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05 -0700", "2006-01-02 15:04:05 MST"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AmountFromCents is exported for callback payloads that carry sen strings.
func AmountFromCents(value string) decimal.Decimal {
	cents, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return decimal.Zero
	}
	return utils.FromCents(cents)
}
