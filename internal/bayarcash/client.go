// Package bayarcash talks to the BayarCash v2 console API.
package bayarcash

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"distribution-order-services/internal/payment"
	"distribution-order-services/internal/utils"

	"github.com/shopspring/decimal"
)

// Transaction status codes.
const (
	StatusNew       = 0
	StatusPending   = 1
	StatusFailed    = 2
	StatusSuccess   = 3
	StatusCancelled = 4
)

type Config struct {
	BaseURL        string
	Token          string
	APISecretKey   string
	PortalKey      string
	PaymentChannel int
	CallbackURL    string
	ReturnURL      string
	Timeout        time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("bayarcash: status %d: %s", e.StatusCode, e.Body)
}

type PaymentIntent struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	OrderNumber string `json:"order_number"`
}

type Transaction struct {
	ID                      string          `json:"id"`
	Status                  int             `json:"status"`
	StatusDescription       string          `json:"status_description"`
	OrderNumber             string          `json:"order_number"`
	Amount                  decimal.Decimal `json:"amount"`
	Currency                string          `json:"currency"`
	ExchangeReferenceNumber string          `json:"exchange_reference_number"`
	PayerBankName           string          `json:"payer_bank_name"`
	Datetime                string          `json:"datetime"`
}

type transactionList struct {
	Data []Transaction `json:"data"`
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.PaymentChannel <= 0 {
		cfg.PaymentChannel = 1
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: &http.Client{Timeout: cfg.Timeout}}
}

func (c *Client) Name() string {
	return payment.GatewayBayarCash
}

func (c *Client) CreatePayment(ctx context.Context, req payment.Request) (payment.Session, error) {
	amount := utils.FormatAmount(req.Amount)
	channel := fmt.Sprintf("%d", c.cfg.PaymentChannel)
	body := map[string]any{
		"payment_channel":        c.cfg.PaymentChannel,
		"portal_key":             c.cfg.PortalKey,
		"order_number":           req.OrderNumber,
		"amount":                 amount,
		"payer_name":             req.PayerName,
		"payer_email":            req.PayerEmail,
		"payer_telephone_number": req.PayerPhone,
		"callback_url":           c.cfg.CallbackURL,
		"return_url":             c.returnURL(req.OrderNumber),
		"checksum": Checksum(map[string]string{
			"payment_channel": channel,
			"order_number":    req.OrderNumber,
			"amount":          amount,
			"payer_name":      req.PayerName,
			"payer_email":     req.PayerEmail,
		}, c.cfg.APISecretKey),
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return payment.Session{}, err
	}

	var intent PaymentIntent
	if err := c.do(ctx, http.MethodPost, "/payment-intents", bytes.NewReader(raw), &intent); err != nil {
		return payment.Session{}, err
	}
	if intent.URL == "" {
		return payment.Session{}, fmt.Errorf("bayarcash: payment intent %q has no checkout url", intent.ID)
	}
	return payment.Session{Ref: intent.ID, URL: intent.URL}, nil
}

func (c *Client) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	var tx Transaction
	err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil, &tx)
	return tx, err
}

func (c *Client) TransactionsByOrder(ctx context.Context, orderNumber string) ([]Transaction, error) {
	var list transactionList
	if err := c.do(ctx, http.MethodGet, "/transactions?order_number="+url.QueryEscape(orderNumber), nil, &list); err != nil {
		return nil, err
	}
	return list.Data, nil
}

// FetchStatus looks the order up by order number so every attempt is seen; a
// bare transaction id is used only when no order number is known.
func (c *Client) FetchStatus(ctx context.Context, ref string, orderNumber string) (payment.Result, error) {
	var txs []Transaction
	switch {
	case strings.TrimSpace(orderNumber) != "":
		list, err := c.TransactionsByOrder(ctx, orderNumber)
		if err != nil {
			return payment.Result{}, err
		}
		txs = list
	case strings.TrimSpace(ref) != "":
		tx, err := c.GetTransaction(ctx, ref)
		if err != nil {
			return payment.Result{}, err
		}
		txs = []Transaction{tx}
	default:
		return payment.Result{}, fmt.Errorf("bayarcash: transaction id or order number is required")
	}
	return Summarise(txs), nil
}

// Summarise folds every attempt for one order into a single state: any success
// wins, otherwise the most recent attempt decides.
func Summarise(txs []Transaction) payment.Result {
	if len(txs) == 0 {
		return payment.Result{State: payment.StatePending}
	}

	for _, tx := range txs {
		if tx.Status == StatusSuccess {
			result := payment.Result{State: payment.StatePaid, Ref: tx.ID, Amount: tx.Amount}
			if paidAt, ok := parseDatetime(tx.Datetime); ok {
				result.PaidAt = &paidAt
			}
			return result
		}
	}

	sorted := append([]Transaction(nil), txs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Datetime > sorted[j].Datetime
	})
	latest := sorted[0]
	result := payment.Result{State: payment.StatePending, Ref: latest.ID, Amount: latest.Amount}
	if latest.Status == StatusFailed || latest.Status == StatusCancelled {
		result.State = payment.StateFailed
		result.Reason = strings.TrimSpace(latest.StatusDescription)
		if result.Reason == "" {
			result.Reason = "payment failed"
		}
	}
	return result
}

func (c *Client) returnURL(orderNumber string) string {
	if c.cfg.ReturnURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(c.cfg.ReturnURL, "?") {
		sep = "&"
	}
	return c.cfg.ReturnURL + sep + "order_number=" + url.QueryEscape(orderNumber)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bayarcash: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("bayarcash: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("bayarcash: decode: %w", err)
	}
	return nil
}

func parseDatetime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, true
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04:05", value, utils.LoadLocation("Asia/Kuala_Lumpur")); err == nil {
		return t, true
	}
	return time.Time{}, false
}
