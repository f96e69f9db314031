// Package ninjavan books, cancels and prints NinjaVan parcels.
package ninjavan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const codeAlreadyCancelled = "ORDER_ALREADY_CANCELLED"

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	CountryCode  string
	Timeout      time.Duration
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ninjavan: status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     *TokenSource
	logger     *zap.Logger
}

func New(cfg Config, store TokenStore, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.CountryCode = strings.ToLower(strings.TrimSpace(cfg.CountryCode))
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		tokens:     NewTokenSource(cfg, httpClient, store, logger),
		logger:     logger,
	}
}

func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

type Address struct {
	Address1 string `json:"address1"`
	Address2 string `json:"address2,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Country  string `json:"country"`
	Postcode string `json:"postcode"`
}

type Contact struct {
	Name        string  `json:"name"`
	PhoneNumber string  `json:"phone_number"`
	Email       string  `json:"email,omitempty"`
	Address     Address `json:"address"`
}

type Timeslot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Timezone  string `json:"timezone"`
}

type Dimensions struct {
	Weight float64 `json:"weight"`
}

type ParcelJob struct {
	IsPickupRequired     bool       `json:"is_pickup_required"`
	PickupServiceType    string     `json:"pickup_service_type,omitempty"`
	PickupServiceLevel   string     `json:"pickup_service_level,omitempty"`
	PickupDate           string     `json:"pickup_date,omitempty"`
	PickupTimeslot       *Timeslot  `json:"pickup_timeslot,omitempty"`
	DeliveryStartDate    string     `json:"delivery_start_date"`
	DeliveryTimeslot     Timeslot   `json:"delivery_timeslot"`
	DeliveryInstructions string     `json:"delivery_instructions,omitempty"`
	CashOnDelivery       *float64   `json:"cash_on_delivery,omitempty"`
	Dimensions           Dimensions `json:"dimensions"`
}

type Reference struct {
	MerchantOrderNumber string `json:"merchant_order_number"`
}

type OrderRequest struct {
	ServiceType             string    `json:"service_type"`
	ServiceLevel            string    `json:"service_level"`
	RequestedTrackingNumber string    `json:"requested_tracking_number"`
	Reference               Reference `json:"reference"`
	From                    Contact   `json:"from"`
	To                      Contact   `json:"to"`
	ParcelJob               ParcelJob `json:"parcel_job"`
}

type OrderResponse struct {
	TrackingNumber          string `json:"tracking_number"`
	RequestedTrackingNumber string `json:"requested_tracking_number"`
}

type CancelResult struct {
	TrackingNumber   string
	AlreadyCancelled bool
}

func (c *Client) CreateOrder(ctx context.Context, order OrderRequest) (OrderResponse, error) {
	if order.ServiceType == "" {
		order.ServiceType = "Parcel"
	}
	if order.ServiceLevel == "" {
		order.ServiceLevel = "Standard"
	}
	payload, err := json.Marshal(order)
	if err != nil {
		return OrderResponse{}, err
	}

	raw, err := c.do(ctx, http.MethodPost, "/4.2/orders", payload)
	if err != nil {
		return OrderResponse{}, err
	}
	var out OrderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return OrderResponse{}, fmt.Errorf("ninjavan: decode order: %w", err)
	}
	if out.TrackingNumber == "" {
		out.TrackingNumber = order.RequestedTrackingNumber
	}
	return out, nil
}

// CancelOrder treats ORDER_ALREADY_CANCELLED as a successful cancel.
func (c *Client) CancelOrder(ctx context.Context, trackingNumber string) (CancelResult, error) {
	_, err := c.do(ctx, http.MethodDelete, "/2.2/orders/"+url.PathEscape(trackingNumber), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && strings.Contains(apiErr.Body, codeAlreadyCancelled) {
			c.logger.Info("ninjavan order already cancelled", zap.String("tracking_number", trackingNumber))
			return CancelResult{TrackingNumber: trackingNumber, AlreadyCancelled: true}, nil
		}
		return CancelResult{}, err
	}
	return CancelResult{TrackingNumber: trackingNumber}, nil
}

// Waybill returns the PDF airway bill for a tracking number.
func (c *Client) Waybill(ctx context.Context, trackingNumber string) ([]byte, error) {
	path := "/2.0/reports/waybill?tid=" + url.QueryEscape(trackingNumber) + "&h=0"
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	raw, status, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.logger.Warn("ninjavan token rejected, refreshing", zap.String("path", path))
		c.tokens.Invalidate(token)
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		raw, status, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}
	}
	if status < 200 || status >= 300 {
		return nil, &APIError{StatusCode: status, Body: string(bytes.TrimSpace(raw))}
	}
	return raw, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	endpoint := fmt.Sprintf("%s/%s%s", c.cfg.BaseURL, c.cfg.CountryCode, path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("ninjavan: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, 0, fmt.Errorf("ninjavan: read body: %w", err)
	}
	return raw, resp.StatusCode, nil
}
