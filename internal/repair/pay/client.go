package pay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is a minimal payment gateway API client.
type Client struct {
	httpClient *http.Client
	merchantID string
	secret     string
	callback   string
	currency   string
	baseURL    string
}

// NewClient constructs a new payment gateway client.
func NewClient(httpClient *http.Client, baseURL, merchantID, secret, callback, currency string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		merchantID: merchantID,
		secret:     secret,
		callback:   callback,
		currency:   currency,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Secret returns the configured API secret.
func (c *Client) Secret() string { return c.secret }

// Order is a created payment order.
type Order struct {
	ID         string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
}

// Status is the gateway view of an order.
type Status struct {
	Paid     bool   `json:"paid"`
	RawState string `json:"state"`
}

// Failed reports whether the gateway gave up on the order.
func (s Status) Failed() bool {
	switch strings.ToLower(s.RawState) {
	case "failed", "declined", "expired", "canceled", "cancelled":
		return true
	}
	return false
}

// CreateOrder creates a payment order for amount.
func (c *Client) CreateOrder(ctx context.Context, amount decimal.Decimal, description string) (Order, error) {
	if !amount.IsPositive() {
		return Order{}, errors.New("pay: amount must be positive")
	}
	payload := map[string]interface{}{
		"merchant_id":  c.merchantID,
		"amount":       amount.StringFixed(2),
		"currency":     c.currency,
		"description":  description,
		"callback_url": c.callback,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Order{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return Order{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Signature", c.sign(body))
	httpReq.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Order{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Order{}, fmt.Errorf("pay: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		Success bool   `json:"success"`
		OrderID string `json:"order_id"`
		URL     string `json:"payment_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Order{}, err
	}
	if !apiResp.Success || apiResp.OrderID == "" {
		return Order{}, fmt.Errorf("pay: unsuccessful response")
	}
	return Order{ID: apiResp.OrderID, PaymentURL: apiResp.URL}, nil
}

// PollStatus fetches the current state of an order.
func (c *Client) PollStatus(ctx context.Context, orderID string) (Status, error) {
	if orderID == "" {
		return Status{}, errors.New("pay: empty order id")
	}
	endpoint := c.baseURL + "/orders/" + url.PathEscape(orderID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Status{}, err
	}
	httpReq.Header.Set("X-Merchant-ID", c.merchantID)
	httpReq.Header.Set("X-Signature", c.sign([]byte(orderID)))

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Status{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return Status{}, fmt.Errorf("pay: unexpected status %s", resp.Status)
	}

	var apiResp struct {
		State string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return Status{}, err
	}
	return Status{Paid: isPaid(apiResp.State), RawState: apiResp.State}, nil
}

func isPaid(state string) bool {
	switch strings.ToLower(state) {
	case "paid", "success", "succeeded", "completed":
		return true
	}
	return false
}

func (c *Client) sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
