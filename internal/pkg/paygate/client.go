package paygate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotConfigured = errors.New("paygate: client is not configured")
	ErrNotFound      = errors.New("paygate: transaction not found")
	ErrUpstream      = errors.New("paygate: upstream error")
)

// Transaction statuses reported by the gateway.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusExpired   = "expired"
)

// Config holds payment gateway configuration
type Config struct {
	BaseURL       string
	Project       string
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

// Client talks to the payment gateway's hosted checkout and detail API.
type Client struct {
	httpClient *http.Client
	config     Config
}

// TransactionDetail is the gateway's own record of an order.
type TransactionDetail struct {
	Project       string          `json:"project"`
	OrderID       string          `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type detailResponse struct {
	Transaction *TransactionDetail `json:"transaction"`
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		config:     cfg,
	}
}

func (c *Client) Project() string {
	return c.config.Project
}

func (c *Client) WebhookSecret() string {
	return c.config.WebhookSecret
}

// PaymentURL builds the hosted checkout URL the user is redirected to.
func (c *Client) PaymentURL(orderID string, amount decimal.Decimal) (string, error) {
	if strings.TrimSpace(c.config.BaseURL) == "" || strings.TrimSpace(c.config.Project) == "" {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(orderID) == "" {
		return "", fmt.Errorf("validation error: order_id must be non-empty")
	}
	if !amount.IsPositive() {
		return "", fmt.Errorf("validation error: amount must be > 0")
	}

	base := strings.TrimRight(c.config.BaseURL, "/")
	params := url.Values{}
	params.Set("order_id", orderID)
	return fmt.Sprintf("%s/pay/%s/%s?%s", base, url.PathEscape(c.config.Project), FormatAmount(amount), params.Encode()), nil
}

// TransactionDetail asks the gateway what it knows about orderID.
func (c *Client) TransactionDetail(ctx context.Context, orderID string, amount decimal.Decimal) (*TransactionDetail, error) {
	if c == nil || c.httpClient == nil {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(c.config.BaseURL) == "" || strings.TrimSpace(c.config.APIKey) == "" {
		return nil, ErrNotConfigured
	}

	params := url.Values{}
	params.Set("project", c.config.Project)
	params.Set("order_id", orderID)
	params.Set("amount", FormatAmount(amount))
	params.Set("api_key", c.config.APIKey)
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/api/transactiondetail?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("paygate: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrUpstream, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrUpstream, resp.StatusCode, truncate(string(body), 256))
	}

	var out detailResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}
	if out.Transaction == nil {
		return nil, ErrNotFound
	}
	return out.Transaction, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
