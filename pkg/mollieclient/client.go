/**
 * @description
 * This package provides a client for the Mollie payments API (v2). The settlement-service
 * uses it to open hosted checkouts and to fetch the authoritative state of a payment when
 * a webhook arrives, since Mollie callbacks carry only the payment id.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package mollieclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is the public Mollie API endpoint.
const DefaultBaseURL = "https://api.mollie.com"

// Payment statuses as reported by Mollie.
const (
	StatusOpen       = "open"
	StatusPending    = "pending"
	StatusAuthorized = "authorized"
	StatusPaid       = "paid"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
	StatusExpired    = "expired"
)

// Client is a client for the Mollie API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Mollie API client. A zero timeout falls back to 10 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Amount is Mollie's money representation: a currency and a decimal string ("300.00").
type Amount struct {
	Currency string `json:"currency"`
	Value    string `json:"value"`
}

// Link is one entry of a HAL `_links` object.
type Link struct {
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Payment is the subset of the Mollie payment resource the service reads.
type Payment struct {
	ID          string          `json:"id"`
	Status      string          `json:"status"`
	Amount      Amount          `json:"amount"`
	Description string          `json:"description"`
	Metadata    map[string]any  `json:"metadata"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
	PaidAt      *time.Time      `json:"paidAt,omitempty"`
	Links       map[string]Link `json:"_links"`
}

// CheckoutURL returns the hosted checkout URL, empty once the payment is final.
func (p Payment) CheckoutURL() string {
	return p.Links["checkout"].Href
}

// MetadataString returns a metadata value as a string, tolerating numbers.
func (p Payment) MetadataString(key string) string {
	switch v := p.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// CreatePaymentRequest is the payload for POST /v2/payments.
type CreatePaymentRequest struct {
	Amount      Amount            `json:"amount"`
	Description string            `json:"description"`
	RedirectURL string            `json:"redirectUrl"`
	CancelURL   string            `json:"cancelUrl,omitempty"`
	WebhookURL  string            `json:"webhookUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ExpiresAt   string            `json:"expiresAt,omitempty"`
}

// APIError is returned for non-2xx responses and transport failures.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string

	// Temporary marks timeouts, transport failures and 5xx responses.
	Temporary bool
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "mollie api unreachable: " + e.Detail
	}
	return fmt.Sprintf("mollie api error: status %d %s - %s", e.StatusCode, e.Title, e.Detail)
}

// GetPayment fetches a payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return nil, errors.New("payment id is required")
	}
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v2/payments/"+url.PathEscape(paymentID), nil, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

// CreatePayment opens a hosted checkout.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v2/payments", req, &payment); err != nil {
		return nil, err
	}
	return &payment, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &APIError{Detail: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIError{StatusCode: resp.StatusCode, Detail: "failed to read response body", Temporary: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Temporary: resp.StatusCode >= 500}
		var errResp struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(bodyBytes, &errResp) == nil {
			apiErr.Title = errResp.Title
			apiErr.Detail = errResp.Detail
		}
		return apiErr
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
