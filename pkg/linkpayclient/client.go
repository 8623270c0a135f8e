/**
 * @description
 * This package provides a client for the LinkPay hosted-checkout API and the helpers
 * needed to authenticate its webhooks. Amounts are always minor units.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package linkpayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the LinkPay API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new LinkPay API client. A zero timeout falls back to 10 seconds.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Customer identifies the payer on the hosted page.
type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CreateSessionRequest is the payload for POST /v1/checkout/sessions.
type CreateSessionRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	Customer    Customer          `json:"customer"`
	Metadata    map[string]string `json:"metadata"`
	SuccessURL  string            `json:"success_url"`
	CancelURL   string            `json:"cancel_url"`
	WebhookURL  string            `json:"webhook_url"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`

	// IdempotencyKey is sent as a header so a retried create returns the same session.
	IdempotencyKey string `json:"-"`
}

// Session is a hosted checkout session.
type Session struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// APIError is returned for non-2xx responses and transport failures.
type APIError struct {
	StatusCode int
	Code       string
	Message    string

	// Temporary marks timeouts, transport failures and 5xx responses.
	Temporary bool
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return "linkpay api unreachable: " + e.Message
	}
	return fmt.Sprintf("linkpay api error: status %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// CreateCheckoutSession opens a hosted checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, payload CreateSessionRequest) (*Session, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("linkpay base URL is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/checkout/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if payload.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", payload.IdempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &APIError{Message: err.Error(), Temporary: true}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "failed to read response body", Temporary: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Temporary: resp.StatusCode >= 500}
		var errResp struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(bodyBytes, &errResp) == nil {
			apiErr.Code = errResp.Error.Code
			apiErr.Message = errResp.Error.Message
		}
		return nil, apiErr
	}

	var session Session
	if err := json.Unmarshal(bodyBytes, &session); err != nil {
		return nil, fmt.Errorf("failed to decode session response: %w", err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "session response missing id or url"}
	}
	return &session, nil
}
