package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/pkg/linkpayclient"
	"go.uber.org/zap"
)

// LinkPayCheckout opens hosted checkouts through LinkPay.
type LinkPayCheckout struct {
	client *linkpayclient.Client
}

func NewLinkPayCheckout(client *linkpayclient.Client) *LinkPayCheckout {
	return &LinkPayCheckout{client: client}
}

func (p *LinkPayCheckout) Name() string { return domain.ProviderLinkPay }

func (p *LinkPayCheckout) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	expiresAt := req.ExpiresAt
	session, err := p.client.CreateCheckoutSession(ctx, linkpayclient.CreateSessionRequest{
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		Description: req.Description,
		Customer:    linkpayclient.Customer{Email: req.CustomerEmail, Name: req.CustomerName},
		Metadata: map[string]string{
			"dossier_id": req.BookingID.String(),
			"type":       req.InstallmentType,
			"reference":  req.Reference,
		},
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		WebhookURL:     req.WebhookURL,
		ExpiresAt:      &expiresAt,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, linkPayProviderError(err)
	}
	return &Checkout{ID: session.ID, URL: session.URL, ExpiresAt: session.ExpiresAt}, nil
}

func linkPayProviderError(err error) error {
	var apiErr *linkpayclient.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   domain.ProviderLinkPay,
			StatusCode: apiErr.StatusCode,
			Message:    apiErr.Message,
			Temporary:  apiErr.Temporary,
		}
	}
	return &domain.ProviderError{Provider: domain.ProviderLinkPay, Message: err.Error()}
}

// LinkPayAdapter authenticates and parses LinkPay webhooks.
type LinkPayAdapter struct {
	secret string
	logger *zap.Logger
}

// NewLinkPayAdapter creates the adapter. An empty secret disables signature checks.
func NewLinkPayAdapter(secret string, logger *zap.Logger) *LinkPayAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkPayAdapter{secret: strings.TrimSpace(secret), logger: logger}
}

func (a *LinkPayAdapter) Name() string { return domain.ProviderLinkPay }

func (a *LinkPayAdapter) Authenticate(body []byte, header http.Header) bool {
	if a.secret == "" {
		a.logger.Warn("webhook secret not configured; accepting unsigned webhook",
			zap.String("component", "reconciler"),
			zap.String("provider", domain.ProviderLinkPay),
		)
		return true
	}
	return linkpayclient.VerifySignature(a.secret, body, header.Get(linkpayclient.SignatureHeader))
}

// minorAmount accepts a JSON number or a numeric string of minor units.
type minorAmount struct {
	Value int64
	Set   bool
}

func (m *minorAmount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == "" {
		return nil
	}
	raw = strings.Trim(raw, "\"")
	if raw == "" {
		return nil
	}
	if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
		m.Value, m.Set = v, true
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f != float64(int64(f)) {
		return fmt.Errorf("amount %q is not an integer number of minor units", raw)
	}
	m.Value, m.Set = int64(f), true
	return nil
}

type linkPayMetadata struct {
	DossierID string `json:"dossier_id"`
	Type      string `json:"type"`
	Reference string `json:"reference"`
}

type linkPayObject struct {
	ID                string           `json:"id"`
	Status            string           `json:"status"`
	Amount            minorAmount      `json:"amount"`
	Currency          string           `json:"currency"`
	SessionID         string           `json:"session_id"`
	CheckoutSessionID string           `json:"checkout_session_id"`
	LinkID            string           `json:"link_id"`
	Metadata          *linkPayMetadata `json:"metadata"`
}

type linkPayWebhook struct {
	ID        string           `json:"id"`
	Event     string           `json:"event"`
	Type      string           `json:"type"`
	Status    string           `json:"status"`
	PaymentID string           `json:"payment_id"`
	Data      *linkPayObject   `json:"data"`
	Payment   *linkPayObject   `json:"payment"`
	Metadata  *linkPayMetadata `json:"metadata"`
}

func (a *LinkPayAdapter) Parse(_ context.Context, body []byte, _ http.Header) (domain.PaymentEvent, error) {
	var hook linkPayWebhook
	if len(bytes.TrimSpace(body)) == 0 {
		return domain.PaymentEvent{}, fmt.Errorf("empty body: %w", domain.ErrMalformedPayload)
	}
	if err := json.Unmarshal(body, &hook); err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode linkpay webhook: %v: %w", err, domain.ErrMalformedPayload)
	}

	obj := hook.Data
	if obj == nil {
		obj = hook.Payment
	}
	if obj == nil {
		obj = &linkPayObject{}
	}

	meta := obj.Metadata
	if meta == nil || meta.DossierID == "" {
		if hook.Metadata != nil {
			meta = hook.Metadata
		}
	}
	if meta == nil {
		meta = &linkPayMetadata{}
	}

	rawStatus := firstNonEmpty(hook.Event, hook.Type, hook.Status, obj.Status)
	event := domain.PaymentEvent{
		Provider:        domain.ProviderLinkPay,
		ExternalID:      firstNonEmpty(obj.ID, hook.PaymentID),
		LinkID:          firstNonEmpty(obj.SessionID, obj.CheckoutSessionID, obj.LinkID),
		BookingID:       strings.TrimSpace(meta.DossierID),
		Reference:       strings.TrimSpace(meta.Reference),
		InstallmentType: strings.ToLower(strings.TrimSpace(meta.Type)),
		AmountMinor:     obj.Amount.Value,
		Currency:        strings.ToUpper(strings.TrimSpace(obj.Currency)),
		Kind:            linkPayEventKind(rawStatus),
		RawStatus:       rawStatus,
	}
	// LinkPay carries the booking metadata in the body, so an unusable known event is a bad body.
	if event.Kind != domain.EventUnknown {
		if err := validateEvent(event); err != nil {
			return domain.PaymentEvent{}, err
		}
	}
	return event, nil
}

func linkPayEventKind(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "payment.completed", "payment.succeeded", "checkout.completed", "paid", "completed", "succeeded":
		return domain.EventSucceeded
	case "payment.failed", "checkout.failed", "failed":
		return domain.EventFailed
	case "payment.expired", "checkout.expired", "expired":
		return domain.EventExpired
	default:
		return domain.EventUnknown
	}
}
