package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/pkg/mollieclient"
)

// MolliePayments is the part of the Mollie client the service uses.
type MolliePayments interface {
	GetPayment(ctx context.Context, paymentID string) (*mollieclient.Payment, error)
	CreatePayment(ctx context.Context, req mollieclient.CreatePaymentRequest) (*mollieclient.Payment, error)
}

// MollieCheckout opens hosted checkouts through Mollie. The Mollie payment id doubles as
// the provider link id, so webhooks map straight back to the link.
type MollieCheckout struct {
	client MolliePayments
}

func NewMollieCheckout(client MolliePayments) *MollieCheckout {
	return &MollieCheckout{client: client}
}

func (p *MollieCheckout) Name() string { return domain.ProviderMollie }

func (p *MollieCheckout) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	payment, err := p.client.CreatePayment(ctx, mollieclient.CreatePaymentRequest{
		Amount:      mollieclient.Amount{Currency: req.Currency, Value: domain.FormatMinor(req.AmountMinor)},
		Description: req.Description,
		RedirectURL: req.SuccessURL,
		CancelURL:   req.CancelURL,
		WebhookURL:  req.WebhookURL,
		Metadata: map[string]string{
			"dossier_id": req.BookingID.String(),
			"type":       req.InstallmentType,
			"reference":  req.Reference,
		},
	})
	if err != nil {
		return nil, mollieProviderError(err)
	}
	if payment.ID == "" || payment.CheckoutURL() == "" {
		return nil, &domain.ProviderError{Provider: domain.ProviderMollie, Message: "payment response missing id or checkout url"}
	}
	return &Checkout{ID: payment.ID, URL: payment.CheckoutURL(), ExpiresAt: payment.ExpiresAt}, nil
}

func mollieProviderError(err error) error {
	var apiErr *mollieclient.APIError
	if errors.As(err, &apiErr) {
		return &domain.ProviderError{
			Provider:   domain.ProviderMollie,
			StatusCode: apiErr.StatusCode,
			Message:    strings.TrimSpace(apiErr.Title + " " + apiErr.Detail),
			Temporary:  apiErr.Temporary,
		}
	}
	return &domain.ProviderError{Provider: domain.ProviderMollie, Message: err.Error()}
}

// MollieAdapter handles Mollie webhooks. The callback carries only the payment id and no
// signature; the authoritative status and amount are fetched back from the API, which is
// what authenticates the notification.
type MollieAdapter struct {
	client MolliePayments
}

func NewMollieAdapter(client MolliePayments) *MollieAdapter {
	return &MollieAdapter{client: client}
}

func (a *MollieAdapter) Name() string { return domain.ProviderMollie }

func (a *MollieAdapter) Authenticate([]byte, http.Header) bool { return true }

func (a *MollieAdapter) Parse(ctx context.Context, body []byte, _ http.Header) (domain.PaymentEvent, error) {
	form, err := url.ParseQuery(string(body))
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("decode mollie webhook: %v: %w", err, domain.ErrMalformedPayload)
	}
	paymentID := strings.TrimSpace(form.Get("id"))
	if paymentID == "" {
		return domain.PaymentEvent{}, fmt.Errorf("missing payment id: %w", domain.ErrMalformedPayload)
	}

	payment, err := a.client.GetPayment(ctx, paymentID)
	if err != nil {
		return domain.PaymentEvent{}, fmt.Errorf("fetch mollie payment %s: %w", paymentID, mollieProviderError(err))
	}

	event := domain.PaymentEvent{
		Provider:        domain.ProviderMollie,
		ExternalID:      payment.ID,
		LinkID:          payment.ID,
		BookingID:       payment.MetadataString("dossier_id"),
		Reference:       payment.MetadataString("reference"),
		InstallmentType: strings.ToLower(payment.MetadataString("type")),
		Currency:        strings.ToUpper(payment.Amount.Currency),
		Kind:            mollieEventKind(payment.Status),
		RawStatus:       payment.Status,
	}
	if payment.Amount.Value != "" {
		amount, err := domain.ParseDecimalMinor(payment.Amount.Value)
		if err != nil {
			return domain.PaymentEvent{}, fmt.Errorf("mollie payment %s amount %q: %w", payment.ID, payment.Amount.Value, err)
		}
		event.AmountMinor = amount
	}
	return event, nil
}

func mollieEventKind(status string) string {
	switch status {
	case mollieclient.StatusPaid:
		return domain.EventSucceeded
	case mollieclient.StatusFailed:
		return domain.EventFailed
	case mollieclient.StatusExpired, mollieclient.StatusCanceled:
		return domain.EventExpired
	default:
		return domain.EventUnknown
	}
}
