package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/busquote/settlement-service/internal/domain"
	"github.com/busquote/settlement-service/pkg/linkpayclient"
	"github.com/busquote/settlement-service/pkg/mollieclient"
	"github.com/google/uuid"
)

func TestLinkPayParseShapes(t *testing.T) {
	adapter := NewLinkPayAdapter("", nil)

	tests := []struct {
		name string
		body string
		want domain.PaymentEvent
	}{
		{
			name: "data object",
			body: `{"event":"payment.completed","data":{"id":"pay_1","session_id":"cs_1","amount":"30000","currency":"eur","metadata":{"dossier_id":"6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c61","type":"ACOMPTE","reference":"BQ-1"}}}`,
			want: domain.PaymentEvent{Provider: "linkpay", ExternalID: "pay_1", LinkID: "cs_1", BookingID: "6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c61", Reference: "BQ-1",
				InstallmentType: "acompte", AmountMinor: 30000, Currency: "EUR", Kind: domain.EventSucceeded, RawStatus: "payment.completed"},
		},
		{
			name: "payment object with top-level metadata",
			body: `{"type":"checkout.failed","payment":{"id":"pay_2","checkout_session_id":"cs_2","amount":500},"metadata":{"dossier_id":"6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c62","type":"solde"}}`,
			want: domain.PaymentEvent{Provider: "linkpay", ExternalID: "pay_2", LinkID: "cs_2", BookingID: "6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c62",
				InstallmentType: "solde", AmountMinor: 500, Kind: domain.EventFailed, RawStatus: "checkout.failed"},
		},
		{
			name: "flat status",
			body: `{"status":"expired","payment_id":"pay_3","metadata":{"dossier_id":"6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c63","type":"acompte"}}`,
			want: domain.PaymentEvent{Provider: "linkpay", ExternalID: "pay_3", BookingID: "6f1c2a5e-0b7d-4c52-9a3e-1d2f3a4b5c63",
				InstallmentType: "acompte", Kind: domain.EventExpired, RawStatus: "expired"},
		},
		{
			name: "unknown event",
			body: `{"event":"payment.refunded","data":{"id":"pay_4"}}`,
			want: domain.PaymentEvent{Provider: "linkpay", ExternalID: "pay_4", Kind: domain.EventUnknown, RawStatus: "payment.refunded"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := adapter.Parse(context.Background(), []byte(tt.body), nil)
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestMinorAmountDecoding(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		set     bool
		wantErr bool
	}{
		{`30000`, 30000, true, false},
		{`"30000"`, 30000, true, false},
		{`3e4`, 30000, true, false},
		{`null`, 0, false, false},
		{`""`, 0, false, false},
		{`10.5`, 0, false, true},
		{`"abc"`, 0, false, true},
	}

	for _, tt := range tests {
		var m minorAmount
		err := json.Unmarshal([]byte(tt.raw), &m)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.raw, err)
		}
		if m.Value != tt.want || m.Set != tt.set {
			t.Fatalf("%s: expected %d/%v, got %d/%v", tt.raw, tt.want, tt.set, m.Value, m.Set)
		}
	}
}

func TestLinkPayCheckoutSendsMetadata(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") != "key-1" {
			t.Errorf("expected idempotency key, got %q", r.Header.Get("Idempotency-Key"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_9","url":"https://pay.example.com/cs_9","status":"open"}`))
	}))
	defer server.Close()

	bookingID := uuid.New()
	provider := NewLinkPayCheckout(linkpayclient.NewClient(server.URL, "sk_test", 5*time.Second))
	checkout, err := provider.CreateCheckout(context.Background(), CheckoutRequest{
		BookingID:       bookingID,
		Reference:       "BQ-9",
		InstallmentType: "acompte",
		AmountMinor:     30000,
		Currency:        "EUR",
		ExpiresAt:       testNow,
		IdempotencyKey:  "key-1",
	})
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if checkout.ID != "cs_9" || checkout.URL != "https://pay.example.com/cs_9" {
		t.Fatalf("unexpected checkout: %+v", checkout)
	}

	meta, _ := got["metadata"].(map[string]interface{})
	if meta["dossier_id"] != bookingID.String() || meta["type"] != "acompte" || meta["reference"] != "BQ-9" {
		t.Fatalf("unexpected metadata: %v", got["metadata"])
	}
}

func TestLinkPayCheckoutMapsAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"code":"upstream","message":"acquirer unavailable"}}`))
	}))
	defer server.Close()

	provider := NewLinkPayCheckout(linkpayclient.NewClient(server.URL, "sk_test", 5*time.Second))
	_, err := provider.CreateCheckout(context.Background(), CheckoutRequest{BookingID: uuid.New(), AmountMinor: 100, Currency: "EUR"})

	perr, ok := err.(*domain.ProviderError)
	if !ok {
		t.Fatalf("expected *domain.ProviderError, got %T", err)
	}
	if perr.StatusCode != http.StatusBadGateway || !perr.Temporary {
		t.Fatalf("expected temporary 502, got %+v", perr)
	}
}

func TestMollieCheckoutUsesPaymentIDAsLink(t *testing.T) {
	client := &stubMollie{payment: &mollieclient.Payment{
		ID:     "tr_42",
		Status: mollieclient.StatusOpen,
		Links:  map[string]mollieclient.Link{"checkout": {Href: "https://mollie.example.com/checkout/tr_42"}},
	}}
	provider := NewMollieCheckout(client)

	checkout, err := provider.CreateCheckout(context.Background(), CheckoutRequest{
		BookingID:       uuid.New(),
		InstallmentType: "solde",
		AmountMinor:     70050,
		Currency:        "EUR",
	})
	if err != nil {
		t.Fatalf("CreateCheckout returned error: %v", err)
	}
	if checkout.ID != "tr_42" || checkout.URL != "https://mollie.example.com/checkout/tr_42" {
		t.Fatalf("unexpected checkout: %+v", checkout)
	}
	if client.created[0].Amount.Value != "700.50" {
		t.Fatalf("expected decimal amount 700.50, got %s", client.created[0].Amount.Value)
	}
}
