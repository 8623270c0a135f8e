package mollieclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v2/payments/tr_WDqYK6vllg" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test_key" {
			t.Errorf("unexpected authorization header %q", got)
		}
		_, _ = w.Write([]byte(`{
			"id": "tr_WDqYK6vllg",
			"status": "paid",
			"amount": {"currency": "EUR", "value": "300.00"},
			"metadata": {"dossier_id": "5f0c3f2e-8d4e-4c7e-9f42-0b1a2c3d4e5f", "type": "acompte", "reference": "BQ-2026-0042", "n": 7},
			"_links": {"checkout": {"href": "https://www.mollie.com/checkout/abc"}}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test_key", time.Second)
	payment, err := client.GetPayment(context.Background(), "tr_WDqYK6vllg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.Status != StatusPaid || payment.Amount.Value != "300.00" {
		t.Fatalf("unexpected payment: %+v", payment)
	}
	if got := payment.MetadataString("type"); got != "acompte" {
		t.Fatalf("expected metadata type acompte, got %q", got)
	}
	if got := payment.MetadataString("n"); got != "7" {
		t.Fatalf("expected numeric metadata rendered as 7, got %q", got)
	}
	if payment.CheckoutURL() != "https://www.mollie.com/checkout/abc" {
		t.Fatalf("unexpected checkout url %q", payment.CheckoutURL())
	}
}

func TestCreatePaymentSendsPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req CreatePaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if req.Amount.Value != "300.00" || req.Metadata["dossier_id"] != "b1" || req.WebhookURL == "" {
			t.Errorf("unexpected payload: %+v", req)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"tr_new","status":"open","_links":{"checkout":{"href":"https://pay.example/tr_new"}}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "k", time.Second)
	payment, err := client.CreatePayment(context.Background(), CreatePaymentRequest{
		Amount:      Amount{Currency: "EUR", Value: "300.00"},
		Description: "Acompte BQ-1",
		RedirectURL: "https://portal.example/ok",
		WebhookURL:  "https://api.example/webhooks/mollie",
		Metadata:    map[string]string{"dossier_id": "b1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payment.ID != "tr_new" || payment.CheckoutURL() != "https://pay.example/tr_new" {
		t.Fatalf("unexpected payment: %+v", payment)
	}
}

func TestErrorsCarryTemporaryFlag(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTemporary bool
	}{
		{name: "not found", status: http.StatusNotFound, wantTemporary: false},
		{name: "unprocessable", status: http.StatusUnprocessableEntity, wantTemporary: false},
		{name: "server error", status: http.StatusBadGateway, wantTemporary: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"title":"Error","detail":"boom"}`))
			}))
			defer server.Close()

			_, err := NewClient(server.URL, "k", time.Second).GetPayment(context.Background(), "tr_x")
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected APIError, got %v", err)
			}
			if apiErr.StatusCode != tc.status || apiErr.Temporary != tc.wantTemporary || apiErr.Detail != "boom" {
				t.Fatalf("unexpected error: %+v", apiErr)
			}
		})
	}
}

func TestTimeoutIsTemporary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "k", 20*time.Millisecond).GetPayment(context.Background(), "tr_slow")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Temporary || apiErr.StatusCode != 0 {
		t.Fatalf("expected temporary transport error, got %v", err)
	}
}
