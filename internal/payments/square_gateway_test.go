package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newSquareTestGateway(t *testing.T, handler http.HandlerFunc) (*SquareGateway, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gateway, err := NewSquareGateway(SquareGatewayConfig{
		AccessToken: "sq0atp-test",
		BaseURL:     server.URL,
		HTTPClient:  server.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing gateway: %v", err)
	}
	return gateway, server
}

func TestSquareCreatePayment(t *testing.T) {
	var captured map[string]any
	gateway, _ := newSquareTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v2/payments" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sq0atp-test" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		if r.Header.Get("Square-Version") == "" {
			t.Fatal("missing Square-Version header")
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"payment": map[string]any{
				"id":          "pay-9",
				"status":      "COMPLETED",
				"receipt_url": "https://squareup.com/receipt/pay-9",
				"order_id":    "order-9",
			},
		})
	})

	resp, err := gateway.CreatePayment(context.Background(), CreatePaymentRequest{
		IdempotencyKey: "key-9",
		LocationID:     "loc-9",
		SourceID:       "cnon:card-nonce",
		Amount:         Money{Amount: 1220, Currency: "usd"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Payment.ID != "pay-9" || resp.Payment.Status != "COMPLETED" {
		t.Fatalf("unexpected payment: %+v", resp.Payment)
	}
	if resp.Payment.ReceiptURL != "https://squareup.com/receipt/pay-9" || resp.Payment.OrderID != "order-9" {
		t.Fatalf("unexpected payment: %+v", resp.Payment)
	}

	if captured["idempotency_key"] != "key-9" || captured["source_id"] != "cnon:card-nonce" || captured["location_id"] != "loc-9" {
		t.Fatalf("unexpected request body: %+v", captured)
	}
	money, ok := captured["amount_money"].(map[string]any)
	if !ok || money["amount"] != float64(1220) || money["currency"] != "USD" {
		t.Fatalf("unexpected amount_money: %+v", captured["amount_money"])
	}
}

func TestSquareCreatePaymentClientError(t *testing.T) {
	gateway, _ := newSquareTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errors": []map[string]any{{
				"category": "PAYMENT_METHOD_ERROR",
				"code":     "CARD_DECLINED",
				"detail":   "Card declined.",
			}},
		})
	})

	_, err := gateway.CreatePayment(context.Background(), CreatePaymentRequest{
		IdempotencyKey: "key-10",
		LocationID:     "loc-10",
		SourceID:       "cnon:card-nonce",
		Amount:         Money{Amount: 200, Currency: "USD"},
	})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected status code %d", apiErr.StatusCode)
	}
	if len(apiErr.Errors) != 1 || apiErr.Errors[0].Code != "CARD_DECLINED" {
		t.Fatalf("unexpected error details: %+v", apiErr.Errors)
	}
}

func TestSquareCreatePaymentServerErrorIsTransient(t *testing.T) {
	gateway, _ := newSquareTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := gateway.CreatePayment(context.Background(), CreatePaymentRequest{
		IdempotencyKey: "key-11",
		LocationID:     "loc-11",
		SourceID:       "cnon:card-nonce",
		Amount:         Money{Amount: 200, Currency: "USD"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("server errors must stay transient, got %v", err)
	}
}

func TestSquareCreatePaymentRateLimitIsTransient(t *testing.T) {
	gateway, _ := newSquareTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := gateway.CreatePayment(context.Background(), CreatePaymentRequest{
		IdempotencyKey: "key-12",
		LocationID:     "loc-12",
		SourceID:       "cnon:card-nonce",
		Amount:         Money{Amount: 200, Currency: "USD"},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		t.Fatalf("rate limiting must stay transient, got %v", err)
	}
}

func TestIsSquareClientStatus(t *testing.T) {
	cases := []struct {
		status int
		want   bool
	}{
		{status: 400, want: true},
		{status: 401, want: true},
		{status: 402, want: true},
		{status: 404, want: true},
		{status: 408, want: false},
		{status: 429, want: false},
		{status: 500, want: false},
		{status: 503, want: false},
	}
	for _, tc := range cases {
		if got := isSquareClientStatus(tc.status); got != tc.want {
			t.Fatalf("status %d: got %v want %v", tc.status, got, tc.want)
		}
	}
}

func TestNewSquareGatewayEnvironments(t *testing.T) {
	gateway, err := NewSquareGateway(SquareGatewayConfig{AccessToken: "tok", Environment: "sandbox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.baseURL != "https://connect.squareupsandbox.com" {
		t.Fatalf("unexpected sandbox base url %q", gateway.baseURL)
	}

	gateway, err = NewSquareGateway(SquareGatewayConfig{AccessToken: "tok", Environment: "production"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gateway.baseURL != "https://connect.squareup.com" {
		t.Fatalf("unexpected production base url %q", gateway.baseURL)
	}

	if _, err := NewSquareGateway(SquareGatewayConfig{AccessToken: "tok", Environment: "staging"}); err == nil {
		t.Fatal("expected error for unknown environment")
	}
	if _, err := NewSquareGateway(SquareGatewayConfig{}); err == nil {
		t.Fatal("expected error for missing access token")
	}
}
