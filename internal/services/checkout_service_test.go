package services

import (
	"context"
	"errors"
	"testing"

	"github.com/maorleger/checkout-api/internal/payments"
)

type stubTokenizer struct {
	token string
	err   error
	calls int
}

func (s *stubTokenizer) Tokenize(_ context.Context, _ payments.CaptureMethod, _ *payments.TokenizeOptions) (string, error) {
	s.calls++
	return s.token, s.err
}

type stubSubmitter struct {
	req     payments.SubmitRequest
	outcome payments.Outcome
	err     error
	calls   int
}

func (s *stubSubmitter) Submit(_ context.Context, req payments.SubmitRequest) (payments.Outcome, error) {
	s.calls++
	s.req = req
	return s.outcome, s.err
}

func pricedCart(t *testing.T) Cart {
	t.Helper()
	engine := newTestPricingEngine(t)
	ctx := context.Background()

	cart := engine.InitializeCart()
	cart = engine.OnShippingOptionChanged(ctx, cart, ShippingOption{ID: "shipping-option-2", Label: "Expedited", Amount: "10.00"})
	cart, _ = engine.OnShippingContactChanged(ctx, cart, ShippingContact{State: "CA"})
	return cart
}

func newTestCheckoutService(t *testing.T, tokenizer *stubTokenizer, submitter *stubSubmitter) *CheckoutService {
	t.Helper()
	service, err := NewCheckoutService(CheckoutServiceDeps{
		Tokenizer:  tokenizer,
		Submitter:  submitter,
		LocationID: "loc-1",
	})
	if err != nil {
		t.Fatalf("unexpected error constructing checkout service: %v", err)
	}
	return service
}

func TestCheckoutSubmitsCartTotalInMinorUnits(t *testing.T) {
	tokenizer := &stubTokenizer{token: "cnon:token-1"}
	submitter := &stubSubmitter{outcome: payments.Outcome{
		Success:    true,
		PaymentID:  "pay-1",
		Status:     "COMPLETED",
		ReceiptURL: "https://squareup.com/receipt/pay-1",
	}}
	service := newTestCheckoutService(t, tokenizer, submitter)

	outcome, err := service.Checkout(context.Background(), CheckoutCommand{
		Cart:           pricedCart(t),
		Method:         payments.PrecapturedSource("cnon:token-1"),
		CustomerID:     "cus-1",
		IdempotencyKey: "attempt-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Success || outcome.PaymentID != "pay-1" {
		t.Fatalf("submitter outcome mutated: %+v", outcome)
	}

	if submitter.req.Amount.Amount != 1220 {
		t.Fatalf("expected 1220 minor units for 12.20 USD, got %d", submitter.req.Amount.Amount)
	}
	if submitter.req.Amount.Currency != "USD" {
		t.Fatalf("unexpected currency %q", submitter.req.Amount.Currency)
	}
	if submitter.req.LocationID != "loc-1" || submitter.req.SourceID != "cnon:token-1" {
		t.Fatalf("unexpected submit request: %+v", submitter.req)
	}
	if submitter.req.IdempotencyKey != "attempt-1" || submitter.req.CustomerID != "cus-1" {
		t.Fatalf("unexpected submit request: %+v", submitter.req)
	}
}

func TestCheckoutTokenizationFailureShortCircuits(t *testing.T) {
	rejection := &payments.TokenizationError{Status: "INVALID"}
	tokenizer := &stubTokenizer{err: rejection}
	submitter := &stubSubmitter{}
	service := newTestCheckoutService(t, tokenizer, submitter)

	_, err := service.Checkout(context.Background(), CheckoutCommand{
		Cart:   pricedCart(t),
		Method: payments.PrecapturedSource("cnon:token-1"),
	})

	var tokenErr *payments.TokenizationError
	if !errors.As(err, &tokenErr) || tokenErr != rejection {
		t.Fatalf("tokenization error must pass through untouched, got %v", err)
	}
	if submitter.calls != 0 {
		t.Fatalf("submitter must not run after tokenization failure, got %d calls", submitter.calls)
	}
}

func TestCheckoutSubmitterErrorPassesThrough(t *testing.T) {
	exhausted := &payments.RetriesExhaustedError{Attempts: 5, Last: errors.New("timeout")}
	tokenizer := &stubTokenizer{token: "cnon:token-1"}
	submitter := &stubSubmitter{err: exhausted}
	service := newTestCheckoutService(t, tokenizer, submitter)

	_, err := service.Checkout(context.Background(), CheckoutCommand{
		Cart:   pricedCart(t),
		Method: payments.PrecapturedSource("cnon:token-1"),
	})

	var got *payments.RetriesExhaustedError
	if !errors.As(err, &got) || got != exhausted {
		t.Fatalf("submitter error must pass through untouched, got %v", err)
	}
}

func TestCheckoutRequiresMethod(t *testing.T) {
	service := newTestCheckoutService(t, &stubTokenizer{token: "cnon:token-1"}, &stubSubmitter{})

	_, err := service.Checkout(context.Background(), CheckoutCommand{Cart: pricedCart(t)})
	if !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("expected ErrCheckoutInvalidInput, got %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		currency string
		want     int64
		wantErr  bool
	}{
		{name: "two decimal default", amount: "12.20", currency: "USD", want: 1220},
		{name: "whole amount", amount: "2.00", currency: "usd", want: 200},
		{name: "zero decimal currency", amount: "1200", currency: "JPY", want: 1200},
		{name: "three decimal currency", amount: "1.250", currency: "KWD", want: 1250},
		{name: "sub-unit precision", amount: "1.001", currency: "USD", wantErr: true},
		{name: "negative amount", amount: "-1.00", currency: "USD", wantErr: true},
		{name: "unparseable amount", amount: "twelve", currency: "USD", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := minorUnits(tc.amount, tc.currency)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s %s", tc.amount, tc.currency)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}
