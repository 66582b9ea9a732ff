package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maorleger/checkout-api/internal/payments"
)

var (
	// ErrCheckoutInvalidInput indicates the caller supplied invalid input parameters.
	ErrCheckoutInvalidInput = errors.New("checkout: invalid input")
	// ErrCheckoutUnavailable indicates checkout dependencies are not configured.
	ErrCheckoutUnavailable = errors.New("checkout: unavailable")
)

// checkoutTokenizer abstracts payments.Tokenizer for easier testing.
type checkoutTokenizer interface {
	Tokenize(ctx context.Context, method payments.CaptureMethod, opts *payments.TokenizeOptions) (string, error)
}

// checkoutSubmitter abstracts payments.Submitter for easier testing.
type checkoutSubmitter interface {
	Submit(ctx context.Context, req payments.SubmitRequest) (payments.Outcome, error)
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Tokenizer  checkoutTokenizer
	Submitter  checkoutSubmitter
	LocationID string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

// CheckoutService sequences tokenization and payment submission. The charge
// amount is fixed by the fully priced cart's total at the moment submission
// starts; later pricing events do not affect an in-flight attempt.
type CheckoutService struct {
	tokenizer  checkoutTokenizer
	submitter  checkoutSubmitter
	locationID string
	logger     func(ctx context.Context, event string, fields map[string]any)
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (*CheckoutService, error) {
	if deps.Tokenizer == nil {
		return nil, errors.New("checkout service: tokenizer is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("checkout service: submitter is required")
	}
	if strings.TrimSpace(deps.LocationID) == "" {
		return nil, errors.New("checkout service: location id is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CheckoutService{
		tokenizer:  deps.Tokenizer,
		submitter:  deps.Submitter,
		locationID: strings.TrimSpace(deps.LocationID),
		logger:     logger,
	}, nil
}

// CheckoutCommand captures one checkout attempt.
type CheckoutCommand struct {
	Cart              Cart
	Method            payments.CaptureMethod
	TokenizeOptions   *payments.TokenizeOptions
	CustomerID        string
	VerificationToken string
	IdempotencyKey    string
}

// Checkout tokenizes the selected payment method and submits the charge.
// Tokenization failures are returned untouched and no submission is attempted;
// otherwise the submitter's outcome is returned unchanged.
func (s *CheckoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (payments.Outcome, error) {
	if s == nil || s.tokenizer == nil || s.submitter == nil {
		return payments.Outcome{}, ErrCheckoutUnavailable
	}
	if cmd.Method == nil {
		return payments.Outcome{}, fmt.Errorf("%w: payment method is required", ErrCheckoutInvalidInput)
	}

	total := ComputeTotal(cmd.Cart)
	amount, err := minorUnits(total, cmd.Cart.CurrencyCode)
	if err != nil {
		return payments.Outcome{}, fmt.Errorf("%w: %v", ErrCheckoutInvalidInput, err)
	}

	token, err := s.tokenizer.Tokenize(ctx, cmd.Method, cmd.TokenizeOptions)
	if err != nil {
		s.logger(ctx, "checkout.tokenize_failed", map[string]any{
			"error": err.Error(),
		})
		return payments.Outcome{}, err
	}

	s.logger(ctx, "checkout.submitting", map[string]any{
		"amount":   amount,
		"currency": cmd.Cart.CurrencyCode,
	})

	return s.submitter.Submit(ctx, payments.SubmitRequest{
		LocationID:        s.locationID,
		SourceID:          token,
		IdempotencyKey:    cmd.IdempotencyKey,
		CustomerID:        cmd.CustomerID,
		VerificationToken: cmd.VerificationToken,
		Amount: payments.Money{
			Amount:   amount,
			Currency: strings.ToUpper(strings.TrimSpace(cmd.Cart.CurrencyCode)),
		},
	})
}

// currencyExponents lists minor unit exponents that differ from the default of two.
var currencyExponents = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"BHD": 3,
	"KWD": 3,
	"TND": 3,
}

// minorUnits converts a two-decimal cart amount into the integer minor units
// the gateway boundary expects. This is the single conversion point between
// the two money representations.
func minorUnits(amount, currency string) (int64, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", amount)
	}
	if value.IsNegative() {
		return 0, fmt.Errorf("negative amount %q", amount)
	}

	exponent := int32(2)
	if exp, ok := currencyExponents[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		exponent = exp
	}

	shifted := value.Shift(exponent)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-unit precision for %s", amount, currency)
	}
	return shifted.IntPart(), nil
}
