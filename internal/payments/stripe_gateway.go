package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   StripeLogger
	Intents  stripePaymentIntentAPI
}

// StripeGateway implements the Gateway interface on top of Stripe Payment Intents.
// The source token is consumed as a payment method and confirmed in one call.
type StripeGateway struct {
	intents stripePaymentIntentAPI
	logger  StripeLogger
}

// NewStripeGateway constructs a Stripe Gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		intents: intents,
		logger:  logger,
	}, nil
}

// CreatePayment creates and confirms a Payment Intent for the supplied token.
func (g *StripeGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResponse, error) {
	if g == nil {
		return CreatePaymentResponse{}, errors.New("stripe: gateway is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.Amount.Amount),
		Currency:      stripe.String(strings.ToLower(req.Amount.Currency)),
		PaymentMethod: stripe.String(req.SourceID),
		Confirm:       stripe.Bool(true),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.LocationID != "" {
		params.Metadata = map[string]string{"location_id": req.LocationID}
	}
	params.AddExpand("latest_charge")

	intent, err := g.intents.New(params)
	if err != nil {
		return CreatePaymentResponse{}, classifyStripeError(err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})

	receiptURL := ""
	if intent.LatestCharge != nil {
		receiptURL = intent.LatestCharge.ReceiptURL
	}

	return CreatePaymentResponse{
		Payment: Payment{
			ID:         intent.ID,
			Status:     strings.ToUpper(string(intent.Status)),
			ReceiptURL: receiptURL,
		},
		StatusCode: 200,
	}, nil
}

// classifyStripeError maps card declines and request validation failures onto
// the terminal *APIError classification; everything else remains transient.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe: create payment intent: %w", err)
	}

	switch stripeErr.Type {
	case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
		detail := ErrorDetail{
			Category: string(stripeErr.Type),
			Code:     string(stripeErr.Code),
			Detail:   stripeErr.Msg,
			Field:    stripeErr.Param,
		}
		status := stripeErr.HTTPStatusCode
		if status == 0 {
			status = 400
		}
		return &APIError{StatusCode: status, Errors: []ErrorDetail{detail}}
	default:
		return fmt.Errorf("stripe: create payment intent: %w", err)
	}
}
