package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	squareSandboxBaseURL    = "https://connect.squareupsandbox.com"
	squareProductionBaseURL = "https://connect.squareup.com"
	squareVersion           = "2024-06-04"
	squarePaymentsPath      = "/v2/payments"
)

// SquareLogger defines the logging contract for Square gateway operations.
type SquareLogger func(ctx context.Context, event string, fields map[string]any)

type squareHTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// SquareGatewayConfig configures the SquareGateway.
type SquareGatewayConfig struct {
	AccessToken string
	Environment string
	BaseURL     string
	HTTPClient  squareHTTPClient
	Logger      SquareLogger
}

// SquareGateway implements the Gateway interface against the Square Payments REST API.
type SquareGateway struct {
	baseURL string
	token   string
	client  squareHTTPClient
	logger  SquareLogger
}

// NewSquareGateway constructs a Square Gateway using the given configuration.
func NewSquareGateway(cfg SquareGatewayConfig) (*SquareGateway, error) {
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errors.New("square: access token is required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		switch strings.ToLower(strings.TrimSpace(cfg.Environment)) {
		case "production":
			baseURL = squareProductionBaseURL
		case "", "sandbox":
			baseURL = squareSandboxBaseURL
		default:
			return nil, fmt.Errorf("square: unknown environment %q", cfg.Environment)
		}
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &SquareGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
		logger:  logger,
	}, nil
}

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squareCreatePaymentBody struct {
	IdempotencyKey    string      `json:"idempotency_key"`
	SourceID          string      `json:"source_id"`
	LocationID        string      `json:"location_id"`
	AmountMoney       squareMoney `json:"amount_money"`
	CustomerID        string      `json:"customer_id,omitempty"`
	VerificationToken string      `json:"verification_token,omitempty"`
}

type squarePayment struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ReceiptURL string `json:"receipt_url"`
	OrderID    string `json:"order_id"`
}

type squareCreatePaymentResult struct {
	Payment *squarePayment `json:"payment"`
	Errors  []ErrorDetail  `json:"errors"`
}

// CreatePayment submits a charge to Square. Responses with a 4xx status other
// than timeout or rate limiting are classified as *APIError; everything else
// surfaces as a transient failure.
func (g *SquareGateway) CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResponse, error) {
	if g == nil {
		return CreatePaymentResponse{}, errors.New("square: gateway is nil")
	}

	body := squareCreatePaymentBody{
		IdempotencyKey: req.IdempotencyKey,
		SourceID:       req.SourceID,
		LocationID:     req.LocationID,
		AmountMoney: squareMoney{
			Amount:   req.Amount.Amount,
			Currency: strings.ToUpper(req.Amount.Currency),
		},
		CustomerID:        req.CustomerID,
		VerificationToken: req.VerificationToken,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return CreatePaymentResponse{}, fmt.Errorf("square: encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+squarePaymentsPath, bytes.NewReader(payload))
	if err != nil {
		return CreatePaymentResponse{}, fmt.Errorf("square: build payment request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.token)
	httpReq.Header.Set("Square-Version", squareVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return CreatePaymentResponse{}, fmt.Errorf("square: create payment: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CreatePaymentResponse{}, fmt.Errorf("square: read payment response: %w", err)
	}

	var result squareCreatePaymentResult
	if err := json.Unmarshal(data, &result); err != nil && resp.StatusCode < 300 {
		return CreatePaymentResponse{}, fmt.Errorf("square: decode payment response: %w", err)
	}

	if resp.StatusCode >= 300 {
		if isSquareClientStatus(resp.StatusCode) {
			g.logger(ctx, "payments.square.rejected", map[string]any{
				"statusCode": resp.StatusCode,
				"errors":     result.Errors,
			})
			return CreatePaymentResponse{}, &APIError{StatusCode: resp.StatusCode, Errors: result.Errors}
		}
		return CreatePaymentResponse{}, fmt.Errorf("square: create payment failed with status %d", resp.StatusCode)
	}

	if result.Payment == nil {
		return CreatePaymentResponse{}, errors.New("square: payment missing from response")
	}

	g.logger(ctx, "payments.square.created", map[string]any{
		"paymentId": result.Payment.ID,
		"status":    result.Payment.Status,
		"orderId":   result.Payment.OrderID,
	})

	return CreatePaymentResponse{
		Payment: Payment{
			ID:         result.Payment.ID,
			Status:     result.Payment.Status,
			ReceiptURL: result.Payment.ReceiptURL,
			OrderID:    result.Payment.OrderID,
		},
		StatusCode: resp.StatusCode,
	}, nil
}

// isSquareClientStatus reports whether the status reflects a request the
// gateway will keep rejecting. Timeouts and rate limits stay retryable.
func isSquareClientStatus(status int) bool {
	if status < 400 || status > 499 {
		return false
	}
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return false
	default:
		return true
	}
}
