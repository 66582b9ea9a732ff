package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedGateway is returned when the registry cannot locate a gateway.
var ErrUnsupportedGateway = errors.New("payments: unsupported gateway")

// Money carries an amount in integer minor units alongside its currency code.
// Decimal cart amounts never cross the gateway boundary.
type Money struct {
	Amount   int64
	Currency string
}

// CreatePaymentRequest is the narrow request contract shared by gateway adapters.
type CreatePaymentRequest struct {
	IdempotencyKey    string
	LocationID        string
	SourceID          string
	CustomerID        string
	VerificationToken string
	Amount            Money
}

// Payment normalises the gateway's view of a captured charge.
type Payment struct {
	ID         string
	Status     string
	ReceiptURL string
	OrderID    string
}

// CreatePaymentResponse wraps the gateway result with the transport status code.
type CreatePaymentResponse struct {
	Payment    Payment
	StatusCode int
}

// ErrorDetail carries one structured gateway rejection for display to the buyer.
type ErrorDetail struct {
	Category string `json:"category,omitempty"`
	Code     string `json:"code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Field    string `json:"field,omitempty"`
}

// APIError is the terminal classification: the gateway rejected the request as
// malformed, declined, or otherwise unfixable by retrying. Any other error
// returned by a Gateway is treated as transient.
type APIError struct {
	StatusCode int
	Errors     []ErrorDetail
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e == nil {
		return "payments: api error"
	}
	if len(e.Errors) == 0 {
		return fmt.Sprintf("payments: api error (status %d)", e.StatusCode)
	}
	first := e.Errors[0]
	return fmt.Sprintf("payments: api error (status %d): %s %s", e.StatusCode, first.Code, first.Detail)
}

// IsAPIError reports whether err carries the terminal gateway classification.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// Gateway is the contract payment gateway adapters implement. Implementations
// must return *APIError for client-classified rejections so the submission
// controller can distinguish terminal failures from retryable ones.
type Gateway interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (CreatePaymentResponse, error)
}

// Registry selects among configured gateways by name.
type Registry struct {
	gateways       map[string]Gateway
	defaultGateway string
}

// RegistryOption configures optional behaviour when building a Registry.
type RegistryOption func(*Registry)

// WithDefaultGateway overrides the gateway used when no explicit name is given.
func WithDefaultGateway(name string) RegistryOption {
	return func(r *Registry) {
		r.defaultGateway = strings.TrimSpace(strings.ToLower(name))
	}
}

// NewRegistry constructs a Registry over the supplied gateways.
func NewRegistry(gateways map[string]Gateway, opts ...RegistryOption) (*Registry, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	copyMap := make(map[string]Gateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		copyMap[key] = v
	}
	r := &Registry{gateways: copyMap}
	if _, ok := copyMap["square"]; ok {
		r.defaultGateway = "square"
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the gateway registered under name, falling back to the default.
func (r *Registry) Resolve(name string) (Gateway, error) {
	if r == nil || len(r.gateways) == 0 {
		return nil, errors.New("payments: no gateways registered")
	}
	if key := strings.TrimSpace(strings.ToLower(name)); key != "" {
		if gw, ok := r.gateways[key]; ok {
			return gw, nil
		}
		return nil, ErrUnsupportedGateway
	}
	if def := r.defaultGateway; def != "" {
		if gw, ok := r.gateways[def]; ok {
			return gw, nil
		}
	}
	if len(r.gateways) == 1 {
		for _, gw := range r.gateways {
			return gw, nil
		}
	}
	return nil, ErrUnsupportedGateway
}
