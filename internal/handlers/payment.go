package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/maorleger/checkout-api/internal/payments"
	"github.com/maorleger/checkout-api/internal/platform/httpx"
	"github.com/maorleger/checkout-api/internal/services"
)

const maxPaymentRequestBody = 8 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds the size limit")
)

// paymentPricer is the pricing surface the shop handlers depend on.
type paymentPricer interface {
	InitializeCart() services.Cart
	OnShippingOptionChanged(ctx context.Context, cart services.Cart, selected services.ShippingOption) services.Cart
	OnShippingContactChanged(ctx context.Context, cart services.Cart, contact services.ShippingContact) (services.Cart, []services.ShippingOption)
	ShippingOptionsForRegion(region string) []services.ShippingOption
	FindShippingOption(region, id string) (services.ShippingOption, bool)
	DefaultRegion() string
}

// paymentCheckout is the checkout surface the shop handlers depend on.
type paymentCheckout interface {
	Checkout(ctx context.Context, cmd services.CheckoutCommand) (payments.Outcome, error)
}

// ShopHandlers exposes the storefront payment endpoints.
type ShopHandlers struct {
	pricer   paymentPricer
	checkout paymentCheckout
}

// NewShopHandlers constructs the shop handlers.
func NewShopHandlers(pricer paymentPricer, checkout paymentCheckout) *ShopHandlers {
	return &ShopHandlers{
		pricer:   pricer,
		checkout: checkout,
	}
}

// Routes registers shop endpoints under the provided router.
func (h *ShopHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/payment-request", h.paymentRequest)
	r.Post("/payment", h.createPayment)
}

type shippingContactPayload struct {
	State       string `json:"state"`
	City        string `json:"city,omitempty"`
	PostalCode  string `json:"postalCode,omitempty"`
	CountryCode string `json:"countryCode,omitempty"`
}

type createPaymentRequest struct {
	SourceID          string                  `json:"sourceId"`
	IdempotencyKey    string                  `json:"idempotencyKey"`
	CustomerID        string                  `json:"customerId"`
	VerificationToken string                  `json:"verificationToken"`
	ShippingOptionID  string                  `json:"shippingOptionId"`
	ShippingContact   *shippingContactPayload `json:"shippingContact"`
}

type createPaymentResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ReceiptURL string `json:"receiptUrl,omitempty"`
	OrderID    string `json:"orderId,omitempty"`
}

type shippingOptionPayload struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Amount string `json:"amount"`
}

type paymentRequestResponse struct {
	CountryCode            string                  `json:"countryCode"`
	CurrencyCode           string                  `json:"currencyCode"`
	RequestShippingContact bool                    `json:"requestShippingContact"`
	LineItems              []services.LineItem     `json:"lineItems"`
	Total                  services.LineItem       `json:"total"`
	ShippingOptions        []shippingOptionPayload `json:"shippingOptions"`
}

// paymentRequest returns the initial payment sheet: the seeded cart, its
// total, and the shipping options for the default region.
func (h *ShopHandlers) paymentRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricer == nil {
		httpx.WriteError(ctx, w, httpx.NewError("pricing_unavailable", "pricing engine unavailable", http.StatusServiceUnavailable))
		return
	}

	cart := h.pricer.InitializeCart()
	options := h.pricer.ShippingOptionsForRegion(h.pricer.DefaultRegion())

	payload := paymentRequestResponse{
		CountryCode:            cart.CountryCode,
		CurrencyCode:           cart.CurrencyCode,
		RequestShippingContact: true,
		LineItems:              cart.Items,
		Total:                  services.TotalLineItem(cart),
		ShippingOptions:        make([]shippingOptionPayload, 0, len(options)),
	}
	for _, option := range options {
		payload.ShippingOptions = append(payload.ShippingOptions, shippingOptionPayload(option))
	}

	writeJSONResponse(w, http.StatusOK, payload)
}

// createPayment reprices the cart server-side from the buyer's shipping
// selections and submits the charge.
func (h *ShopHandlers) createPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.pricer == nil || h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxPaymentRequestBody)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
		return
	}

	var req createPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	sourceID := strings.TrimSpace(req.SourceID)
	if sourceID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "sourceId is required", http.StatusBadRequest))
		return
	}

	cart := h.pricer.InitializeCart()
	region := h.pricer.DefaultRegion()
	if req.ShippingContact != nil {
		contact := services.ShippingContact{
			State:       req.ShippingContact.State,
			City:        req.ShippingContact.City,
			PostalCode:  req.ShippingContact.PostalCode,
			CountryCode: req.ShippingContact.CountryCode,
		}
		cart, _ = h.pricer.OnShippingContactChanged(ctx, cart, contact)
		region = contact.State
	}
	if optionID := strings.TrimSpace(req.ShippingOptionID); optionID != "" {
		option, ok := h.pricer.FindShippingOption(region, optionID)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "shippingOptionId does not name a shipping option for the region", http.StatusBadRequest))
			return
		}
		cart = h.pricer.OnShippingOptionChanged(ctx, cart, option)
	}

	outcome, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		Cart:              cart,
		Method:            payments.PrecapturedSource(sourceID),
		CustomerID:        strings.TrimSpace(req.CustomerID),
		VerificationToken: strings.TrimSpace(req.VerificationToken),
		IdempotencyKey:    strings.TrimSpace(req.IdempotencyKey),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createPaymentResponse{
		ID:         outcome.PaymentID,
		Status:     outcome.Status,
		ReceiptURL: outcome.ReceiptURL,
		OrderID:    outcome.OrderID,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	var tokenErr *payments.TokenizationError
	var apiErr *payments.APIError
	var exhausted *payments.RetriesExhaustedError

	switch {
	case errors.Is(err, services.ErrCheckoutInvalidInput), errors.Is(err, payments.ErrInvalidRequest):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, payments.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", "a submission with this idempotency key is already in progress", http.StatusConflict))
	case errors.As(err, &tokenErr):
		httpx.WriteError(ctx, w, httpx.NewError("tokenization_failed", "payment method could not be tokenized", http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"status": tokenErr.Status, "errors": tokenErr.Errors}))
	case errors.As(err, &apiErr):
		httpx.WriteError(ctx, w, httpx.NewError("payment_rejected", "payment was rejected by the gateway", http.StatusPaymentRequired).
			WithDetails(map[string]any{"errors": apiErr.Errors}))
	case errors.As(err, &exhausted):
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", "payment could not be completed after retries", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment", http.StatusInternalServerError))
	}
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxPaymentRequestBody
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
