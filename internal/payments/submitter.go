package payments

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultMaxAttempts = 5
	defaultBackoffBase = 250 * time.Millisecond
	defaultBackoffCap  = 8 * time.Second
)

var tracer = otel.Tracer("github.com/maorleger/checkout-api/internal/payments")

var (
	// ErrInvalidRequest indicates a required submission field is missing. The
	// gateway is never contacted for such requests.
	ErrInvalidRequest = errors.New("payments: invalid submission request")
	// ErrSubmissionInFlight indicates another submission is already running for
	// the same idempotency key.
	ErrSubmissionInFlight = errors.New("payments: submission already in flight for idempotency key")
)

// RetriesExhaustedError is surfaced when the retry ceiling is reached without a
// terminal classification; the last transient error stays attached.
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

// Error implements the error interface.
func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("payments: retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

// Unwrap exposes the last transient error.
func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// SubmitRequest carries everything required to exchange a token for a charge.
type SubmitRequest struct {
	LocationID        string
	SourceID          string
	IdempotencyKey    string
	CustomerID        string
	VerificationToken string
	Amount            Money
}

// Outcome is the result of a completed submission.
type Outcome struct {
	Success    bool
	PaymentID  string
	Status     string
	ReceiptURL string
	OrderID    string
}

// SubmitterDeps wires the dependencies required by the Submitter.
type SubmitterDeps struct {
	Gateway     Gateway
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Sleep       func(time.Duration)
	NewKey      func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

// Submitter exchanges a payment token for a captured charge with bounded retry
// and idempotency guarantees. One idempotency key is held fixed across every
// retry of a logical attempt, and no two submissions for the same key run
// concurrently.
type Submitter struct {
	gateway     Gateway
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       func(time.Duration)
	newKey      func() string
	logger      func(ctx context.Context, event string, fields map[string]any)

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewSubmitter constructs a Submitter validating required dependencies.
func NewSubmitter(deps SubmitterDeps) (*Submitter, error) {
	if deps.Gateway == nil {
		return nil, errors.New("payments: gateway is required")
	}
	maxAttempts := deps.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoffBase := deps.BackoffBase
	if backoffBase <= 0 {
		backoffBase = defaultBackoffBase
	}
	backoffCap := deps.BackoffCap
	if backoffCap <= 0 {
		backoffCap = defaultBackoffCap
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	newKey := deps.NewKey
	if newKey == nil {
		newKey = func() string {
			return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Submitter{
		gateway:     deps.Gateway,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		sleep:       sleep,
		newKey:      newKey,
		logger:      logger,
		inFlight:    make(map[string]struct{}),
	}, nil
}

// Submit validates the request, fixes an idempotency key for the attempt, and
// drives the bounded retry loop. Gateway *APIError responses bail immediately;
// any other failure retries with exponential backoff up to the ceiling.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (Outcome, error) {
	if s == nil || s.gateway == nil {
		return Outcome{}, errors.New("payments: submitter is not configured")
	}

	if strings.TrimSpace(req.LocationID) == "" {
		return Outcome{}, fmt.Errorf("%w: missing locationId", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.SourceID) == "" {
		return Outcome{}, fmt.Errorf("%w: missing sourceId", ErrInvalidRequest)
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = s.newKey()
	}
	req.IdempotencyKey = key

	if err := s.acquire(key); err != nil {
		return Outcome{}, err
	}
	defer s.release(key)

	ctx, span := tracer.Start(ctx, "payments.submit")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("payment.amount", req.Amount.Amount),
		attribute.String("payment.currency", req.Amount.Currency),
	)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			s.sleep(s.backoff(attempt - 1))
		}

		s.logger(ctx, "payments.submit.attempt", map[string]any{
			"attempt":    attempt,
			"locationId": req.LocationID,
		})

		resp, err := s.gateway.CreatePayment(ctx, CreatePaymentRequest{
			IdempotencyKey:    req.IdempotencyKey,
			LocationID:        req.LocationID,
			SourceID:          req.SourceID,
			CustomerID:        req.CustomerID,
			VerificationToken: req.VerificationToken,
			Amount:            req.Amount,
		})
		if err == nil {
			span.SetAttributes(attribute.Int("payment.attempts", attempt))
			span.SetStatus(codes.Ok, "")
			s.logger(ctx, "payments.submit.succeeded", map[string]any{
				"attempt":   attempt,
				"paymentId": resp.Payment.ID,
				"status":    resp.Payment.Status,
			})
			return Outcome{
				Success:    true,
				PaymentID:  resp.Payment.ID,
				Status:     resp.Payment.Status,
				ReceiptURL: resp.Payment.ReceiptURL,
				OrderID:    resp.Payment.OrderID,
			}, nil
		}

		if apiErr, ok := IsAPIError(err); ok {
			span.SetAttributes(attribute.Int("payment.attempts", attempt))
			span.SetStatus(codes.Error, "gateway rejected payment")
			s.logger(ctx, "payments.submit.rejected", map[string]any{
				"attempt":    attempt,
				"statusCode": apiErr.StatusCode,
				"errors":     apiErr.Errors,
			})
			return Outcome{}, err
		}

		lastErr = err
		s.logger(ctx, "payments.submit.transient_failure", map[string]any{
			"attempt": attempt,
			"error":   err.Error(),
		})
	}

	span.SetAttributes(attribute.Int("payment.attempts", s.maxAttempts))
	span.SetStatus(codes.Error, "retries exhausted")
	return Outcome{}, &RetriesExhaustedError{Attempts: s.maxAttempts, Last: lastErr}
}

func (s *Submitter) acquire(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[key]; busy {
		return ErrSubmissionInFlight
	}
	s.inFlight[key] = struct{}{}
	return nil
}

func (s *Submitter) release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, key)
}

// backoff doubles per retry starting from the base, capped to keep the worst
// case wait bounded.
func (s *Submitter) backoff(retry int) time.Duration {
	d := s.backoffBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= s.backoffCap {
			return s.backoffCap
		}
	}
	if d > s.backoffCap {
		return s.backoffCap
	}
	return d
}
