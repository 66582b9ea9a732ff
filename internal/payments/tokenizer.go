package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// TokenStatusOK is the status a capture method reports on successful tokenization.
const TokenStatusOK = "OK"

// TokenError carries one structured tokenization failure reported by the capture method.
type TokenError struct {
	Type    string `json:"type,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message,omitempty"`
}

// TokenResult is the raw outcome of invoking a capture method's tokenization capability.
type TokenResult struct {
	Status string
	Token  string
	Errors []TokenError
}

// TokenizeOptions carries method-specific tokenization parameters, such as the
// account details a bank-debit method requires.
type TokenizeOptions struct {
	AccountHolderName string
	Intent            string
}

// CaptureMethod is the external capture capability for one selected payment
// method. The widget behind it manages its own retries and buyer interaction.
type CaptureMethod interface {
	Tokenize(ctx context.Context, opts *TokenizeOptions) (TokenResult, error)
}

// PrecapturedSource wraps a token minted outside the process, typically by a
// browser payments SDK, so it can flow through the same tokenize path.
type PrecapturedSource string

// Tokenize returns the wrapped token as an already successful capture.
func (s PrecapturedSource) Tokenize(context.Context, *TokenizeOptions) (TokenResult, error) {
	return TokenResult{Status: TokenStatusOK, Token: string(s)}, nil
}

// TokenizationError reports a capture-side rejection. It is terminal: token
// exchange is single-attempt by design.
type TokenizationError struct {
	Status string
	Errors []TokenError
}

// Error implements the error interface.
func (e *TokenizationError) Error() string {
	if e == nil {
		return "payments: tokenization failed"
	}
	msg := fmt.Sprintf("payments: tokenization failed with status %s", e.Status)
	if len(e.Errors) > 0 {
		msg += fmt.Sprintf(": %s", e.Errors[0].Message)
	}
	return msg
}

// Tokenizer wraps capture methods and produces single-use payment tokens.
type Tokenizer struct {
	logger func(ctx context.Context, event string, fields map[string]any)
}

// NewTokenizer constructs a Tokenizer with an optional event logger.
func NewTokenizer(logger func(ctx context.Context, event string, fields map[string]any)) *Tokenizer {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Tokenizer{logger: logger}
}

// Tokenize invokes the method's tokenization capability once. A non-OK status
// is surfaced as *TokenizationError and never retried here.
func (t *Tokenizer) Tokenize(ctx context.Context, method CaptureMethod, opts *TokenizeOptions) (string, error) {
	if t == nil {
		return "", errors.New("payments: tokenizer is nil")
	}
	if method == nil {
		return "", errors.New("payments: capture method is required")
	}

	result, err := method.Tokenize(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("payments: tokenize: %w", err)
	}

	if !strings.EqualFold(result.Status, TokenStatusOK) {
		t.logger(ctx, "payments.tokenize.failed", map[string]any{
			"status": result.Status,
			"errors": result.Errors,
		})
		return "", &TokenizationError{Status: result.Status, Errors: result.Errors}
	}

	if strings.TrimSpace(result.Token) == "" {
		return "", &TokenizationError{Status: result.Status, Errors: []TokenError{{Message: "capture method returned an empty token"}}}
	}

	t.logger(ctx, "payments.tokenize.succeeded", map[string]any{})
	return result.Token, nil
}
