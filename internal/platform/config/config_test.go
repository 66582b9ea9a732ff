package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"SQUARE_ACCESS_TOKEN": "sq0atp-test",
			"SQUARE_LOCATION_ID":  "loc-1",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Payments.Gateway != "square" {
		t.Fatalf("expected default gateway square, got %s", cfg.Payments.Gateway)
	}
	if cfg.Payments.MaxAttempts != 5 {
		t.Fatalf("expected default 5 attempts, got %d", cfg.Payments.MaxAttempts)
	}
	if cfg.Square.Environment != "sandbox" {
		t.Fatalf("expected default sandbox environment, got %s", cfg.Square.Environment)
	}
	if cfg.Pricing.CurrencyCode != "USD" || cfg.Pricing.CountryCode != "US" {
		t.Fatalf("unexpected pricing locale %s/%s", cfg.Pricing.CurrencyCode, cfg.Pricing.CountryCode)
	}
	if cfg.Pricing.ItemCost != "2.00" || cfg.Pricing.DefaultRegion != "CA" {
		t.Fatalf("unexpected pricing defaults: %+v", cfg.Pricing)
	}
	if cfg.Pricing.TaxRates["CA"] != "0.10" || cfg.Pricing.TaxRates["GA"] != "0.075" || cfg.Pricing.TaxRates["MI"] != "0.05" {
		t.Fatalf("unexpected tax rates: %+v", cfg.Pricing.TaxRates)
	}
	if cfg.Pricing.DefaultTaxRate != "0.06" {
		t.Fatalf("unexpected default tax rate %s", cfg.Pricing.DefaultTaxRate)
	}
	if cfg.Idempotency.Header != "Idempotency-Key" || cfg.Idempotency.TTL != 24*time.Hour {
		t.Fatalf("unexpected idempotency defaults: %+v", cfg.Idempotency)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"SQUARE_ACCESS_TOKEN":   "sq0atp-test",
			"SQUARE_LOCATION_ID":    "loc-1",
			"SQUARE_ENVIRONMENT":    "Production",
			"API_SERVER_PORT":       "9090",
			"PAYMENTS_MAX_ATTEMPTS": "3",
			"PAYMENTS_BACKOFF_BASE": "50ms",
			"PRICING_TAX_RATES":     "ny=0.08, wa=0.065",
			"PRICING_ITEM_COST":     "4.50",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Fatalf("expected port 9090, got %s", cfg.Server.Port)
	}
	if cfg.Square.Environment != "production" {
		t.Fatalf("environment not normalised: %s", cfg.Square.Environment)
	}
	if cfg.Payments.MaxAttempts != 3 || cfg.Payments.BackoffBase != 50*time.Millisecond {
		t.Fatalf("unexpected payments config: %+v", cfg.Payments)
	}
	if cfg.Pricing.ItemCost != "4.50" {
		t.Fatalf("unexpected item cost %s", cfg.Pricing.ItemCost)
	}
	if cfg.Pricing.TaxRates["NY"] != "0.08" || cfg.Pricing.TaxRates["WA"] != "0.065" {
		t.Fatalf("rate map not parsed: %+v", cfg.Pricing.TaxRates)
	}
	if _, ok := cfg.Pricing.TaxRates["CA"]; ok {
		t.Fatal("explicit rate map must replace the default table")
	}
}

func TestLoadValidatesSquareCredentials(t *testing.T) {
	_, err := Load(WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(map[string]string{}))

	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	fields := invalid.Fields()
	if len(fields) != 2 || fields[0] != "SQUARE_ACCESS_TOKEN" || fields[1] != "SQUARE_LOCATION_ID" {
		t.Fatalf("unexpected missing fields: %v", fields)
	}
}

func TestLoadValidatesStripeGateway(t *testing.T) {
	_, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{"PAYMENTS_GATEWAY": "stripe"}),
	)

	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	fields := invalid.Fields()
	if len(fields) != 1 || fields[0] != "STRIPE_API_KEY" {
		t.Fatalf("unexpected missing fields: %v", fields)
	}

	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{
			"PAYMENTS_GATEWAY": "stripe",
			"STRIPE_API_KEY":   "sk_test_123",
		}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Payments.Gateway != "stripe" {
		t.Fatalf("unexpected gateway %s", cfg.Payments.Gateway)
	}
}

func TestLoadRejectsUnknownGateway(t *testing.T) {
	_, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(""),
		WithEnvMap(map[string]string{"PAYMENTS_GATEWAY": "paypal"}),
	)

	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	fields := invalid.Fields()
	if len(fields) != 1 || fields[0] != "PAYMENTS_GATEWAY" {
		t.Fatalf("unexpected missing fields: %v", fields)
	}
}

func TestLoadReadsDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# local overrides\nexport SQUARE_ACCESS_TOKEN=sq0atp-file\nSQUARE_LOCATION_ID=\"loc-file\"\nAPI_SERVER_PORT='7070'\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(WithoutSystemEnv(), WithEnvFile(path))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Square.AccessToken != "sq0atp-file" || cfg.Square.LocationID != "loc-file" {
		t.Fatalf("env file values not applied: %+v", cfg.Square)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("quoted value not trimmed: %s", cfg.Server.Port)
	}
}

func TestEnvMapTakesPrecedenceOverDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("SQUARE_ACCESS_TOKEN=from-file\nSQUARE_LOCATION_ID=loc-file\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}

	cfg, err := Load(
		WithoutSystemEnv(),
		WithEnvFile(path),
		WithEnvMap(map[string]string{"SQUARE_ACCESS_TOKEN": "from-map"}),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Square.AccessToken != "from-map" {
		t.Fatalf("expected map value to win, got %s", cfg.Square.AccessToken)
	}
	if cfg.Square.LocationID != "loc-file" {
		t.Fatalf("expected file fallback, got %s", cfg.Square.LocationID)
	}
}
