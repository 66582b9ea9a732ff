package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultGateway           = "square"
	defaultSquareEnvironment = "sandbox"
	defaultMaxAttempts       = 5
	defaultBackoffBase       = 250 * time.Millisecond
	defaultBackoffCap        = 8 * time.Second
	defaultCurrencyCode      = "USD"
	defaultCountryCode       = "US"
	defaultItemCost          = "2.00"
	defaultTaxRegion         = "CA"
	defaultTaxRate           = "0.06"
	defaultTaxRates          = "CA=0.10,GA=0.075,MI=0.05"
	defaultIdempotencyHeader = "Idempotency-Key"
	defaultIdempotencyTTL    = 24 * time.Hour
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Square      SquareConfig
	Stripe      StripeConfig
	Payments    PaymentsConfig
	Pricing     PricingConfig
	Idempotency IdempotencyConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// SquareConfig stores Square gateway credentials and environment selection.
type SquareConfig struct {
	AccessToken string
	LocationID  string
	Environment string
}

// StripeConfig stores Stripe gateway credentials.
type StripeConfig struct {
	APIKey string
}

// PaymentsConfig controls gateway selection and the submission retry policy.
type PaymentsConfig struct {
	Gateway     string
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// PricingConfig seeds the cart and the regional tax policy.
type PricingConfig struct {
	CurrencyCode   string
	CountryCode    string
	ItemCost       string
	DefaultRegion  string
	DefaultTaxRate string
	TaxRates       map[string]string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header string
	TTL    time.Duration
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// Option customises configuration loading.
type Option func(*loaderOptions)

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// and environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Square: SquareConfig{
			AccessToken: stringWithDefault(lookup, "SQUARE_ACCESS_TOKEN", ""),
			LocationID:  stringWithDefault(lookup, "SQUARE_LOCATION_ID", ""),
			Environment: strings.ToLower(stringWithDefault(lookup, "SQUARE_ENVIRONMENT", defaultSquareEnvironment)),
		},
		Stripe: StripeConfig{
			APIKey: stringWithDefault(lookup, "STRIPE_API_KEY", ""),
		},
		Payments: PaymentsConfig{
			Gateway:     strings.ToLower(stringWithDefault(lookup, "PAYMENTS_GATEWAY", defaultGateway)),
			MaxAttempts: intWithDefault(lookup, "PAYMENTS_MAX_ATTEMPTS", defaultMaxAttempts),
			BackoffBase: durationWithDefault(lookup, "PAYMENTS_BACKOFF_BASE", defaultBackoffBase),
			BackoffCap:  durationWithDefault(lookup, "PAYMENTS_BACKOFF_CAP", defaultBackoffCap),
		},
		Pricing: PricingConfig{
			CurrencyCode:   strings.ToUpper(stringWithDefault(lookup, "PRICING_CURRENCY_CODE", defaultCurrencyCode)),
			CountryCode:    strings.ToUpper(stringWithDefault(lookup, "PRICING_COUNTRY_CODE", defaultCountryCode)),
			ItemCost:       stringWithDefault(lookup, "PRICING_ITEM_COST", defaultItemCost),
			DefaultRegion:  strings.ToUpper(stringWithDefault(lookup, "PRICING_DEFAULT_REGION", defaultTaxRegion)),
			DefaultTaxRate: stringWithDefault(lookup, "PRICING_DEFAULT_TAX_RATE", defaultTaxRate),
			TaxRates:       rateMapWithDefault(lookup, "PRICING_TAX_RATES", defaultTaxRates),
		},
		Idempotency: IdempotencyConfig{
			Header: stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:    durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validate(cfg Config) error {
	var missing []string

	switch cfg.Payments.Gateway {
	case "square":
		if strings.TrimSpace(cfg.Square.AccessToken) == "" {
			missing = append(missing, "SQUARE_ACCESS_TOKEN")
		}
		if strings.TrimSpace(cfg.Square.LocationID) == "" {
			missing = append(missing, "SQUARE_LOCATION_ID")
		}
		if cfg.Square.Environment != "sandbox" && cfg.Square.Environment != "production" {
			missing = append(missing, "SQUARE_ENVIRONMENT")
		}
	case "stripe":
		if strings.TrimSpace(cfg.Stripe.APIKey) == "" {
			missing = append(missing, "STRIPE_API_KEY")
		}
	default:
		missing = append(missing, "PAYMENTS_GATEWAY")
	}

	if cfg.Payments.MaxAttempts <= 0 {
		missing = append(missing, "PAYMENTS_MAX_ATTEMPTS")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return &ValidationError{fields: missing}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" {
			continue
		}
		value = strings.Trim(value, "\"'")
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// rateMapWithDefault parses "REGION=rate,REGION=rate" pairs, keeping region codes upper-case.
func rateMapWithDefault(lookup func(string) (string, bool), key, fallback string) map[string]string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}

	values := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		region := strings.ToUpper(strings.TrimSpace(parts[0]))
		rate := strings.TrimSpace(parts[1])
		if region == "" || rate == "" {
			continue
		}
		values[region] = rate
	}
	return values
}
