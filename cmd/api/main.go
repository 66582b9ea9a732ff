package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/maorleger/checkout-api/internal/handlers"
	"github.com/maorleger/checkout-api/internal/payments"
	"github.com/maorleger/checkout-api/internal/platform/config"
	"github.com/maorleger/checkout-api/internal/platform/idempotency"
	"github.com/maorleger/checkout-api/internal/platform/observability"
	"github.com/maorleger/checkout-api/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	gateways := make(map[string]payments.Gateway)
	if cfg.Square.AccessToken != "" {
		squareGateway, err := payments.NewSquareGateway(payments.SquareGatewayConfig{
			AccessToken: cfg.Square.AccessToken,
			Environment: cfg.Square.Environment,
			Logger:      observability.EventLogger(logger.Named("square")),
		})
		if err != nil {
			logger.Fatal("failed to initialise square gateway", zap.Error(err))
		}
		gateways["square"] = squareGateway
	}
	if cfg.Stripe.APIKey != "" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: cfg.Stripe.APIKey,
			Logger: observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		gateways["stripe"] = stripeGateway
	}

	registry, err := payments.NewRegistry(gateways, payments.WithDefaultGateway(cfg.Payments.Gateway))
	if err != nil {
		logger.Fatal("failed to build gateway registry", zap.Error(err))
	}
	gateway, err := registry.Resolve(cfg.Payments.Gateway)
	if err != nil {
		logger.Fatal("failed to resolve payment gateway", zap.Error(err), zap.String("gateway", cfg.Payments.Gateway))
	}

	submitter, err := payments.NewSubmitter(payments.SubmitterDeps{
		Gateway:     gateway,
		MaxAttempts: cfg.Payments.MaxAttempts,
		BackoffBase: cfg.Payments.BackoffBase,
		BackoffCap:  cfg.Payments.BackoffCap,
		Logger:      observability.EventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment submitter", zap.Error(err))
	}

	tokenizer := payments.NewTokenizer(observability.EventLogger(logger.Named("tokenizer")))

	taxPolicy, err := services.NewTaxPolicy(cfg.Pricing.TaxRates, cfg.Pricing.DefaultTaxRate)
	if err != nil {
		logger.Fatal("failed to build tax policy", zap.Error(err))
	}
	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		CurrencyCode:  cfg.Pricing.CurrencyCode,
		CountryCode:   cfg.Pricing.CountryCode,
		ItemCost:      cfg.Pricing.ItemCost,
		DefaultRegion: cfg.Pricing.DefaultRegion,
		Tax:           taxPolicy,
		Logger:        observability.EventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Tokenizer:  tokenizer,
		Submitter:  submitter,
		LocationID: cfg.Square.LocationID,
		Logger:     observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	shopHandlers := handlers.NewShopHandlers(pricingEngine, checkoutService)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithShopMiddlewares(idempotencyMiddleware),
		handlers.WithShopRoutes(shopHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("checkout api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
