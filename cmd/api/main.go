package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumalearn/lumalearn-billing/api/routes"
	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	checkoutsvc "github.com/lumalearn/lumalearn-billing/internal/checkout"
	"github.com/lumalearn/lumalearn-billing/internal/customers"
	"github.com/lumalearn/lumalearn-billing/internal/ledger"
	"github.com/lumalearn/lumalearn-billing/internal/reconciler"
	subscriptionsvc "github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/usage"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	stripewebhook "github.com/lumalearn/lumalearn-billing/internal/webhooks/stripe"
	"github.com/lumalearn/lumalearn-billing/pkg/config"
	"github.com/lumalearn/lumalearn-billing/pkg/db"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
	"github.com/lumalearn/lumalearn-billing/pkg/metrics"
	"github.com/lumalearn/lumalearn-billing/pkg/migrate"
	"github.com/lumalearn/lumalearn-billing/pkg/outbox"
	"github.com/lumalearn/lumalearn-billing/pkg/redis"
	"github.com/lumalearn/lumalearn-billing/pkg/stripe"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stripeClient, err := stripe.NewClient(context.Background(), cfg.Stripe, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap stripe", err)
		os.Exit(1)
	}

	userRepo := users.NewRepository(dbClient.DB())
	catalogRepo := catalog.NewRepository(dbClient.DB())
	subscriptionRepo := subscriptionsvc.NewRepository(dbClient.DB())
	ledgerRepo := ledger.NewRepository(dbClient.DB())
	usageRepo := usage.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	catalogService, err := catalog.NewService(catalog.ServiceParams{
		Repo:   catalogRepo,
		Stripe: catalog.NewStripeClient(stripeClient),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create catalog service", err)
		os.Exit(1)
	}

	customersService, err := customers.NewService(customers.ServiceParams{
		UserRepo: userRepo,
		Stripe:   customers.NewStripeClient(stripeClient),
		Logger:   logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create customers service", err)
		os.Exit(1)
	}

	checkoutService, err := checkoutsvc.NewService(checkoutsvc.ServiceParams{
		UserRepo:          userRepo,
		SubscriptionRepo:  subscriptionRepo,
		Catalog:           catalogService,
		Customers:         customersService,
		Stripe:            checkoutsvc.NewStripeClient(stripeClient),
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Config:            cfg.Checkout,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	subscriptionsService, err := subscriptionsvc.NewService(subscriptionsvc.ServiceParams{
		Repo:              subscriptionRepo,
		UserRepo:          userRepo,
		CatalogRepo:       catalogRepo,
		Stripe:            subscriptionsvc.NewStripeClient(stripeClient),
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscriptions service", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:   usageRepo,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	reconcilerService, err := reconciler.NewService(reconciler.ServiceParams{
		SubscriptionRepo:  subscriptionRepo,
		UserRepo:          userRepo,
		CatalogRepo:       catalogRepo,
		Usage:             usageService,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconciler service", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:              ledgerRepo,
		UserRepo:          userRepo,
		SubscriptionRepo:  subscriptionRepo,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler: reconcilerService,
		Ledger:     ledgerService,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stripe webhook service", err)
		os.Exit(1)
	}

	webhookGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, cfg.Webhook.IdempotencyTTL, "stripe")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook idempotency guard", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			StripeClient:   stripeClient,
			UserRepo:       userRepo,
			Catalog:        catalogService,
			Checkout:       checkoutService,
			Subscriptions:  subscriptionsService,
			Ledger:         ledgerService,
			Usage:          usageService,
			WebhookService: webhookService,
			WebhookGuard:   webhookGuard,
			WebhookMetrics: metrics.NewWebhookMetrics(prometheus.DefaultRegisterer),
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
