package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lumalearn/lumalearn-billing/api/controllers"
	billingcontrollers "github.com/lumalearn/lumalearn-billing/api/controllers/billing"
	webhookcontrollers "github.com/lumalearn/lumalearn-billing/api/controllers/webhooks"
	"github.com/lumalearn/lumalearn-billing/api/middleware"
	"github.com/lumalearn/lumalearn-billing/internal/catalog"
	checkoutsvc "github.com/lumalearn/lumalearn-billing/internal/checkout"
	"github.com/lumalearn/lumalearn-billing/internal/ledger"
	subscriptionsvc "github.com/lumalearn/lumalearn-billing/internal/subscriptions"
	"github.com/lumalearn/lumalearn-billing/internal/usage"
	"github.com/lumalearn/lumalearn-billing/internal/users"
	stripewebhook "github.com/lumalearn/lumalearn-billing/internal/webhooks/stripe"
	"github.com/lumalearn/lumalearn-billing/pkg/config"
	"github.com/lumalearn/lumalearn-billing/pkg/db"
	"github.com/lumalearn/lumalearn-billing/pkg/logger"
	"github.com/lumalearn/lumalearn-billing/pkg/metrics"
	"github.com/lumalearn/lumalearn-billing/pkg/redis"
	"github.com/lumalearn/lumalearn-billing/pkg/stripe"
)

// RouterParams carries every dependency the HTTP surface needs.
type RouterParams struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             db.Pinger
	Redis          *redis.Client
	StripeClient   *stripe.Client
	UserRepo       users.Repository
	Catalog        catalog.Service
	Checkout       checkoutsvc.Service
	Subscriptions  subscriptionsvc.Service
	Ledger         ledger.Service
	Usage          usage.Service
	WebhookService *stripewebhook.Service
	WebhookGuard   *stripewebhook.IdempotencyGuard
	WebhookMetrics *metrics.WebhookMetrics
}

func NewRouter(p RouterParams) http.Handler {
	r := chi.NewRouter()
	logg := p.Logger

	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Get("/health", controllers.Health(p.DB, p.Redis, logg))
	r.Handle("/metrics", promhttp.Handler())

	// Webhooks authenticate with the processor's signature, not a bearer token.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(p.WebhookService, p.StripeClient, p.WebhookGuard, p.WebhookMetrics, logg))
	})

	r.Route("/api/v1/billing", func(r chi.Router) {
		r.Use(middleware.Auth(p.Config.JWT, logg))

		r.Get("/plans", billingcontrollers.ListPlans(p.Catalog, logg))
		r.Post("/checkout", billingcontrollers.StartCheckout(p.Checkout, logg))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/user/{username}", billingcontrollers.GetUserSubscription(p.Subscriptions, logg))
			r.Get("/invoice/{username}", billingcontrollers.PreviewInvoice(p.Subscriptions, logg))
			r.Post("/cancel", billingcontrollers.CancelSubscription(p.Subscriptions, logg))
			r.Post("/resume", billingcontrollers.ResumeSubscription(p.Subscriptions, logg))
			r.Post("/change-plan", billingcontrollers.ChangePlan(p.Subscriptions, logg))
		})

		r.Get("/payments/{username}", billingcontrollers.ListPayments(p.Ledger, p.UserRepo, logg))

		r.Route("/usage", func(r chi.Router) {
			r.Get("/{username}", billingcontrollers.ListUsage(p.Usage, p.UserRepo, logg))
			r.Post("/{username}/{feature}/increment", billingcontrollers.IncrementUsage(p.Usage, p.UserRepo, logg))
		})
	})

	return r
}
