package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/craftlinehq/craftline-backend/api/controllers"
	consultationcontrollers "github.com/craftlinehq/craftline-backend/api/controllers/consultations"
	disputecontrollers "github.com/craftlinehq/craftline-backend/api/controllers/disputes"
	ordercontrollers "github.com/craftlinehq/craftline-backend/api/controllers/orders"
	pricingcontrollers "github.com/craftlinehq/craftline-backend/api/controllers/pricing"
	webhookcontrollers "github.com/craftlinehq/craftline-backend/api/controllers/webhooks"
	"github.com/craftlinehq/craftline-backend/api/middleware"
	"github.com/craftlinehq/craftline-backend/internal/consultations"
	"github.com/craftlinehq/craftline-backend/internal/disputes"
	"github.com/craftlinehq/craftline-backend/internal/orders"
	"github.com/craftlinehq/craftline-backend/internal/payments"
	"github.com/craftlinehq/craftline-backend/internal/pricing"
	stripewebhook "github.com/craftlinehq/craftline-backend/internal/webhooks/stripe"
	"github.com/craftlinehq/craftline-backend/pkg/config"
	"github.com/craftlinehq/craftline-backend/pkg/db"
	"github.com/craftlinehq/craftline-backend/pkg/logger"
	"github.com/craftlinehq/craftline-backend/pkg/redis"
	"github.com/craftlinehq/craftline-backend/pkg/stripe"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	ordersService *orders.Service,
	pricingService *pricing.Service,
	consultationsService *consultations.Service,
	disputesService *disputes.Service,
	paymentsManager *payments.Manager,
	stripeClient *stripe.Client,
	webhookService *stripewebhook.Service,
	webhookGuard *stripewebhook.IdempotencyGuard,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(webhookService, stripeClient, webhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.ActorContext(logg))

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", ordercontrollers.List(ordersService, logg))
			r.Post("/", ordercontrollers.CreateInquiry(ordersService, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(ordersService, logg))
				r.Post("/procurement", ordercontrollers.StartProcurement(ordersService, logg))
				r.Post("/transition", ordercontrollers.Transition(ordersService, logg))
				r.Post("/cancel", ordercontrollers.Cancel(ordersService, logg))
				r.Post("/reauthorize", ordercontrollers.Reauthorize(paymentsManager, ordersService, logg))

				r.Route("/price", func(r chi.Router) {
					r.Post("/", pricingcontrollers.Propose(pricingService, logg))
					r.Post("/approve", pricingcontrollers.Approve(pricingService, logg))
					r.Post("/decline", pricingcontrollers.Decline(pricingService, logg))
				})

				r.Route("/consultation", func(r chi.Router) {
					r.Post("/", consultationcontrollers.Request(consultationsService, logg))
					r.Post("/start", consultationcontrollers.Start(consultationsService, logg))
					r.Post("/complete", consultationcontrollers.Complete(consultationsService, logg))
					r.Post("/waive", consultationcontrollers.Waive(consultationsService, logg))
				})

				r.Post("/disputes", disputecontrollers.File(disputesService, logg))
			})
		})

		r.Route("/disputes/{disputeId}", func(r chi.Router) {
			r.Post("/review", disputecontrollers.Review(disputesService, logg))
			r.Post("/escalate", disputecontrollers.Escalate(disputesService, logg))
			r.Post("/resolve", disputecontrollers.Resolve(disputesService, logg))
		})
	})

	return r
}
