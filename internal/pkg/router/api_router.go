package router

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/LocalAIStudio/app/controllers"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/billing"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/cache"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/metrics/counter"
)

// Dependencies are the services the routes are built from.
type Dependencies struct {
	ModelServer    controllers.ModelServer
	ModelServerURL string
	Resolver       *entitlements.Resolver
	Billing        *billing.Service
	SkipPayment    bool
	Counters       *counter.Counters
}

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	chat := controllers.NewChatController(h.deps.ModelServer, h.deps.Resolver.Catalog(), h.deps.ModelServerURL)
	purchase := controllers.NewPurchaseController(h.deps.Resolver, h.deps.SkipPayment)
	billingCtrl := controllers.NewBillingController(h.deps.Billing)

	// The provider retries webhooks on its own schedule; keep them outside the limiter.
	app.Post("/api/stripe/webhook", billingCtrl.HandleStripeWebhook)

	api := app.Group("/api", limiter.New(limiterConfig()))
	api.Get("/models", chat.HandleListModels)
	api.Get("/models/owned", purchase.HandleOwnedModels)
	api.Get("/models/catalog", purchase.HandleCatalog)
	api.Get("/models/status/:model", chat.HandleModelStatus)
	api.Post("/models/install", h.deps.Counters.Track("install"), chat.HandleInstallModel)
	api.Post("/models/purchase/:model_id", h.deps.Counters.Track("purchase"), purchase.HandlePurchase)
	api.Get("/license/check", purchase.HandleLicenseCheck)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func limiterConfig() limiter.Config {
	limit, err := strconv.Atoi(env.GetEnv("RATE_LIMIT_MAX", "60"))
	if err != nil || limit <= 0 {
		limit = 60
	}
	cfg := limiter.Config{
		Max:        limit,
		Expiration: env.GetDuration("RATE_LIMIT_WINDOW", time.Minute),
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "Too many requests, slow down",
			})
		},
	}
	if storage := limiterStorage(); storage != nil {
		cfg.Storage = storage
	}
	return cfg
}

// limiterStorage shares limiter state through the cache server so several
// instances enforce one budget. Nil keeps the in-memory default.
func limiterStorage() fiber.Storage {
	if !env.GetBool("RATE_LIMIT_REDIS", false) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		log.Warnf("[Router] Cache unreachable, rate limiter uses memory: %v", err)
		return nil
	}

	opts := cache.GetClient().Options()
	host, portStr, err := net.SplitHostPort(opts.Addr)
	if err != nil {
		log.Warnf("[Router] Invalid cache address %q, rate limiter uses memory", opts.Addr)
		return nil
	}
	port, _ := strconv.Atoi(portStr)

	// Separate database so limiter keys never collide with the license cache.
	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: 2,
		Reset:    false,
	})
}
