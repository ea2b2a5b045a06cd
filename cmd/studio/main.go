package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/LocalAIStudio/app/repository"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/analytics"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/billing"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/cache"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/catalog"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/database"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/license"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ollama"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/router"
)

func main() {
	app, tracker := NewApplication()
	defer tracker.Close()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		fiberlog.Info("[Server] Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			fiberlog.Errorf("[Server] Shutdown failed: %v", err)
		}
	}()

	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "0.0.0.0"), env.GetEnv("APP_PORT", "8000")))
	if err != nil {
		log.Fatal(err)
	}
}

func NewApplication() (*fiber.App, *analytics.Client) {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	cat := loadCatalog()
	tracker := analytics.NewFromEnv()

	verifier := license.NewDefaultVerifier(license.ConfigFromEnv(), license.NewCacheFromEnv(), licenseProvider())
	stripeCfg := billing.StripeConfigFromEnv()
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()
	resolver := entitlements.NewResolver(cat, ledger.New(repos.Purchase, cat.FreeModelID()), verifier, checkoutProvider(stripeCfg), tracker)
	billingSvc := billing.NewService(repos.WebhookEvent, resolver, stripeCfg.WebhookSecret)
	if !stripeCfg.WebhookEnabled() {
		fiberlog.Warnf("[Billing] STRIPE_WEBHOOK_SECRET not set, /api/stripe/webhook answers 501")
	}

	modelServer := ollama.NewClientFromEnv()
	counters := counter.New(counterClient(), "")

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "Local AI Studio Backend",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	installMetrics(app, counters)

	// SWAGGER / OPENAPI
	if path := findOpenAPIFile(); path != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/",
			FilePath: path,
			Path:     "api",
			Title:    "Local AI Studio API",
		}))
	}

	// ROUTER
	router.InstallRouter(app, router.Dependencies{
		ModelServer:    modelServer,
		ModelServerURL: modelServer.BaseURL,
		Resolver:       resolver,
		Billing:        billingSvc,
		SkipPayment:    env.GetBool("SKIP_PAYMENT", false),
		Counters:       counters,
	})

	fiberlog.Infof("[Server] Catalog has %d models, free model %s", len(cat.Models()), cat.FreeModelID())
	return app, tracker
}

// installMetrics mounts the metrics routes behind basic auth. Without
// METRICS_PASSWORD they stay unmounted.
func installMetrics(app *fiber.App, counters *counter.Counters) bool {
	password := env.GetEnv("METRICS_PASSWORD", "")
	if password == "" {
		fiberlog.Warnf("[Server] METRICS_PASSWORD not set, /metrics disabled")
		return false
	}
	metricsAuth := basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): password,
		},
	})
	app.Get("/metrics", metricsAuth, monitor.New())
	app.Get("/metrics/counters", metricsAuth, counters.Handler)
	return true
}

func loadCatalog() *catalog.Catalog {
	path := env.GetEnv("CATALOG_FILE", "")
	if path == "" {
		return catalog.Default()
	}
	c, err := catalog.LoadFile(path)
	if err != nil {
		panic(fmt.Sprintf("load catalog %s: %v", path, err))
	}
	return c
}

func checkoutProvider(cfg billing.StripeConfig) entitlements.CheckoutProvider {
	if !cfg.CheckoutEnabled() {
		fiberlog.Warnf("[Billing] STRIPE_SECRET_KEY not set, paid purchases need SKIP_PAYMENT=true")
		return nil
	}
	sc, err := billing.NewStripeCheckout(cfg, nil)
	if err != nil {
		fiberlog.Errorf("[Billing] Stripe checkout disabled: %v", err)
		return nil
	}
	return sc
}

// licenseProvider returns the Gumroad client, or nil when no product is
// configured; only dev keys are honoured then.
func licenseProvider() license.Provider {
	gc := license.NewGumroadClientFromEnv()
	if gc.ProductID == "" {
		fiberlog.Warnf("[License] GUMROAD_PRODUCT_ID not set, remote license checks disabled")
		return nil
	}
	return gc
}

// counterClient returns the cache client when it answers, so request counters
// are shared between instances.
func counterClient() *redis.Client {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		return nil
	}
	return cache.GetClient()
}

func findOpenAPIFile() string {
	for _, base := range []string{"./", "../../", "../../../"} {
		p := base + "docs/openapi.yml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	fiberlog.Warnf("[Server] docs/openapi.yml not found, API docs disabled")
	return ""
}
