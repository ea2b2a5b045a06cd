package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/ManuelReschke/LocalAIStudio/app/controllers"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Use(cors.New(corsConfig()))

	// Apply UserContext middleware globally as first route middleware
	app.Use(middleware.UserContextMiddleware)

	chat := controllers.NewChatController(h.deps.ModelServer, h.deps.Resolver.Catalog(), h.deps.ModelServerURL)

	app.Get("/health", controllers.HandleHealth)
	app.Post("/chat", h.deps.Counters.Track("chat"), chat.HandleChat)
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

// corsConfig allows credentials for an explicit origin list so the browser
// sends the user_id cookie. A wildcard origin cannot carry credentials.
func corsConfig() cors.Config {
	origins := strings.TrimSpace(env.GetEnv("CORS_ALLOW_ORIGINS", "*"))
	if origins == "" {
		origins = "*"
	}
	return cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, X-License-Key",
		AllowCredentials: origins != "*",
	}
}
