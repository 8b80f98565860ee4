package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"github.com/spec-kit/account-service/internal/api/http/handlers"
	"github.com/spec-kit/account-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Metrics        *handlers.MetricsHandler
	Users          *handlers.UsersHandler
	AuthMiddleware *auth.AuthMiddleware
	ClientURL      string
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Snapshot)
	}

	api := app.Group("/api")
	if cfg.ClientURL != "" {
		api.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.ClientURL,
			AllowCredentials: cfg.ClientURL != "*",
			AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
			AllowMethods:     "GET,POST,PUT,OPTIONS",
		}))
	}

	authGroup := api.Group("/auth")
	authGroup.Post("/register", cfg.Users.Register)
	authGroup.Post("/login", cfg.Users.Login)

	requireAuth := cfg.AuthMiddleware.Handle
	authGroup.Get("/user", requireAuth, cfg.Users.Me)
	authGroup.Put("/user", requireAuth, cfg.Users.UpdateProfile)
	authGroup.Put("/change-password", requireAuth, cfg.Users.ChangePassword)
}
