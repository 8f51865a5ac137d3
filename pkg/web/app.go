package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
)

// NewApp routes the run API.
func NewApp(handlers *APIHandlers) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	Routes(app, handlers)

	return app
}

// Routes registers the run endpoints on router.
func Routes(router fiber.Router, handlers *APIHandlers) {
	router.Get("/health", handlers.HealthCheck)

	router.Get("/reports", handlers.GetReports)
	router.Get("/reports/*", handlers.GetReport)

	router.Get("/invocations", handlers.GetInvocations)

	router.Get("/content", handlers.ListContent)
	router.Get("/content/*", handlers.GetContent)
}
