package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"pagepress/internal/config"
	"pagepress/internal/export"
	"pagepress/internal/http/handlers"
	"pagepress/internal/http/middleware"
	"pagepress/internal/infra/logging"
	"pagepress/internal/infra/pdfcache"
	"pagepress/internal/infra/ratelimit"
	"pagepress/internal/tokens"
)

// Deps is what the HTTP layer needs from main.
type Deps struct {
	Config   config.Config
	Renderer handlers.Renderer
	Cache    *pdfcache.Cache
	Archiver export.Archiver
	// Tokens is required when Config.Auth.Enabled is set.
	Tokens *tokens.Cache
	// LimiterStore overrides the storage built from Config.Cache.
	LimiterStore fiber.Storage
}

// New creates and configures the Fiber app.
func New(d Deps) *fiber.App {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		Prefork:               cfg.Server.Prefork,
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	middleware.Register(app)
	if cfg.Auth.Enabled && d.Tokens != nil {
		registerAuth(app, cfg, d)
	}
	registerRoutes(app, d)

	// Ensure all responses, including 404s, return JSON
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal Server Error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}

	logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
		},
	})
}

func registerAuth(app *fiber.App, cfg config.Config, d Deps) {
	store := d.LimiterStore
	if store == nil {
		store = ratelimit.NewStore(ratelimit.RedisConfig{
			Addr: cfg.Cache.RedisHost,
			DB:   cfg.Cache.RateLimitDB,
		})
	}

	app.Use(middleware.KeyAuth(d.Tokens))
	app.Use(middleware.TokenRateLimit(cfg.RateLimiter.Interval, d.Tokens, store, middleware.NewLimiterCache()))
	if cfg.RateLimiter.EnableUserLimiter {
		app.Use(middleware.UserRateLimit(cfg.RateLimiter.Interval, cfg.RateLimiter.UserLimit, store))
	}
}

func registerRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/v1")

	svc := handlers.NewPDFService(d.Config, d.Renderer, d.Cache, d.Archiver)

	v1.Get("/pdf", svc.HandleURLConversion)
	v1.Post("/pdf", svc.HandleConversion)
	if d.Config.Auth.Enabled && d.Tokens != nil {
		v1.Post("/pdf/archive", middleware.RequireScope(d.Tokens, "archive"), svc.HandleArchive)
	} else {
		v1.Post("/pdf/archive", svc.HandleArchive)
	}
	v1.Get("/render/stats", svc.HandleStats)

	v1.Get("/monitor", monitor.New())
}
