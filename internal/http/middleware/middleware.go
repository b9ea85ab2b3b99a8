package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"pagepress/internal/domain"
	"pagepress/internal/infra/logging"
	"pagepress/internal/tokens"
)

// APIKeyLocal is the fiber Locals key holding an authenticated X-API-Key.
const APIKeyLocal = "api_key"

// Register attaches the middleware every route gets: cors, request ids,
// health probes under /ops and a request log line.
func Register(app *fiber.App) {
	app.Use(cors.New())

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  "/ops/health",
		ReadinessEndpoint: "/ops/ready",
	}))

	app.Use(func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID)
		return c.Next()
	})
}

// KeyAuth validates X-API-Key against cache. Requests without the header pass
// through unauthenticated and are left to the user limiter.
func KeyAuth(cache *tokens.Cache) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup: "header:X-API-Key",
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if !cache.Ready() {
				return false, domain.ErrTokenStoreNotReady
			}
			if !cache.Validate(key) {
				return false, domain.ErrInvalidAPIKey
			}
			c.Locals(APIKeyLocal, key)
			return true, nil
		},
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth can call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = fiber.ErrUnauthorized
			}
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return jsonError(c, status, err.Error())
		},
	})
}

// RequireScope rejects requests whose API key lacks op. Unauthenticated
// requests are rejected as well.
func RequireScope(cache *tokens.Cache, op string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, _ := c.Locals(APIKeyLocal).(string)
		if key == "" {
			return jsonError(c, fiber.StatusUnauthorized, fiber.ErrUnauthorized.Message)
		}
		entry, ok := cache.Lookup(key)
		if !ok || !entry.Allows(op) {
			logging.Warn("Scope denied", "op", op, "path", c.Path())
			return jsonError(c, fiber.StatusForbidden, domain.ErrScopeDenied.Error())
		}
		return c.Next()
	}
}

func jsonError(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    status,
			"message": msg,
		},
	})
}
