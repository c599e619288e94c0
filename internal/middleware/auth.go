package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/jordancrombie/wsim-sub002/internal/auth"
	"github.com/jordancrombie/wsim-sub002/internal/config"
	"go.uber.org/zap"
)

const (
	CtxUserID     = "user_id"
	CtxDeviceID   = "device_id"
	CtxMerchantID = "merchant_id"
)

// AuthMiddleware guards mobile endpoints with a bearer access token.
func AuthMiddleware(issuer *auth.TokenIssuer, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "UNAUTHORIZED", "message": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "UNAUTHORIZED", "message": "invalid authorization format"})
		}

		claims, err := issuer.Parse(tokenStr, auth.TokenTypeAccess)
		if err != nil {
			log.Debug("access token parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "UNAUTHORIZED", "message": "invalid or expired token"})
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxDeviceID, claims.DeviceID)

		return c.Next()
	}
}

// OptionalAuthMiddleware resolves a bearer token when present but lets
// anonymous requests through. Used on the enrollment start endpoint, which
// serves both the web flow and the authenticated mobile flow.
func OptionalAuthMiddleware(issuer *auth.TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr != "" && tokenStr != authHeader {
			if claims, err := issuer.Parse(tokenStr, auth.TokenTypeAccess); err == nil {
				c.Locals(CtxUserID, claims.UserID)
				c.Locals(CtxDeviceID, claims.DeviceID)
			}
		}
		return c.Next()
	}
}

// MerchantAuthMiddleware guards the merchant surface with a static X-API-Key.
// Keys are compared in constant time against every configured merchant.
func MerchantAuthMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "INVALID_API_KEY", "message": "missing api key"})
		}

		var merchantID string
		for id, key := range cfg.MerchantAPIKeys {
			if subtle.ConstantTimeCompare([]byte(key), []byte(apiKey)) == 1 {
				merchantID = id
			}
		}
		if merchantID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "INVALID_API_KEY", "message": "invalid api key"})
		}

		c.Locals(CtxMerchantID, merchantID)
		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

func GetDeviceID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxDeviceID).(string)
	return id
}

func GetMerchantID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxMerchantID).(string)
	return id
}
