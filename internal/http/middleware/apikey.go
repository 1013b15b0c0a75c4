// Package middleware holds the authentication middleware for the merchant
// and operator APIs.
package middleware

import (
	"strings"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"redirectly/internal/merchants"
)

// MerchantLocalKey is the fiber.Ctx local under which the authenticated
// merchant is stored.
const MerchantLocalKey = "merchant"

// MerchantAPIKeyAuth validates the merchant API key on dashboard endpoints.
// Expects: Authorization: Bearer rk_<merchantID>_<secret>
func MerchantAPIKeyAuth(db *gorm.DB, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, errResp := bearerToken(c)
		if errResp != nil {
			return errResp
		}

		merchant, err := merchants.VerifyAPIKey(db, key)
		if err != nil {
			logger.Debug("Merchant API key rejected", slog.Any("error", err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		c.Locals(MerchantLocalKey, merchant)
		return c.Next()
	}
}

// MerchantFromContext returns the merchant stored by MerchantAPIKeyAuth.
func MerchantFromContext(c *fiber.Ctx) *merchants.Merchant {
	merchant, _ := c.Locals(MerchantLocalKey).(*merchants.Merchant)
	return merchant
}

// OperatorKeyAuth protects operator endpoints (merchant management) with the
// instance private key.
func OperatorKeyAuth(operatorKey string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key, errResp := bearerToken(c)
		if errResp != nil {
			return errResp
		}

		// Constant-time comparison to prevent timing attacks
		if !secureCompare(key, operatorKey) {
			logger.Debug("Operator key rejected")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}

func bearerToken(c *fiber.Ctx) (string, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Missing Authorization header",
		})
	}

	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
		})
	}

	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "API key is empty",
		})
	}
	return token, nil
}

// secureCompare performs constant-time string comparison
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := 0; i < len(a); i++ {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
