package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "redirectly/api/v1"
	"redirectly/internal/config"
	"redirectly/internal/http"
	"redirectly/internal/http/middleware"
)

// publicCORSConfig is shared by every public endpoint. The SDK runs on
// merchant pages, so cross-origin requests are the normal case.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API.
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()

	// Rate limiting only applies in production; in development and test it
	// would interfere with local iteration and the test suite.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// 70 requests per minute per IP for signal ingestion. A chatty session
	// flushes batched signals roughly once per second, so this leaves ample
	// headroom for legitimate traffic.
	publicRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public API config: rate limiting + permissive CORS. CORS runs first so
	// 403 responses still carry CORS headers.
	publicAPIConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		WriteConcurrency: false,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	sdkConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{publicRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	merchantAPIConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.MerchantAPIKeyAuth(db, logger),
		},
	}

	operatorConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			middleware.OperatorKeyAuth(cfg.PrivateKey, logger),
		},
	}

	// === HEALTH ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	// === PUBLIC SESSION API ===
	publicPaths := map[string]func(*cartridge.Context) error{
		"/x/api/v1/sessions":       v1.CreateSessionHandler,
		"/x/api/v1/signals":        v1.CreateSignalsHandler,
		"/x/api/v1/signals/beacon": v1.CreateSignalsBeaconHandler,
		"/x/api/v1/confirmations":  v1.CreateConfirmationHandler,
		"/x/api/v1/purchases":      v1.CreatePurchaseHandler,
	}
	for path, handler := range publicPaths {
		srv.Post(path, handler, publicAPIConfig)
		srv.Options(path, func(ctx *cartridge.Context) error {
			return ctx.SendStatus(fiber.StatusNoContent)
		}, publicAPIConfig)
	}

	// === SDK DELIVERY ===
	srv.Get("/y/api/v1/sdk.js", v1.GetSDKAction, sdkConfig)

	// === MERCHANT API (bearer API key) ===
	srv.Get("/api/v1/rules", http.RulesIndexAction, merchantAPIConfig)
	srv.Post("/api/v1/rules", http.RuleCreateAction, merchantAPIConfig)
	srv.Get("/api/v1/rules/:id", http.RuleShowAction, merchantAPIConfig)
	srv.Post("/api/v1/rules/:id", http.RuleUpdateAction, merchantAPIConfig)
	srv.Post("/api/v1/rules/:id/enable", http.RuleEnableAction, merchantAPIConfig)
	srv.Post("/api/v1/rules/:id/disable", http.RuleDisableAction, merchantAPIConfig)
	srv.Delete("/api/v1/rules/:id", http.RuleDeleteAction, merchantAPIConfig)

	srv.Get("/api/v1/analytics/summary", http.AnalyticsSummaryAction, merchantAPIConfig)
	srv.Get("/api/v1/analytics/rules", http.AnalyticsRulesAction, merchantAPIConfig)

	// === OPERATOR API (instance private key) ===
	srv.Get("/operator/api/v1/merchants", http.MerchantsIndexAction, operatorConfig)
	srv.Post("/operator/api/v1/merchants", http.MerchantCreateAction, operatorConfig)
	srv.Post("/operator/api/v1/merchants/:id/rotate-key", http.MerchantRotateKeyAction, operatorConfig)

	srv.Get("/operator/api/v1/settings", http.SettingsIndexAction, operatorConfig)
	srv.Post("/operator/api/v1/settings/excluded-ips", http.SettingsUpdateExcludedIPsAction, operatorConfig)
	srv.Post("/operator/api/v1/settings/geolite", http.SettingsSaveGeoLiteAction, operatorConfig)
}
