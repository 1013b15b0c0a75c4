package http

import (
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/analytics"
	"redirectly/internal/http/middleware"
	"redirectly/internal/pkg/async"
	"redirectly/internal/timeframe"
)

// AnalyticsSummaryAction returns the dashboard headline block plus the
// per-country and per-device breakdowns and the redirects-over-time series.
// The queries are independent, so they run concurrently.
func AnalyticsSummaryAction(ctx *cartridge.Context) error {
	params, err := analyticsParams(ctx)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	db := ctx.DBManager.GetConnection()
	now := time.Now().UTC()

	pool := async.NewPool(4)
	results := pool.Execute(ctx.Ctx.Context(), []async.Task{
		{Name: "summary", Execute: func() (interface{}, error) {
			return analytics.GetSummary(db, params, now)
		}},
		{Name: "series", Execute: func() (interface{}, error) {
			return analytics.GetRedirectsSeries(db, params)
		}},
		{Name: "countries", Execute: func() (interface{}, error) {
			return analytics.GetCountryBreakdown(db, params)
		}},
		{Name: "devices", Execute: func() (interface{}, error) {
			return analytics.GetDeviceBreakdown(db, params)
		}},
	})

	for name, result := range results {
		if result.Err != nil {
			ctx.Logger.Error("Analytics query failed",
				slog.String("query", name),
				slog.Any("error", result.Err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to compute analytics",
			})
		}
	}

	return ctx.JSON(fiber.Map{
		"summary":   results["summary"].Data,
		"series":    results["series"].Data,
		"countries": results["countries"].Data,
		"devices":   results["devices"].Data,
	})
}

// AnalyticsRulesAction returns per-rule performance for the time frame.
func AnalyticsRulesAction(ctx *cartridge.Context) error {
	params, err := analyticsParams(ctx)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	db := ctx.DBManager.GetConnection()
	stats, err := analytics.GetRuleStats(db, params, time.Now().UTC())
	if err != nil {
		ctx.Logger.Error("Failed to compute rule stats", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute rule stats",
		})
	}

	return ctx.JSON(fiber.Map{"rules": stats})
}

// analyticsParams builds merchant-scoped query params from the request's
// from/to/tz query string. The returned error is the parse failure; the
// caller owns the response.
func analyticsParams(ctx *cartridge.Context) (analytics.MerchantScopedQueryParams, error) {
	merchant := middleware.MerchantFromContext(ctx.Ctx)

	tf, err := timeframe.Parse(timeframe.ParserParams{
		FromDate: ctx.Query("from"),
		ToDate:   ctx.Query("to"),
		Tz:       ctx.Query("tz"),
	}, time.Now().UTC())
	if err != nil {
		return analytics.MerchantScopedQueryParams{}, err
	}

	return analytics.NewMerchantScopedQueryParams(tf, int(merchant.ID)), nil
}
