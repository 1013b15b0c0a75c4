// Package analytics computes merchant-facing performance metrics from the
// redirect and conversion event logs. Every number is derived on read; the
// rollup counters on the rule rows exist only for the dashboard list view.
package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Summary is the merchant dashboard headline block.
type Summary struct {
	TotalRules        int64   `json:"total_rules"`
	ActiveRules       int64   `json:"active_rules"`
	TotalRedirects    int64   `json:"total_redirects"`
	TotalConversions  int64   `json:"total_conversions"`
	ConversionRate    float64 `json:"conversion_rate"`
	TotalRevenue      float64 `json:"total_revenue"`
	AverageOrderValue float64 `json:"average_order_value"`
}

// GetSummary computes the headline metrics for the merchant in the time
// frame. Ratios are zero when their denominator is zero, never NaN.
func GetSummary(db *gorm.DB, params MerchantScopedQueryParams, now time.Time) (Summary, error) {
	var summary Summary

	var ruleCounts struct {
		TotalRules  int64
		ActiveRules int64
	}
	query := `
    SELECT
        COUNT(*) as total_rules,
        COALESCE(SUM(
            CASE
                WHEN (ends_at IS NOT NULL AND ends_at <= ?) THEN 0
                WHEN enabled = 0 THEN 0
                WHEN (starts_at IS NOT NULL AND starts_at > ?) THEN 0
                ELSE 1
            END
        ), 0) as active_rules
    FROM redirect_rules
    WHERE merchant_id = ?
    `
	err := db.Raw(query, now.UTC(), now.UTC(), params.MerchantID).Scan(&ruleCounts).Error
	if err != nil {
		return summary, fmt.Errorf("error counting rules: %w", err)
	}
	summary.TotalRules = ruleCounts.TotalRules
	summary.ActiveRules = ruleCounts.ActiveRules

	redirects, err := GetTotalRedirects(db, params)
	if err != nil {
		return summary, err
	}
	summary.TotalRedirects = redirects

	var conversionTotals struct {
		TotalConversions int64
		TotalRevenue     float64
	}
	query = `
    SELECT
        COUNT(*) as total_conversions,
        COALESCE(SUM(order_value), 0) as total_revenue
    FROM conversion_events
    WHERE merchant_id = ?
    AND converted_at BETWEEN ? AND ?
    `
	err = db.Raw(query,
		params.MerchantID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	).Scan(&conversionTotals).Error
	if err != nil {
		return summary, fmt.Errorf("error aggregating conversions: %w", err)
	}
	summary.TotalConversions = conversionTotals.TotalConversions
	summary.TotalRevenue = conversionTotals.TotalRevenue

	if summary.TotalRedirects > 0 {
		summary.ConversionRate = float64(summary.TotalConversions) / float64(summary.TotalRedirects)
	}
	if summary.TotalConversions > 0 {
		summary.AverageOrderValue = summary.TotalRevenue / float64(summary.TotalConversions)
	}

	return summary, nil
}

// GetTotalRedirects counts redirect events for the merchant in the time frame.
func GetTotalRedirects(db *gorm.DB, params MerchantScopedQueryParams) (int64, error) {
	var result struct {
		TotalRedirects int64
	}

	query := `
    SELECT COUNT(*) as total_redirects
    FROM redirect_events
    WHERE merchant_id = ?
    AND fired_at BETWEEN ? AND ?
    `

	err := db.Raw(query,
		params.MerchantID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	).Scan(&result).Error
	if err != nil {
		return 0, fmt.Errorf("error counting redirects: %w", err)
	}

	return result.TotalRedirects, nil
}

// DailyRedirects is one point of the redirects-over-time series.
type DailyRedirects struct {
	Date      string `json:"date"`
	Redirects int64  `json:"redirects"`
}

// GetRedirectsSeries returns redirect counts bucketed by day.
func GetRedirectsSeries(db *gorm.DB, params MerchantScopedQueryParams) ([]DailyRedirects, error) {
	var result []DailyRedirects

	query := `
    SELECT
        STRFTIME('%Y-%m-%d', fired_at) as date,
        COUNT(*) as redirects
    FROM redirect_events
    WHERE merchant_id = ?
    AND fired_at BETWEEN ? AND ?
    GROUP BY date
    ORDER BY date ASC
    `

	err := db.Raw(query,
		params.MerchantID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
	).Scan(&result).Error
	if err != nil {
		return nil, fmt.Errorf("error building redirects series: %w", err)
	}

	return result, nil
}
