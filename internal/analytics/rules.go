package analytics

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"redirectly/internal/rules"
)

// RuleStats is the per-rule performance row of the dashboard.
type RuleStats struct {
	RuleID         uint    `json:"rule_id"`
	Name           string  `json:"name"`
	Trigger        string  `json:"trigger"`
	Status         string  `json:"status"`
	Priority       int     `json:"priority"`
	Redirects      int64   `json:"redirects"`
	Conversions    int64   `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Revenue        float64 `json:"revenue"`
}

// GetRuleStats computes per-rule metrics for the merchant in the time frame.
// Rules with no activity still appear with zero counts; status is derived at
// query time, not read from the stored column.
func GetRuleStats(db *gorm.DB, params MerchantScopedQueryParams, now time.Time) ([]RuleStats, error) {
	type row struct {
		RuleID      uint
		Name        string
		Trigger     string
		Priority    int
		Enabled     bool
		StartsAt    *time.Time
		EndsAt      *time.Time
		Redirects   int64
		Conversions int64
		Revenue     float64
	}
	var raw []row

	query := `
    SELECT
        r.id as rule_id,
        r.name,
        r."trigger",
        r.priority,
        r.enabled,
        r.starts_at,
        r.ends_at,
        COALESCE(re.redirects, 0) as redirects,
        COALESCE(ce.conversions, 0) as conversions,
        COALESCE(ce.revenue, 0) as revenue
    FROM redirect_rules r
    LEFT JOIN (
        SELECT rule_id, COUNT(*) as redirects
        FROM redirect_events
        WHERE merchant_id = ? AND fired_at BETWEEN ? AND ?
        GROUP BY rule_id
    ) re ON re.rule_id = r.id
    LEFT JOIN (
        SELECT rule_id, COUNT(*) as conversions, SUM(order_value) as revenue
        FROM conversion_events
        WHERE merchant_id = ? AND converted_at BETWEEN ? AND ?
        GROUP BY rule_id
    ) ce ON ce.rule_id = r.id
    WHERE r.merchant_id = ?
    ORDER BY r.priority ASC, r.updated_at DESC
    `

	err := db.Raw(query,
		params.MerchantID, params.TimeFrame.From.UTC(), params.TimeFrame.To.UTC(),
		params.MerchantID, params.TimeFrame.From.UTC(), params.TimeFrame.To.UTC(),
		params.MerchantID,
	).Scan(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("error computing rule stats: %w", err)
	}

	result := make([]RuleStats, 0, len(raw))
	for _, r := range raw {
		rule := rules.RedirectRule{
			Enabled:  r.Enabled,
			StartsAt: r.StartsAt,
			EndsAt:   r.EndsAt,
		}
		stats := RuleStats{
			RuleID:      r.RuleID,
			Name:        r.Name,
			Trigger:     r.Trigger,
			Status:      string(rule.StatusAt(now)),
			Priority:    r.Priority,
			Redirects:   r.Redirects,
			Conversions: r.Conversions,
			Revenue:     r.Revenue,
		}
		if stats.Redirects > 0 {
			stats.ConversionRate = float64(stats.Conversions) / float64(stats.Redirects)
		}
		result = append(result, stats)
	}

	return result, nil
}
