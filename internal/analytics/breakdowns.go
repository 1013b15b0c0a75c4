package analytics

import (
	"fmt"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
)

// UnknownCountry marks events where GeoIP lookup produced nothing.
const UnknownCountry = "unknown"

// MetricCountResult is one labeled count in a breakdown.
type MetricCountResult struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// GetCountryBreakdown returns redirects grouped by visitor country, most
// frequent first, with ISO codes expanded to display names.
func GetCountryBreakdown(db *gorm.DB, params MerchantScopedQueryParams) ([]MetricCountResult, error) {
	raw, err := groupedRedirectCounts(db, params, "country")
	if err != nil {
		return nil, err
	}

	caser := cases.Upper(language.AmericanEnglish)
	countries := gountries.New()

	result := make([]MetricCountResult, len(raw))
	for i, item := range raw {
		if item.Name == "" || item.Name == UnknownCountry {
			result[i] = MetricCountResult{Name: "Unknown", Count: item.Count}
			continue
		}
		country, err := countries.FindCountryByAlpha(item.Name)
		if err != nil {
			result[i] = MetricCountResult{Name: caser.String(item.Name), Count: item.Count}
			continue
		}
		result[i] = MetricCountResult{Name: country.Name.Common, Count: item.Count}
	}
	return result, nil
}

// GetDeviceBreakdown returns redirects grouped by device type.
func GetDeviceBreakdown(db *gorm.DB, params MerchantScopedQueryParams) ([]MetricCountResult, error) {
	raw, err := groupedRedirectCounts(db, params, "device_type")
	if err != nil {
		return nil, err
	}

	caser := cases.Title(language.AmericanEnglish)

	result := make([]MetricCountResult, len(raw))
	for i, item := range raw {
		name := item.Name
		if name == "" {
			name = "Unknown"
		}
		result[i] = MetricCountResult{Name: caser.String(name), Count: item.Count}
	}
	return result, nil
}

func groupedRedirectCounts(db *gorm.DB, params MerchantScopedQueryParams, column string) ([]MetricCountResult, error) {
	var result []MetricCountResult

	query := fmt.Sprintf(`
    SELECT %s as name, COUNT(*) as count
    FROM redirect_events
    WHERE merchant_id = ?
    AND fired_at BETWEEN ? AND ?
    GROUP BY %s
    ORDER BY count DESC
    LIMIT ?
    `, column, column)

	err := db.Raw(query,
		params.MerchantID,
		params.TimeFrame.From.UTC(),
		params.TimeFrame.To.UTC(),
		params.Limit,
	).Scan(&result).Error
	if err != nil {
		return nil, fmt.Errorf("error computing %s breakdown: %w", column, err)
	}

	return result, nil
}
