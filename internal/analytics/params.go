package analytics

import (
	"time"

	"redirectly/internal/timeframe"
)

// MerchantScopedQueryParams contains common parameters for merchant-scoped queries
type MerchantScopedQueryParams struct {
	TimeFrame  *timeframe.TimeFrame
	MerchantID int
	Limit      int // Number of records to return
}

// NewMerchantScopedQueryParams creates a new query params object with the specified time frame and merchant ID
func NewMerchantScopedQueryParams(tf *timeframe.TimeFrame, merchantID int) MerchantScopedQueryParams {
	if tf == nil {
		now := time.Now().UTC()
		tf = &timeframe.TimeFrame{
			From: now.AddDate(0, 0, -30),
			To:   now,
			Tz:   time.UTC,
		}
	}

	return MerchantScopedQueryParams{
		TimeFrame:  tf,
		MerchantID: merchantID,
		Limit:      50, // Default limit
	}
}
