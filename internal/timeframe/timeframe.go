// Package timeframe parses the reporting window query parameters used by the
// analytics API.
package timeframe

import (
	"fmt"
	"time"
)

// TimeWindowBuffer pads the end of a window that reaches into the present so
// events recorded moments ago are not cut off by clock skew or write latency.
const TimeWindowBuffer = 5 * time.Minute

// TimeFrame is a reporting window. From and To are stored in UTC.
type TimeFrame struct {
	From time.Time
	To   time.Time
	Tz   *time.Location
}

// Duration returns the window length.
func (tf *TimeFrame) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}

// Previous returns the same-length window immediately before this one, used
// for period-over-period comparisons.
func (tf *TimeFrame) Previous() *TimeFrame {
	d := tf.Duration()
	return &TimeFrame{
		From: tf.From.Add(-d),
		To:   tf.From,
		Tz:   tf.Tz,
	}
}

// ParserParams are the raw query-string inputs.
type ParserParams struct {
	FromDate string // 2006-01-02, in the client timezone
	ToDate   string
	Tz       string
}

// Parse builds a TimeFrame from query parameters. Missing dates default to
// the last 30 days; the end date extends to end of day but never past now
// plus the window buffer.
func Parse(params ParserParams, now time.Time) (*TimeFrame, error) {
	tz := params.Tz
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone: %w", err)
	}
	localNow := now.In(loc)

	from := localNow.Truncate(24 * time.Hour).AddDate(0, 0, -30)
	if params.FromDate != "" {
		day, err := time.ParseInLocation("2006-01-02", params.FromDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid 'from' date: %w", err)
		}
		from = day
	}

	to := localNow.Add(TimeWindowBuffer)
	if params.ToDate != "" {
		day, err := time.ParseInLocation("2006-01-02", params.ToDate, loc)
		if err != nil {
			return nil, fmt.Errorf("invalid 'to' date: %w", err)
		}
		endOfDay := time.Date(day.Year(), day.Month(), day.Day(), 23, 59, 59, 999999999, loc)
		if endOfDay.Before(to) {
			to = endOfDay
		}
	}

	if from.After(to) {
		return nil, fmt.Errorf("'from' date must be before 'to' date")
	}

	return &TimeFrame{From: from.UTC(), To: to.UTC(), Tz: loc}, nil
}
