package timeframe_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redirectly/internal/timeframe"
)

func TestParse(t *testing.T) {
	now := time.Date(2026, 3, 15, 14, 30, 0, 0, time.UTC)

	t.Run("defaults to the last 30 days", func(t *testing.T) {
		tf, err := timeframe.Parse(timeframe.ParserParams{}, now)
		require.NoError(t, err)

		assert.Equal(t, now.Add(timeframe.TimeWindowBuffer), tf.To)
		assert.Equal(t, now.Truncate(24*time.Hour).AddDate(0, 0, -30), tf.From)
		assert.Equal(t, time.UTC, tf.Tz)
	})

	t.Run("explicit dates span whole days", func(t *testing.T) {
		tf, err := timeframe.Parse(timeframe.ParserParams{
			FromDate: "2026-03-01",
			ToDate:   "2026-03-10",
		}, now)
		require.NoError(t, err)

		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), tf.From)
		assert.Equal(t, 10, tf.To.Day())
		assert.Equal(t, 23, tf.To.Hour())
	})

	t.Run("end date never reaches past now plus the buffer", func(t *testing.T) {
		tf, err := timeframe.Parse(timeframe.ParserParams{
			FromDate: "2026-03-01",
			ToDate:   "2026-03-15",
		}, now)
		require.NoError(t, err)
		assert.Equal(t, now.Add(timeframe.TimeWindowBuffer), tf.To)
	})

	t.Run("client timezone shifts the boundaries", func(t *testing.T) {
		tf, err := timeframe.Parse(timeframe.ParserParams{
			FromDate: "2026-03-01",
			ToDate:   "2026-03-10",
			Tz:       "America/New_York",
		}, now)
		require.NoError(t, err)

		loc, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, loc).UTC(), tf.From)
		assert.Equal(t, loc, tf.Tz)
	})

	t.Run("rejects bad input", func(t *testing.T) {
		_, err := timeframe.Parse(timeframe.ParserParams{FromDate: "01/03/2026"}, now)
		assert.Error(t, err)

		_, err = timeframe.Parse(timeframe.ParserParams{Tz: "Not/AZone"}, now)
		assert.Error(t, err)

		_, err = timeframe.Parse(timeframe.ParserParams{FromDate: "2026-03-10", ToDate: "2026-03-01"}, now)
		assert.Error(t, err, "inverted window")
	})
}

func TestPrevious(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	tf := &timeframe.TimeFrame{From: from, To: to, Tz: time.UTC}

	prev := tf.Previous()
	assert.Equal(t, tf.Duration(), prev.Duration())
	assert.Equal(t, from, prev.To)
	assert.Equal(t, from.AddDate(0, 0, -10), prev.From)
}
