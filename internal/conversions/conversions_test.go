package conversions_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"redirectly/internal/conversions"
	"redirectly/internal/redirects"
	"redirectly/internal/sessions"
	"redirectly/internal/testsupport"
)

var testPolicy = redirects.RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond, Multiplier: 2}

func newTracker(t *testing.T, window time.Duration) (*conversions.Tracker, *testsupport.TestDBManager) {
	t.Helper()

	dbm, log := testsupport.SetupTestDBManager(t)
	return conversions.NewTracker(dbm, log, window, testPolicy, 16), dbm
}

func firedSession(now time.Time) *sessions.Context {
	ctx := testsupport.NewTestContext(4, now)
	ctx.FireCount = 1
	ctx.FiredRuleID = 12
	ctx.LastRedirectEventID = "evt-" + uuid.NewString()
	ctx.LastFiredAt = now
	return ctx
}

func TestTrackPurchase(t *testing.T) {
	now := time.Now().UTC()

	t.Run("purchase inside the window is attributed", func(t *testing.T) {
		tracker, dbm := newTracker(t, 30*time.Minute)
		ctx := firedSession(now)

		event := tracker.TrackPurchase(ctx, 59.90, now.Add(5*time.Minute))
		require.NotNil(t, event)
		assert.Equal(t, ctx.LastRedirectEventID, event.RedirectEventID)
		assert.Equal(t, uint(12), event.RuleID)
		assert.Equal(t, 59.90, event.OrderValue)
		assert.True(t, ctx.Attributed)

		tracker.Stop()
		var stored conversions.ConversionEvent
		require.NoError(t, dbm.GetConnection().First(&stored, "id = ?", event.ID).Error)
		assert.Equal(t, ctx.ID, stored.SessionID)
	})

	t.Run("organic purchase records nothing", func(t *testing.T) {
		tracker, dbm := newTracker(t, 30*time.Minute)
		ctx := testsupport.NewTestContext(4, now)

		event := tracker.TrackPurchase(ctx, 10, now)
		assert.Nil(t, event)

		tracker.Stop()
		var count int64
		dbm.GetConnection().Model(&conversions.ConversionEvent{}).
			Where("session_id = ?", ctx.ID).Count(&count)
		assert.Zero(t, count)
	})

	t.Run("purchase after the window lapses is not attributed", func(t *testing.T) {
		tracker, _ := newTracker(t, 30*time.Minute)
		defer tracker.Stop()
		ctx := firedSession(now)

		event := tracker.TrackPurchase(ctx, 10, now.Add(31*time.Minute))
		assert.Nil(t, event)
		assert.False(t, ctx.Attributed)
	})

	t.Run("purchase exactly at the window edge still counts", func(t *testing.T) {
		tracker, _ := newTracker(t, 30*time.Minute)
		defer tracker.Stop()
		ctx := firedSession(now)

		event := tracker.TrackPurchase(ctx, 10, now.Add(30*time.Minute))
		assert.NotNil(t, event)
	})

	t.Run("a session converts at most once", func(t *testing.T) {
		tracker, dbm := newTracker(t, 30*time.Minute)
		ctx := firedSession(now)
		ctx.LastRedirectEventID = "evt-once"

		first := tracker.TrackPurchase(ctx, 20, now.Add(time.Minute))
		require.NotNil(t, first)

		second := tracker.TrackPurchase(ctx, 40, now.Add(2*time.Minute))
		assert.Nil(t, second, "repeat purchase in the same session is organic")

		tracker.Stop()
		var count int64
		dbm.GetConnection().Model(&conversions.ConversionEvent{}).
			Where("redirect_event_id = ?", "evt-once").Count(&count)
		assert.Equal(t, int64(1), count)
	})
}

// flakyDBManager serves a dead connection for the first N lookups, then the
// real one.
type flakyDBManager struct {
	*testsupport.TestDBManager

	mu           sync.Mutex
	failuresLeft int
	broken       *gorm.DB
}

func (f *flakyDBManager) GetConnection() *gorm.DB {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failuresLeft > 0 {
		f.failuresLeft--
		return f.broken
	}
	return f.TestDBManager.GetConnection()
}

func brokenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:broken_conversions?mode=memory&cache=private"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
	return db
}

func TestTrackerRetriesTransientFailure(t *testing.T) {
	now := time.Now().UTC()
	dbm, log := testsupport.SetupTestDBManager(t)
	flaky := &flakyDBManager{TestDBManager: dbm, failuresLeft: 1, broken: brokenDB(t)}

	tracker := conversions.NewTracker(flaky, log, 30*time.Minute, testPolicy, 16)
	ctx := firedSession(now)

	event := tracker.TrackPurchase(ctx, 25, now.Add(time.Minute))
	require.NotNil(t, event)

	tracker.Stop()
	var stored conversions.ConversionEvent
	require.NoError(t, dbm.GetConnection().First(&stored, "id = ?", event.ID).Error,
		"first attempt hits the dead connection, the retry lands")
}

func TestTrackerDropsAfterStop(t *testing.T) {
	now := time.Now().UTC()
	tracker, dbm := newTracker(t, 30*time.Minute)
	tracker.Stop()

	ctx := firedSession(now)
	event := tracker.TrackPurchase(ctx, 15, now.Add(time.Minute))
	require.NotNil(t, event, "the attribution decision still applies")
	assert.True(t, ctx.Attributed)

	var count int64
	dbm.GetConnection().Model(&conversions.ConversionEvent{}).
		Where("id = ?", event.ID).Count(&count)
	assert.Zero(t, count, "nothing is written once the worker is gone")
}
