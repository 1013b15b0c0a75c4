package jobs_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"redirectly/internal/config"
	"redirectly/internal/conversions"
	"redirectly/internal/database"
	"redirectly/internal/jobs"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
	"redirectly/internal/sessions"
	"redirectly/internal/testsupport"
)

func setupJobDB(t *testing.T) (*database.DBManager, *config.Config) {
	t.Helper()

	cfg := &config.Config{
		Environment:         "test",
		DatabaseName:        filepath.Join(t.TempDir(), "jobs.db"),
		EventsRetentionDays: 90,
	}
	dbm := database.NewDBManager(cfg, testsupport.GetLogger())
	require.NoError(t, dbm.Init())
	require.NoError(t, dbm.MigrateDatabase())
	t.Cleanup(func() {
		if sqlDB, err := dbm.GetConnection().DB(); err == nil {
			sqlDB.Close()
		}
	})
	return dbm, cfg
}

func createRule(t *testing.T, db *gorm.DB, startsAt, endsAt *time.Time, enabled bool, status rules.RuleStatus) *rules.RedirectRule {
	t.Helper()

	rule := &rules.RedirectRule{
		MerchantID:     1,
		Name:           "rule-" + uuid.NewString()[:8],
		Trigger:        rules.TriggerExitIntent,
		DestinationURL: "https://example.com/offer",
		Enabled:        enabled,
		StartsAt:       startsAt,
		EndsAt:         endsAt,
		Status:         status,
	}
	require.NoError(t, db.Create(rule).Error)
	return rule
}

func TestRuleReconciler(t *testing.T) {
	dbm, _ := setupJobDB(t)
	db := dbm.GetConnection()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	opened := createRule(t, db, &past, nil, true, rules.StatusScheduled)
	closed := createRule(t, db, nil, &past, true, rules.StatusActive)
	disabled := createRule(t, db, nil, nil, false, rules.StatusActive)
	notYet := createRule(t, db, &future, nil, true, rules.StatusScheduled)
	steady := createRule(t, db, nil, nil, true, rules.StatusActive)

	require.NoError(t, jobs.NewRuleReconcilerJob(dbm, testsupport.GetLogger()).Run())

	expect := map[uint]rules.RuleStatus{
		opened.ID:   rules.StatusActive,
		closed.ID:   rules.StatusExpired,
		disabled.ID: rules.StatusInactive,
		notYet.ID:   rules.StatusScheduled,
		steady.ID:   rules.StatusActive,
	}
	for id, want := range expect {
		var got rules.RedirectRule
		require.NoError(t, db.First(&got, id).Error)
		assert.Equal(t, want, got.Status, "rule %d", id)
	}
}

func TestCounterRollup(t *testing.T) {
	dbm, _ := setupJobDB(t)
	db := dbm.GetConnection()
	now := time.Now().UTC()

	rule := createRule(t, db, nil, nil, true, rules.StatusActive)
	// Skew the counters on purpose; the rollup must overwrite them.
	require.NoError(t, db.Model(rule).Updates(map[string]any{
		"current_redirects": 99, "conversions": 99,
	}).Error)

	for i := 0; i < 3; i++ {
		event := redirects.RedirectEvent{
			ID:         uuid.NewString(),
			RuleID:     rule.ID,
			MerchantID: 1,
			SessionID:  uuid.NewString(),
			FiredAt:    now.Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.Create(&event).Error)
	}
	conv := conversions.ConversionEvent{
		ID:              uuid.NewString(),
		RedirectEventID: uuid.NewString(),
		RuleID:          rule.ID,
		MerchantID:      1,
		SessionID:       uuid.NewString(),
		OrderValue:      25,
		ConvertedAt:     now,
	}
	require.NoError(t, db.Create(&conv).Error)

	require.NoError(t, jobs.NewCounterRollupJob(dbm, testsupport.GetLogger()).Run())

	var got rules.RedirectRule
	require.NoError(t, db.First(&got, rule.ID).Error)
	assert.Equal(t, int64(3), got.CurrentRedirects)
	assert.Equal(t, int64(1), got.Conversions)
}

func TestCleanupJob(t *testing.T) {
	dbm, cfg := setupJobDB(t)
	db := dbm.GetConnection()
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -cfg.EventsRetentionDays)

	old := redirects.RedirectEvent{
		ID: uuid.NewString(), RuleID: 1, MerchantID: 1,
		SessionID: uuid.NewString(), FiredAt: cutoff.AddDate(0, 0, -1),
	}
	recent := redirects.RedirectEvent{
		ID: uuid.NewString(), RuleID: 1, MerchantID: 1,
		SessionID: uuid.NewString(), FiredAt: now.Add(-time.Hour),
	}
	require.NoError(t, db.Create(&old).Error)
	require.NoError(t, db.Create(&recent).Error)

	oldConv := conversions.ConversionEvent{
		ID: uuid.NewString(), RedirectEventID: uuid.NewString(), RuleID: 1,
		MerchantID: 1, SessionID: uuid.NewString(), ConvertedAt: cutoff.AddDate(0, 0, -1),
	}
	require.NoError(t, db.Create(&oldConv).Error)

	require.NoError(t, jobs.NewCleanupJob(dbm, testsupport.GetLogger(), cfg).Run())

	var redirectCount, conversionCount int64
	db.Model(&redirects.RedirectEvent{}).Count(&redirectCount)
	db.Model(&conversions.ConversionEvent{}).Count(&conversionCount)
	assert.Equal(t, int64(1), redirectCount, "only the recent redirect event survives")
	assert.Zero(t, conversionCount)
}

func TestSessionSweepJob(t *testing.T) {
	registry := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())
	now := time.Now().UTC()
	registry.Put(sessions.NewContext("stale", 1, now.Add(-2*time.Hour)))
	registry.Put(sessions.NewContext("fresh", 1, now))

	require.NoError(t, jobs.NewSessionSweepJob(registry, testsupport.GetLogger()).Run())
	assert.Equal(t, 1, registry.Len())
}

func TestSchedulerLifecycle(t *testing.T) {
	dbm, _ := setupJobDB(t)
	registry := sessions.NewRegistry(30*time.Minute, testsupport.GetLogger())

	scheduler, err := jobs.NewScheduler(dbm, registry, testsupport.GetLogger())
	require.NoError(t, err)

	require.NoError(t, scheduler.Start())
	assert.True(t, scheduler.IsRunning())

	require.NoError(t, scheduler.Reconcile())

	scheduler.Stop()
	assert.False(t, scheduler.IsRunning())
}
