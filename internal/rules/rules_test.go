package rules_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redirectly/internal/rules"
	"redirectly/internal/testsupport"
)

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }
func timePtr(t time.Time) *time.Time { return &t }

func TestValidate(t *testing.T) {
	valid := func() rules.RedirectRule {
		return rules.RedirectRule{
			MerchantID:     1,
			Name:           "exit offer",
			Trigger:        rules.TriggerExitIntent,
			DestinationURL: "https://example.com/offer",
			Enabled:        true,
		}
	}

	t.Run("accepts a well-formed rule", func(t *testing.T) {
		rule := valid()
		assert.NoError(t, rule.Validate())
	})

	t.Run("rejects unknown trigger kind", func(t *testing.T) {
		rule := valid()
		rule.Trigger = "ON_HOVER"
		assert.Error(t, rule.Validate())
	})

	t.Run("rejects missing threshold for threshold kinds", func(t *testing.T) {
		for _, kind := range []rules.TriggerKind{
			rules.TriggerTimeDelay,
			rules.TriggerScrollPercentage,
			rules.TriggerIdle,
		} {
			rule := valid()
			rule.Trigger = kind
			assert.Error(t, rule.Validate(), "kind %s requires its parameter", kind)
		}
	})

	t.Run("rejects stray parameters from another kind", func(t *testing.T) {
		rule := valid()
		rule.TriggerDelaySeconds = intPtr(30)
		assert.Error(t, rule.Validate(), "exit intent must not carry a delay")

		rule = valid()
		rule.Trigger = rules.TriggerTimeDelay
		rule.TriggerDelaySeconds = intPtr(30)
		rule.TriggerScrollPercent = floatPtr(50)
		assert.Error(t, rule.Validate(), "time delay must not carry a scroll threshold")
	})

	t.Run("rejects out-of-range thresholds", func(t *testing.T) {
		rule := valid()
		rule.Trigger = rules.TriggerScrollPercentage
		rule.TriggerScrollPercent = floatPtr(130)
		assert.Error(t, rule.Validate())

		rule = valid()
		rule.Trigger = rules.TriggerTimeDelay
		rule.TriggerDelaySeconds = intPtr(-5)
		assert.Error(t, rule.Validate())
	})

	t.Run("rejects malformed destination URLs", func(t *testing.T) {
		for _, raw := range []string{"", "not a url", "ftp://example.com/x", "/relative/path", "javascript:alert(1)"} {
			rule := valid()
			rule.DestinationURL = raw
			assert.Error(t, rule.Validate(), "URL %q should be rejected", raw)
		}
	})

	t.Run("rejects inverted scheduling window", func(t *testing.T) {
		now := time.Now().UTC()
		rule := valid()
		rule.StartsAt = timePtr(now)
		rule.EndsAt = timePtr(now.Add(-time.Hour))
		assert.Error(t, rule.Validate())
	})
}

func TestStatusAt(t *testing.T) {
	now := time.Now().UTC()

	t.Run("enabled rule without window is active", func(t *testing.T) {
		rule := rules.RedirectRule{Enabled: true}
		assert.Equal(t, rules.StatusActive, rule.StatusAt(now))
	})

	t.Run("disabled rule is inactive", func(t *testing.T) {
		rule := rules.RedirectRule{Enabled: false}
		assert.Equal(t, rules.StatusInactive, rule.StatusAt(now))
	})

	t.Run("future start is scheduled", func(t *testing.T) {
		rule := rules.RedirectRule{Enabled: true, StartsAt: timePtr(now.Add(time.Hour))}
		assert.Equal(t, rules.StatusScheduled, rule.StatusAt(now))
	})

	t.Run("past end is expired and dominates the toggle", func(t *testing.T) {
		rule := rules.RedirectRule{Enabled: true, EndsAt: timePtr(now.Add(-time.Hour))}
		assert.Equal(t, rules.StatusExpired, rule.StatusAt(now))

		rule.Enabled = false
		assert.Equal(t, rules.StatusExpired, rule.StatusAt(now))
	})

	t.Run("end boundary itself is expired", func(t *testing.T) {
		rule := rules.RedirectRule{Enabled: true, EndsAt: timePtr(now)}
		assert.Equal(t, rules.StatusExpired, rule.StatusAt(now))
	})

	t.Run("status flips as time crosses the window", func(t *testing.T) {
		rule := rules.RedirectRule{
			Enabled:  true,
			StartsAt: timePtr(now.Add(time.Hour)),
			EndsAt:   timePtr(now.Add(2 * time.Hour)),
		}
		assert.Equal(t, rules.StatusScheduled, rule.StatusAt(now))
		assert.Equal(t, rules.StatusActive, rule.StatusAt(now.Add(90*time.Minute)))
		assert.Equal(t, rules.StatusExpired, rule.StatusAt(now.Add(3*time.Hour)))
	})
}

func TestRulePersistence(t *testing.T) {
	t.Run("create and fetch", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		merchant := testsupport.CreateTestMerchant(t, db, "persist.example.com")

		rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)
		require.NotZero(t, rule.ID)

		fetched, err := rules.GetRuleByID(db, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.Name, fetched.Name)
		assert.Equal(t, rules.StatusActive, fetched.Status)
	})

	t.Run("create rejects invalid rule", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		rule := &rules.RedirectRule{MerchantID: 1, Name: "bad", Trigger: rules.TriggerTimeDelay, DestinationURL: "https://example.com"}
		assert.Error(t, rules.CreateRule(db, testsupport.GetLogger(), rule))
	})

	t.Run("get missing rule returns typed error", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		_, err := rules.GetRuleByID(db, 99999)
		var notFound *rules.RuleNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("delete missing rule returns typed error", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		err := rules.DeleteRule(db, testsupport.GetLogger(), 99999)
		var notFound *rules.RuleNotFoundError
		assert.ErrorAs(t, err, &notFound)
	})

	t.Run("set enabled toggles stored status", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		merchant := testsupport.CreateTestMerchant(t, db, "toggle.example.com")
		rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerFirstVisit)

		updated, err := rules.SetEnabled(db, testsupport.GetLogger(), rule.ID, false)
		require.NoError(t, err)
		assert.False(t, updated.Enabled)
		assert.Equal(t, rules.StatusInactive, updated.Status)

		updated, err = rules.SetEnabled(db, testsupport.GetLogger(), rule.ID, true)
		require.NoError(t, err)
		assert.Equal(t, rules.StatusActive, updated.Status)
	})
}

func TestListActiveRules(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	merchant := testsupport.CreateTestMerchant(t, db, "active.example.com")
	other := testsupport.CreateTestMerchant(t, db, "other.example.com")

	active := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)
	testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerFirstVisit, testsupport.Disabled())
	testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerPostPurchase,
		testsupport.WithWindow(timePtr(now.Add(time.Hour)), nil))
	testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerAbandonedCart,
		testsupport.WithWindow(nil, timePtr(now.Add(-time.Minute))))
	testsupport.CreateTestRule(t, db, other.ID, rules.TriggerExitIntent)

	got, err := rules.ListActiveRules(db, merchant.ID, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func TestListActiveRulesDerivesLazily(t *testing.T) {
	// A rule whose window lapsed after the last reconcile still carries
	// status "active" in the database; the snapshot must not trust it.
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()
	merchant := testsupport.CreateTestMerchant(t, db, "lazy.example.com")

	rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent,
		testsupport.WithWindow(nil, timePtr(now.Add(time.Minute))))
	assert.Equal(t, rules.StatusActive, rule.Status)

	got, err := rules.ListActiveRules(db, merchant.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, got, "expired-by-now rule must not be in the snapshot")
}
