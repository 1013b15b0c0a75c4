package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redirectly/internal/conversions"
	"redirectly/internal/engine"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
	"redirectly/internal/testsupport"
	"redirectly/internal/triggers"
)

const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestStartSession(t *testing.T) {
	now := time.Now().UTC()

	t.Run("creates a session with a rule snapshot", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, registry := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "start.example")
		testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)
		require.NotEmpty(t, start.SessionID)
		assert.Equal(t, redirects.DecisionNone, start.Decision.Action)
		assert.Equal(t, 1, registry.Len())
	})

	t.Run("bots are refused", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, registry := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "bots.example")

		_, err := e.StartSession(context.Background(), merchant, "203.0.113.9",
			"Mozilla/5.0 (compatible; Googlebot/2.1)", now)
		assert.ErrorIs(t, err, engine.ErrBotSession)
		assert.Zero(t, registry.Len())
	})

	t.Run("first visit rule fires on session start", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "firstvisit.example")
		rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerFirstVisit)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNavigate, start.Decision.Action)
		assert.Equal(t, rule.ID, start.Decision.RuleID)
	})
}

func TestObserveSignals(t *testing.T) {
	now := time.Now().UTC()

	t.Run("exit intent fires through the full path", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "observe.example")
		rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		decision, err := e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalPointer, At: now.Add(10 * time.Second), PointerY: 20, PointerVelocityY: -900},
		}, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNavigate, decision.Action)
		assert.Equal(t, rule.ID, decision.RuleID)
		assert.Equal(t, rule.DestinationURL, decision.URL)
	})

	t.Run("one redirect per session", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "single.example")
		testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)
		scroll := 10.0
		testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerScrollPercentage,
			testsupport.WithScrollPercent(scroll))

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		first, err := e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalPointer, At: now.Add(5 * time.Second), PointerY: 10, PointerVelocityY: -900},
		}, now.Add(5*time.Second))
		require.NoError(t, err)
		require.Equal(t, redirects.DecisionNavigate, first.Action)

		second, err := e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalScroll, At: now.Add(10 * time.Second), ScrollDepthPct: 90},
		}, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNone, second.Action)
	})

	t.Run("unknown session errors", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)

		_, err := e.ObserveSignals("nope", []triggers.Signal{{Kind: triggers.SignalTick, At: now}}, now)
		assert.Error(t, err)
	})
}

func TestConfirmationFlow(t *testing.T) {
	now := time.Now().UTC()

	startWithPending := func(t *testing.T) (*engine.Engine, string, *rules.RedirectRule) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "confirm.example")
		rule := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent,
			testsupport.WithConfirmation("Leaving already?"))

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		decision, err := e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalPointer, At: now.Add(5 * time.Second), PointerY: 10, PointerVelocityY: -900},
		}, now.Add(5*time.Second))
		require.NoError(t, err)
		require.Equal(t, redirects.DecisionConfirm, decision.Action)
		require.Equal(t, "Leaving already?", decision.Message)
		return e, start.SessionID, rule
	}

	t.Run("accept navigates", func(t *testing.T) {
		e, sessionID, rule := startWithPending(t)

		decision, err := e.ResolveConfirmation(sessionID, true, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNavigate, decision.Action)
		assert.Equal(t, rule.DestinationURL, decision.URL)
	})

	t.Run("decline leaves the session free to fire later", func(t *testing.T) {
		e, sessionID, _ := startWithPending(t)

		decision, err := e.ResolveConfirmation(sessionID, false, now.Add(10*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNone, decision.Action)

		// A later exit intent may prompt again.
		decision, err = e.ObserveSignals(sessionID, []triggers.Signal{
			{Kind: triggers.SignalPointer, At: now.Add(20 * time.Second), PointerY: 10, PointerVelocityY: -900},
		}, now.Add(20*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNone, decision.Action,
			"exit intent emits at most once per session")
	})

	t.Run("no signal fires while a confirmation is pending", func(t *testing.T) {
		e, sessionID, _ := startWithPending(t)

		decision, err := e.ObserveSignals(sessionID, []triggers.Signal{
			{Kind: triggers.SignalScroll, At: now.Add(6 * time.Second), ScrollDepthPct: 100},
		}, now.Add(6*time.Second))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNone, decision.Action)
	})
}

func TestTrackPurchase(t *testing.T) {
	now := time.Now().UTC()

	t.Run("attributes the purchase and fires post purchase rules", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "purchase.example")
		exit := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)
		testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerPostPurchase)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		fired, err := e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalPointer, At: now.Add(5 * time.Second), PointerY: 10, PointerVelocityY: -900},
		}, now.Add(5*time.Second))
		require.NoError(t, err)
		require.Equal(t, redirects.DecisionNavigate, fired.Action)
		require.Equal(t, exit.ID, fired.RuleID)

		decision, err := e.TrackPurchase(start.SessionID, 150, now.Add(10*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNone, decision.Action,
			"session already used its redirect")

		// The conversion row lands via the tracker's worker.
		require.Eventually(t, func() bool {
			var count int64
			db.Model(&conversions.ConversionEvent{}).
				Where("session_id = ?", start.SessionID).Count(&count)
			return count == 1
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("post purchase fires on an organic checkout", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "organic.example")
		upsell := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerPostPurchase)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		decision, err := e.TrackPurchase(start.SessionID, 40, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNavigate, decision.Action)
		assert.Equal(t, upsell.ID, decision.RuleID)

		var count int64
		db.Model(&conversions.ConversionEvent{}).
			Where("session_id = ?", start.SessionID).Count(&count)
		assert.Zero(t, count, "organic purchase records no conversion")
	})
}

func TestEndSession(t *testing.T) {
	now := time.Now().UTC()

	t.Run("abandoned cart decision on the final beacon", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, registry := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "abandon.example")
		rescue := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerAbandonedCart)

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		_, err = e.ObserveSignals(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalCart, At: now.Add(time.Minute), CartItems: 2},
		}, now.Add(time.Minute))
		require.NoError(t, err)

		decision, err := e.EndSession(start.SessionID, []triggers.Signal{
			{Kind: triggers.SignalVisibility, At: now.Add(2 * time.Minute), Hidden: true},
		}, now.Add(2*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, redirects.DecisionNavigate, decision.Action)
		assert.Equal(t, rescue.ID, decision.RuleID)
		assert.Zero(t, registry.Len(), "session is destroyed")
	})

	t.Run("ending twice is not an error for the registry", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		e, _ := testsupport.SetupTestEngine(t, db)
		merchant := testsupport.CreateTestMerchant(t, db, "twice.example")

		start, err := e.StartSession(context.Background(), merchant, "203.0.113.9", desktopUA, now)
		require.NoError(t, err)

		_, err = e.EndSession(start.SessionID, nil, now.Add(time.Minute))
		require.NoError(t, err)

		_, err = e.EndSession(start.SessionID, nil, now.Add(2*time.Minute))
		assert.Error(t, err, "signals for a dead session report not found")
	})
}
