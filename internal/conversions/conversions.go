// Package conversions attributes purchases to the redirect that preceded
// them.
package conversions

import (
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"redirectly/internal/redirects"
	"redirectly/internal/sessions"
)

// ConversionEvent records one attributed purchase. The unique constraint on
// RedirectEventID guarantees a redirect converts at most once even if the
// purchase hook is replayed.
type ConversionEvent struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	RedirectEventID string    `gorm:"not null;uniqueIndex" json:"redirect_event_id"`
	RuleID          uint      `gorm:"not null;index" json:"rule_id"`
	MerchantID      uint      `gorm:"not null;index:idx_conversion_events_merchant_at,priority:1" json:"merchant_id"`
	SessionID       string    `gorm:"not null" json:"session_id"`
	OrderValue      float64   `gorm:"not null" json:"order_value"`
	ConvertedAt     time.Time `gorm:"not null;index:idx_conversion_events_merchant_at,priority:2" json:"converted_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Tracker applies the attribution policy to incoming purchases. The decision
// is made against the session context alone; the ConversionEvent row is
// written by a worker off the purchase hook, with the same bounded retry as
// redirect events. A write that still fails is dropped and logged;
// under-counting is the accepted failure mode.
type Tracker struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	window    time.Duration
	policy    redirects.RetryPolicy

	queue  chan ConversionEvent
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewTracker creates a tracker with the given attribution window and starts
// its persistence worker.
func NewTracker(dbManager cartridge.DBManager, logger *slog.Logger, window time.Duration, policy redirects.RetryPolicy, capacity int) *Tracker {
	t := &Tracker{
		dbManager: dbManager,
		logger:    logger,
		window:    window,
		policy:    policy,
		queue:     make(chan ConversionEvent, capacity),
		done:      make(chan struct{}),
	}
	go t.run()
	return t
}

// TrackPurchase attributes a purchase to the session's last redirect when one
// fired within the attribution window and the session has not converted yet.
// Organic purchases, late purchases and repeat purchases return nil without
// recording anything.
func (t *Tracker) TrackPurchase(ctx *sessions.Context, orderValue float64, at time.Time) *ConversionEvent {
	if ctx.LastRedirectEventID == "" {
		return nil
	}
	if ctx.Attributed {
		return nil
	}
	if at.Sub(ctx.LastFiredAt) > t.window {
		t.logger.Debug("Purchase outside attribution window",
			slog.String("session", ctx.ID),
			slog.String("redirect_event_id", ctx.LastRedirectEventID))
		return nil
	}

	event := ConversionEvent{
		ID:              uuid.NewString(),
		RedirectEventID: ctx.LastRedirectEventID,
		RuleID:          ctx.FiredRuleID,
		MerchantID:      ctx.MerchantID,
		SessionID:       ctx.ID,
		OrderValue:      orderValue,
		ConvertedAt:     at,
	}

	ctx.Attributed = true
	t.enqueue(event)

	t.logger.Info("Conversion attributed",
		slog.Uint64("rule_id", uint64(ctx.FiredRuleID)),
		slog.String("redirect_event_id", event.RedirectEventID))
	return &event
}

// Stop drains the queue and shuts the worker down.
func (t *Tracker) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.queue)
		<-t.done
	})
}

func (t *Tracker) enqueue(event ConversionEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		t.logger.Warn("Conversion tracker stopped, dropping event",
			slog.String("event_id", event.ID))
		return
	}
	select {
	case t.queue <- event:
	default:
		t.logger.Warn("Conversion queue full, dropping event",
			slog.String("event_id", event.ID),
			slog.Uint64("rule_id", uint64(event.RuleID)))
	}
}

func (t *Tracker) run() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.persist(event); err != nil {
			t.logger.Error("Giving up on conversion event",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (t *Tracker) persist(event ConversionEvent) error {
	var lastErr error
	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(t.policy.NextDelay(attempt - 1))
		}
		db := t.dbManager.GetConnection()
		lastErr = sqlite.PerformWrite(t.logger, db, func(tx *gorm.DB) error {
			return tx.Create(&event).Error
		})
		if lastErr == nil {
			return nil
		}
		t.logger.Warn("Conversion event write failed",
			slog.String("event_id", event.ID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}
	return fmt.Errorf("persisting conversion event after %d attempts: %w", t.policy.MaxAttempts, lastErr)
}
