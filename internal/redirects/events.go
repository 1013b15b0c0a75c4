package redirects

import (
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// RedirectEvent is the append-only record of one executed redirect.
type RedirectEvent struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	RuleID     uint      `gorm:"not null;index:idx_redirect_events_rule" json:"rule_id"`
	MerchantID uint      `gorm:"not null;index:idx_redirect_events_merchant_fired,priority:1" json:"merchant_id"`
	SessionID  string    `gorm:"not null;index" json:"session_id"`
	FiredAt    time.Time `gorm:"not null;index:idx_redirect_events_merchant_fired,priority:2" json:"fired_at"`
	Country    string    `json:"country"`
	DeviceType string    `json:"device_type"`
	CreatedAt  time.Time `json:"created_at"`
}

// RetryPolicy bounds how persistence failures are retried. The delay grows
// geometrically per attempt.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
}

// NextDelay returns the wait before the given 1-based attempt.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := p.Delay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	return d
}

// Recorder persists redirect events off the decision path. Events are queued
// on a bounded channel and written by a single worker; a full queue drops the
// event with a warning rather than blocking the caller.
type Recorder struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	policy    RetryPolicy

	queue  chan RedirectEvent
	done   chan struct{}
	mu     sync.Mutex
	closed bool
	once   sync.Once
}

// NewRecorder creates a recorder with the given queue capacity and starts its
// worker.
func NewRecorder(dbManager cartridge.DBManager, logger *slog.Logger, policy RetryPolicy, capacity int) *Recorder {
	r := &Recorder{
		dbManager: dbManager,
		logger:    logger,
		policy:    policy,
		queue:     make(chan RedirectEvent, capacity),
		done:      make(chan struct{}),
	}
	go r.run()
	return r
}

// Enqueue hands an event to the worker without blocking. A request racing
// shutdown finds the recorder closed and drops the event; the queue channel
// is only ever closed while no sender holds the mutex.
func (r *Recorder) Enqueue(event RedirectEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.logger.Warn("Recorder stopped, dropping event",
			slog.String("event_id", event.ID))
		return
	}
	select {
	case r.queue <- event:
	default:
		r.logger.Warn("Redirect event queue full, dropping event",
			slog.String("event_id", event.ID),
			slog.Uint64("rule_id", uint64(event.RuleID)))
	}
}

// Stop drains the queue and shuts the worker down.
func (r *Recorder) Stop() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.queue)
		<-r.done
	})
}

func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.queue {
		if err := r.persist(event); err != nil {
			r.logger.Error("Giving up on redirect event",
				slog.String("event_id", event.ID),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Recorder) persist(event RedirectEvent) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(r.policy.NextDelay(attempt - 1))
		}
		db := r.dbManager.GetConnection()
		lastErr = sqlite.PerformWrite(r.logger, db, func(tx *gorm.DB) error {
			return tx.Create(&event).Error
		})
		if lastErr == nil {
			return nil
		}
		r.logger.Warn("Redirect event write failed",
			slog.String("event_id", event.ID),
			slog.Int("attempt", attempt),
			slog.String("error", lastErr.Error()))
	}
	return fmt.Errorf("persisting redirect event after %d attempts: %w", r.policy.MaxAttempts, lastErr)
}
