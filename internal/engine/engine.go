// Package engine wires the session registry, trigger detector, rule
// evaluator and redirect executor into the decision path the public API
// drives. Once a session exists, a decision never touches the database or the
// network: everything it needs lives on the session context.
package engine

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/config"
	"redirectly/internal/conversions"
	"redirectly/internal/merchants"
	"redirectly/internal/pkg/device"
	"redirectly/internal/pkg/geoip"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
	"redirectly/internal/sessions"
	"redirectly/internal/triggers"
	"redirectly/internal/visitors"
)

// ErrBotSession is returned when the user agent classifies as an automated
// client. Bots never get a session.
var ErrBotSession = errors.New("bot user agents do not get sessions")

// Engine is the decision core shared by the public API handlers.
type Engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	dbManager cartridge.DBManager

	registry *sessions.Registry
	detector *triggers.Detector
	executor *redirects.Executor
	recorder *redirects.Recorder
	tracker  *conversions.Tracker
	markers  visitors.MarkerStore
}

// New assembles an engine from its configuration.
func New(cfg *config.Config, logger *slog.Logger, dbManager cartridge.DBManager, registry *sessions.Registry, markers visitors.MarkerStore) *Engine {
	policy := redirects.RetryPolicy{
		MaxAttempts: cfg.PersistMaxAttempts,
		Delay:       cfg.PersistRetryDelay(),
		Multiplier:  2,
	}
	recorder := redirects.NewRecorder(dbManager, logger, policy, 1024)

	diag := redirects.NewDiagnosticsLogger(
		cfg.LogsDirectory, cfg.LogsMaxSizeInMb, cfg.LogsMaxBackups, cfg.LogsMaxAgeInDays)

	return &Engine{
		cfg:       cfg,
		logger:    logger,
		dbManager: dbManager,
		registry:  registry,
		detector:  triggers.NewDetector(cfg.SignalSampleInterval(), logger),
		executor:  redirects.NewExecutor(recorder, logger, diag),
		recorder:  recorder,
		tracker:   conversions.NewTracker(dbManager, logger, cfg.AttributionWindow(), policy, 256),
		markers:   markers,
	}
}

// SessionStart is the session-creation response payload.
type SessionStart struct {
	SessionID string             `json:"session_id"`
	Decision  redirects.Decision `json:"decision"`
}

// StartSession creates a session context for a visitor on the merchant's
// site: visitor signature, country and device enrichment, first-visit lookup
// and the once-per-session active-rule snapshot. Visit-classification
// triggers are evaluated immediately.
func (e *Engine) StartSession(reqCtx context.Context, merchant *merchants.Merchant, ip, userAgent string, now time.Time) (*SessionStart, error) {
	deviceType := device.Classify(userAgent)
	if deviceType == device.TypeBot {
		return nil, ErrBotSession
	}

	signature := visitors.BuildVisitorSignature(merchant.Domain, ip, userAgent, e.cfg.PrivateKey)
	firstVisit := visitors.ResolveFirstVisit(reqCtx, e.markers, e.logger, signature)

	db := e.dbManager.GetConnection()
	snapshot, err := rules.ListActiveRules(db, merchant.ID, now)
	if err != nil {
		return nil, err
	}

	ctx := sessions.NewContext(uuid.NewString(), merchant.ID, now)
	ctx.VisitorSignature = signature
	ctx.Country = geoip.CountryCode(ip)
	ctx.DeviceType = deviceType
	ctx.IsFirstVisit = firstVisit
	ctx.RuleSnapshot = snapshot
	e.registry.Put(ctx)

	e.logger.Debug("Session started",
		slog.String("session", ctx.ID),
		slog.Uint64("merchant_id", uint64(merchant.ID)),
		slog.Bool("first_visit", firstVisit),
		slog.Int("rules", len(snapshot)))

	events := e.detector.SessionStarted(ctx, now)
	decision := e.resolve(ctx, events, now)

	return &SessionStart{SessionID: ctx.ID, Decision: decision}, nil
}

// ObserveSignals folds a batch of browser signals into the session and
// returns the first decision they produce.
func (e *Engine) ObserveSignals(sessionID string, signals []triggers.Signal, now time.Time) (redirects.Decision, error) {
	decision := redirects.Decision{Action: redirects.DecisionNone}

	err := e.registry.WithSession(sessionID, func(ctx *sessions.Context) error {
		for _, sig := range signals {
			if ctx.Pending != nil {
				// Suspended on a confirmation; nothing else may fire
				break
			}
			if sig.At.IsZero() {
				sig.At = now
			}
			events := e.detector.Observe(ctx, sig)
			if d := e.resolve(ctx, events, sig.At); d.Action != redirects.DecisionNone {
				decision = d
				break
			}
		}
		return nil
	})
	return decision, err
}

// ResolveConfirmation settles the session's pending confirmation.
func (e *Engine) ResolveConfirmation(sessionID string, accepted bool, now time.Time) (redirects.Decision, error) {
	decision := redirects.Decision{Action: redirects.DecisionNone}

	err := e.registry.WithSession(sessionID, func(ctx *sessions.Context) error {
		decision = e.executor.ResolveConfirmation(ctx, accepted, now)
		return nil
	})
	return decision, err
}

// TrackPurchase handles the purchase hook: attribute the purchase to the
// session's prior redirect if one qualifies, then run POST_PURCHASE triggers
// against the fresh checkout state. The attribution decision is in-memory;
// the tracker's worker persists the event.
func (e *Engine) TrackPurchase(sessionID string, orderValue float64, now time.Time) (redirects.Decision, error) {
	decision := redirects.Decision{Action: redirects.DecisionNone}

	err := e.registry.WithSession(sessionID, func(ctx *sessions.Context) error {
		e.tracker.TrackPurchase(ctx, orderValue, now)

		events := e.detector.PurchaseCompleted(ctx, now)
		decision = e.resolve(ctx, events, now)
		return nil
	})
	return decision, err
}

// EndSession processes the final beacon signals (the unload path that powers
// ABANDONED_CART), cancels any unresolved confirmation and destroys the
// session. The decision, if any, reaches the visitor on their next page load
// at best; the redirect event is still recorded.
func (e *Engine) EndSession(sessionID string, finalSignals []triggers.Signal, now time.Time) (redirects.Decision, error) {
	decision, err := e.ObserveSignals(sessionID, finalSignals, now)
	if err != nil {
		return decision, err
	}

	if ctx, ok := e.registry.End(sessionID); ok {
		e.executor.CancelPending(ctx)
		e.logger.Debug("Session ended",
			slog.String("session", sessionID),
			slog.Int("fires", ctx.FireCount))
	}
	return decision, nil
}

// Start is a no-op; the persistence workers run from construction.
// Implements cartridge.BackgroundWorker.
func (e *Engine) Start() error {
	return nil
}

// Stop drains the redirect and conversion writers. Implements
// cartridge.BackgroundWorker.
func (e *Engine) Stop() {
	e.recorder.Stop()
	e.tracker.Stop()
}

// resolve picks and executes the winning rule for each detected trigger,
// stopping at the first decision that does anything.
func (e *Engine) resolve(ctx *sessions.Context, events []triggers.Event, now time.Time) redirects.Decision {
	for _, ev := range events {
		if ctx.Pending != nil {
			break
		}
		rule := redirects.SelectRule(ctx, ev, now, e.cfg.MaxRedirectsPerSession)
		if rule == nil {
			continue
		}
		if d := e.executor.Execute(ctx, rule, ev.At); d.Action != redirects.DecisionNone {
			return d
		}
	}
	return redirects.Decision{Action: redirects.DecisionNone}
}
