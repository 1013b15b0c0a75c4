// Package triggers watches the browser signals streamed by the SDK and turns
// them into trigger events. Each trigger kind is emitted at most once per
// session.
package triggers

import (
	"time"

	"log/slog"

	"redirectly/internal/rules"
	"redirectly/internal/sessions"
)

// SignalKind names a raw browser signal carried by a beacon.
type SignalKind string

const (
	SignalScroll      SignalKind = "scroll"
	SignalPointer     SignalKind = "pointer"
	SignalInput       SignalKind = "input"
	SignalVisibility  SignalKind = "visibility"
	SignalCart        SignalKind = "cart"
	SignalBackGesture SignalKind = "back_gesture"
	SignalTick        SignalKind = "tick"
)

// Signal is one raw browser observation.
type Signal struct {
	Kind SignalKind
	At   time.Time

	// Scroll: depth as a percentage of the scrollable height.
	ScrollDepthPct float64

	// Pointer: position and vertical velocity in px/s, negative = upward.
	PointerY         float64
	PointerVelocityY float64

	// Visibility
	Hidden bool

	// Cart
	CartItems int
}

// Event is a detected trigger occurrence.
type Event struct {
	Kind rules.TriggerKind
	At   time.Time
}

// Exit-intent heuristics: the pointer must be moving upward fast and be close
// to the top of the viewport.
const (
	exitIntentTopRegionPx = 80.0
	exitIntentMinVelocity = 500.0 // px/s upward
)

// Detector turns raw signals into trigger events against a session context.
// Continuously sampled checks (scroll depth, elapsed time, idle) are rated to
// at most one evaluation per sample interval.
type Detector struct {
	sampleInterval time.Duration
	logger         *slog.Logger
}

// NewDetector creates a detector with the given sampling interval.
func NewDetector(sampleInterval time.Duration, logger *slog.Logger) *Detector {
	return &Detector{
		sampleInterval: sampleInterval,
		logger:         logger,
	}
}

// SessionStarted emits the visit-classification trigger for a fresh session.
func (d *Detector) SessionStarted(ctx *sessions.Context, now time.Time) []Event {
	if ctx.IsFirstVisit {
		return d.emit(ctx, rules.TriggerFirstVisit, now)
	}
	return d.emit(ctx, rules.TriggerReturningVisitor, now)
}

// Observe folds one raw signal into the session context and returns any
// trigger events it produced.
func (d *Detector) Observe(ctx *sessions.Context, sig Signal) []Event {
	ctx.Touch(sig.At)

	switch sig.Kind {
	case SignalScroll:
		ctx.LastInputAt = sig.At
		if sig.ScrollDepthPct > ctx.ScrollDepthPct {
			ctx.ScrollDepthPct = sig.ScrollDepthPct
		}
		if !d.sampleDue(ctx, sig.At) {
			return nil
		}
		return d.checkSampledThresholds(ctx, sig.At)

	case SignalPointer:
		ctx.LastInputAt = sig.At
		if isMobileDevice(ctx.DeviceType) {
			return nil
		}
		if sig.PointerVelocityY <= -exitIntentMinVelocity && sig.PointerY <= exitIntentTopRegionPx {
			return d.emit(ctx, rules.TriggerExitIntent, sig.At)
		}
		return nil

	case SignalBackGesture:
		if !isMobileDevice(ctx.DeviceType) {
			return nil
		}
		return d.emit(ctx, rules.TriggerExitIntent, sig.At)

	case SignalInput:
		ctx.LastInputAt = sig.At
		return nil

	case SignalCart:
		ctx.CartItems = sig.CartItems
		return nil

	case SignalVisibility:
		if !sig.Hidden {
			return nil
		}
		if ctx.CartItems > 0 && !ctx.CheckoutComplete {
			return d.emit(ctx, rules.TriggerAbandonedCart, sig.At)
		}
		return nil

	case SignalTick:
		if !d.sampleDue(ctx, sig.At) {
			return nil
		}
		return d.checkSampledThresholds(ctx, sig.At)
	}

	d.logger.Debug("Ignoring unknown signal kind", slog.String("kind", string(sig.Kind)))
	return nil
}

// PurchaseCompleted handles the synchronous purchase-completion hook from the
// checkout. It marks the checkout complete (disarming ABANDONED_CART) and
// emits POST_PURCHASE.
func (d *Detector) PurchaseCompleted(ctx *sessions.Context, now time.Time) []Event {
	ctx.Touch(now)
	ctx.CheckoutComplete = true
	ctx.CartItems = 0
	return d.emit(ctx, rules.TriggerPostPurchase, now)
}

// sampleDue rate-limits the continuously evaluated checks.
func (d *Detector) sampleDue(ctx *sessions.Context, now time.Time) bool {
	if !ctx.LastSampleAt.IsZero() && now.Sub(ctx.LastSampleAt) < d.sampleInterval {
		return false
	}
	ctx.LastSampleAt = now
	return true
}

// checkSampledThresholds evaluates the threshold-based kinds against the
// lowest configured threshold in the session's rule snapshot. Emission is
// gated on a rule actually being satisfiable so the single per-kind emission
// is not burned before any rule's own threshold is reached.
func (d *Detector) checkSampledThresholds(ctx *sessions.Context, now time.Time) []Event {
	var out []Event

	if min, ok := minDelay(ctx.RuleSnapshot); ok && ctx.Elapsed(now) >= min {
		out = append(out, d.emit(ctx, rules.TriggerTimeDelay, now)...)
	}
	if min, ok := minScrollThreshold(ctx.RuleSnapshot); ok && ctx.ScrollDepthPct >= min {
		out = append(out, d.emit(ctx, rules.TriggerScrollPercentage, now)...)
	}
	if min, ok := minIdleThreshold(ctx.RuleSnapshot); ok && ctx.IdleFor(now) >= min {
		out = append(out, d.emit(ctx, rules.TriggerIdle, now)...)
	}

	return out
}

// emit produces the event unless the kind already fired this session.
func (d *Detector) emit(ctx *sessions.Context, kind rules.TriggerKind, at time.Time) []Event {
	if ctx.EmittedKinds[kind] {
		return nil
	}
	ctx.EmittedKinds[kind] = true

	d.logger.Debug("Trigger detected",
		slog.String("session", ctx.ID),
		slog.String("kind", string(kind)))

	return []Event{{Kind: kind, At: at}}
}

func isMobileDevice(deviceType string) bool {
	return deviceType == "mobile" || deviceType == "tablet"
}

func minDelay(snapshot []rules.RedirectRule) (time.Duration, bool) {
	var min time.Duration
	found := false
	for i := range snapshot {
		spec, err := snapshot[i].Spec()
		if err != nil {
			continue
		}
		if s, ok := spec.(rules.TimeDelaySpec); ok {
			if !found || s.Delay < min {
				min = s.Delay
				found = true
			}
		}
	}
	return min, found
}

func minScrollThreshold(snapshot []rules.RedirectRule) (float64, bool) {
	var min float64
	found := false
	for i := range snapshot {
		spec, err := snapshot[i].Spec()
		if err != nil {
			continue
		}
		if s, ok := spec.(rules.ScrollDepthSpec); ok {
			if !found || s.Percent < min {
				min = s.Percent
				found = true
			}
		}
	}
	return min, found
}

func minIdleThreshold(snapshot []rules.RedirectRule) (time.Duration, bool) {
	var min time.Duration
	found := false
	for i := range snapshot {
		spec, err := snapshot[i].Spec()
		if err != nil {
			continue
		}
		if s, ok := spec.(rules.IdleSpec); ok {
			if !found || s.Threshold < min {
				min = s.Threshold
				found = true
			}
		}
	}
	return min, found
}
