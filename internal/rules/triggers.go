package rules

import (
	"fmt"
	"time"
)

// TriggerKind identifies the class of browser-observable condition that can
// make a rule eligible to fire.
type TriggerKind string

const (
	TriggerPostPurchase     TriggerKind = "post_purchase"
	TriggerAbandonedCart    TriggerKind = "abandoned_cart"
	TriggerExitIntent       TriggerKind = "exit_intent"
	TriggerTimeDelay        TriggerKind = "time_delay"
	TriggerScrollPercentage TriggerKind = "scroll_percentage"
	TriggerIdle             TriggerKind = "idle"
	TriggerFirstVisit       TriggerKind = "first_visit"
	TriggerReturningVisitor TriggerKind = "returning_visitor"
)

// AllTriggerKinds lists every supported trigger kind.
func AllTriggerKinds() []TriggerKind {
	return []TriggerKind{
		TriggerPostPurchase,
		TriggerAbandonedCart,
		TriggerExitIntent,
		TriggerTimeDelay,
		TriggerScrollPercentage,
		TriggerIdle,
		TriggerFirstVisit,
		TriggerReturningVisitor,
	}
}

// IsValid reports whether k is a known trigger kind.
func (k TriggerKind) IsValid() bool {
	for _, kind := range AllTriggerKinds() {
		if k == kind {
			return true
		}
	}
	return false
}

// TriggerSpec is the typed trigger configuration of a rule. Each variant
// carries exactly the parameters meaningful for its kind, so a rule can never
// hold an ambiguous, partially-filled parameter set.
type TriggerSpec interface {
	Kind() TriggerKind
}

// TimeDelaySpec fires once the visitor has been on the page for Delay.
type TimeDelaySpec struct {
	Delay time.Duration
}

func (TimeDelaySpec) Kind() TriggerKind { return TriggerTimeDelay }

// ScrollDepthSpec fires once the visitor has scrolled past Percent of the page.
type ScrollDepthSpec struct {
	Percent float64
}

func (ScrollDepthSpec) Kind() TriggerKind { return TriggerScrollPercentage }

// IdleSpec fires once the visitor has produced no input for Threshold.
type IdleSpec struct {
	Threshold time.Duration
}

func (IdleSpec) Kind() TriggerKind { return TriggerIdle }

// ExitIntentSpec fires on rapid upward pointer movement toward the viewport
// top (desktop) or a back-navigation gesture (mobile).
type ExitIntentSpec struct{}

func (ExitIntentSpec) Kind() TriggerKind { return TriggerExitIntent }

// PostPurchaseSpec fires synchronously when the checkout reports a completed purchase.
type PostPurchaseSpec struct{}

func (PostPurchaseSpec) Kind() TriggerKind { return TriggerPostPurchase }

// AbandonedCartSpec fires when the page is hidden or unloaded with a non-empty
// cart and an incomplete checkout.
type AbandonedCartSpec struct{}

func (AbandonedCartSpec) Kind() TriggerKind { return TriggerAbandonedCart }

// FirstVisitSpec fires for visitors with no prior-visit marker.
type FirstVisitSpec struct{}

func (FirstVisitSpec) Kind() TriggerKind { return TriggerFirstVisit }

// ReturningVisitorSpec fires for visitors with a prior-visit marker.
type ReturningVisitorSpec struct{}

func (ReturningVisitorSpec) Kind() TriggerKind { return TriggerReturningVisitor }

// Spec returns the typed trigger configuration for the rule's declared kind.
// It fails on a parameter set that does not match the kind, so callers never
// see a rule whose threshold columns are filled for the wrong trigger.
func (r *RedirectRule) Spec() (TriggerSpec, error) {
	switch r.Trigger {
	case TriggerTimeDelay:
		if r.TriggerDelaySeconds == nil {
			return nil, fmt.Errorf("rule %d: time_delay trigger is missing its delay", r.ID)
		}
		return TimeDelaySpec{Delay: time.Duration(*r.TriggerDelaySeconds) * time.Second}, nil
	case TriggerScrollPercentage:
		if r.TriggerScrollPercent == nil {
			return nil, fmt.Errorf("rule %d: scroll_percentage trigger is missing its threshold", r.ID)
		}
		return ScrollDepthSpec{Percent: *r.TriggerScrollPercent}, nil
	case TriggerIdle:
		if r.TriggerIdleSeconds == nil {
			return nil, fmt.Errorf("rule %d: idle trigger is missing its threshold", r.ID)
		}
		return IdleSpec{Threshold: time.Duration(*r.TriggerIdleSeconds) * time.Second}, nil
	case TriggerExitIntent:
		return ExitIntentSpec{}, nil
	case TriggerPostPurchase:
		return PostPurchaseSpec{}, nil
	case TriggerAbandonedCart:
		return AbandonedCartSpec{}, nil
	case TriggerFirstVisit:
		return FirstVisitSpec{}, nil
	case TriggerReturningVisitor:
		return ReturningVisitorSpec{}, nil
	default:
		return nil, fmt.Errorf("rule %d: unknown trigger kind %q", r.ID, r.Trigger)
	}
}

// validateTriggerParams enforces that exactly the parameters of the declared
// kind are present - no missing threshold, no stray column from another kind.
func (r *RedirectRule) validateTriggerParams() error {
	if !r.Trigger.IsValid() {
		return fmt.Errorf("unknown trigger kind %q", r.Trigger)
	}

	if r.TriggerDelaySeconds != nil && r.Trigger != TriggerTimeDelay {
		return fmt.Errorf("trigger %q must not carry a delay parameter", r.Trigger)
	}
	if r.TriggerScrollPercent != nil && r.Trigger != TriggerScrollPercentage {
		return fmt.Errorf("trigger %q must not carry a scroll threshold", r.Trigger)
	}
	if r.TriggerIdleSeconds != nil && r.Trigger != TriggerIdle {
		return fmt.Errorf("trigger %q must not carry an idle threshold", r.Trigger)
	}

	switch r.Trigger {
	case TriggerTimeDelay:
		if r.TriggerDelaySeconds == nil {
			return fmt.Errorf("time_delay trigger requires a delay in seconds")
		}
		if *r.TriggerDelaySeconds <= 0 {
			return fmt.Errorf("time_delay delay must be positive, got %d", *r.TriggerDelaySeconds)
		}
	case TriggerScrollPercentage:
		if r.TriggerScrollPercent == nil {
			return fmt.Errorf("scroll_percentage trigger requires a threshold")
		}
		if *r.TriggerScrollPercent < 0 || *r.TriggerScrollPercent > 100 {
			return fmt.Errorf("scroll threshold must be between 0 and 100, got %g", *r.TriggerScrollPercent)
		}
	case TriggerIdle:
		if r.TriggerIdleSeconds == nil {
			return fmt.Errorf("idle trigger requires a threshold in seconds")
		}
		if *r.TriggerIdleSeconds <= 0 {
			return fmt.Errorf("idle threshold must be positive, got %d", *r.TriggerIdleSeconds)
		}
	}

	return nil
}
