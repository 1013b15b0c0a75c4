// Package redirects selects and executes redirect rules against live
// sessions and records the resulting events.
package redirects

import (
	"time"

	"redirectly/internal/rules"
	"redirectly/internal/sessions"
	"redirectly/internal/triggers"
)

// SelectRule picks the winning rule for a trigger event, or nil when nothing
// is eligible. Candidates come from the session's rule snapshot, so a rule
// created mid-session never applies to it. Lifecycle status is derived at
// selection time, which keeps rules that expired after the snapshot was taken
// from firing.
//
// The lowest Priority value wins; ties go to the most recently updated rule.
func SelectRule(ctx *sessions.Context, ev triggers.Event, now time.Time, maxFires int) *rules.RedirectRule {
	if ctx.FireCount >= maxFires {
		return nil
	}

	var winner *rules.RedirectRule
	for i := range ctx.RuleSnapshot {
		rule := &ctx.RuleSnapshot[i]
		if rule.Trigger != ev.Kind {
			continue
		}
		if rule.StatusAt(now) != rules.StatusActive {
			continue
		}
		if !thresholdSatisfied(ctx, rule, ev.At) {
			continue
		}
		if winner == nil || beats(rule, winner) {
			winner = rule
		}
	}
	return winner
}

func beats(a, b *rules.RedirectRule) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.UpdatedAt.After(b.UpdatedAt)
}

// thresholdSatisfied checks the rule's own threshold against the session's
// current measurements. The detector gates emission on the lowest threshold
// of a kind, so a stricter rule may still be unsatisfied here.
func thresholdSatisfied(ctx *sessions.Context, rule *rules.RedirectRule, at time.Time) bool {
	spec, err := rule.Spec()
	if err != nil {
		return false
	}
	switch s := spec.(type) {
	case rules.TimeDelaySpec:
		return ctx.Elapsed(at) >= s.Delay
	case rules.ScrollDepthSpec:
		return ctx.ScrollDepthPct >= s.Percent
	case rules.IdleSpec:
		return ctx.IdleFor(at) >= s.Threshold
	default:
		return true
	}
}
