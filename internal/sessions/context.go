// Package sessions holds the per-visit mutable state the engine evaluates
// against. A Context is created once per browsing session, passed explicitly
// to the detector, evaluator and executor, and destroyed when the session
// ends - never a module-level singleton.
package sessions

import (
	"time"

	"redirectly/internal/rules"
)

// PendingConfirmation is a redirect decision suspended on a confirmation
// dialog. It is resolved by the visitor's answer or cancelled when the
// session ends.
type PendingConfirmation struct {
	RuleID      uint
	RequestedAt time.Time
}

// Context is the engine's working state for one browsing session. The rule
// snapshot is fetched once at session start; the decision path never touches
// anything outside this struct.
type Context struct {
	ID               string
	MerchantID       uint
	VisitorSignature string

	// Enrichment captured at session start, attached to redirect events.
	Country    string
	DeviceType string

	StartedAt  time.Time
	LastSeenAt time.Time

	// Trigger detector state
	IsFirstVisit     bool
	ScrollDepthPct   float64
	LastInputAt      time.Time
	CartItems        int
	CheckoutComplete bool
	LastSampleAt     time.Time
	EmittedKinds     map[rules.TriggerKind]bool

	// Redirect executor state
	FireCount           int
	FiredRuleID         uint
	LastRedirectEventID string
	LastFiredAt         time.Time
	Pending             *PendingConfirmation

	// Conversion tracker state
	Attributed bool

	// Active-rule snapshot cached at session start.
	RuleSnapshot []rules.RedirectRule
}

// NewContext creates a session context started at the given instant.
func NewContext(id string, merchantID uint, now time.Time) *Context {
	return &Context{
		ID:           id,
		MerchantID:   merchantID,
		StartedAt:    now,
		LastSeenAt:   now,
		LastInputAt:  now,
		EmittedKinds: make(map[rules.TriggerKind]bool),
	}
}

// Elapsed returns how long the session has been alive at the given instant.
func (c *Context) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.StartedAt)
}

// IdleFor returns how long the visitor has produced no input.
func (c *Context) IdleFor(now time.Time) time.Duration {
	return now.Sub(c.LastInputAt)
}

// HasFired reports whether any redirect has been committed in this session.
func (c *Context) HasFired() bool {
	return c.FireCount > 0
}

// Touch records beacon activity, keeping the session out of TTL eviction.
func (c *Context) Touch(now time.Time) {
	c.LastSeenAt = now
}

// ExpiredAt reports whether the session has outlived its TTL.
func (c *Context) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.LastSeenAt) > ttl
}
