package redirects

import (
	"path/filepath"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"

	"redirectly/internal/rules"
	"redirectly/internal/sessions"
)

// DecisionAction tells the SDK what to do with a decision payload.
type DecisionAction string

const (
	// DecisionNone means nothing fires for this signal.
	DecisionNone DecisionAction = "none"
	// DecisionNavigate instructs the SDK to navigate immediately.
	DecisionNavigate DecisionAction = "navigate"
	// DecisionConfirm instructs the SDK to show a confirmation prompt and
	// report the visitor's answer back.
	DecisionConfirm DecisionAction = "confirm"
)

// Decision is the payload returned to the SDK after evaluating a trigger.
type Decision struct {
	Action  DecisionAction `json:"action"`
	RuleID  uint           `json:"rule_id,omitempty"`
	EventID string         `json:"event_id,omitempty"`
	URL     string         `json:"url,omitempty"`
	NewTab  bool           `json:"new_tab,omitempty"`
	Message string         `json:"message,omitempty"`
}

var noDecision = Decision{Action: DecisionNone}

// Executor turns a selected rule into a decision, mutates the session's fire
// state and records the redirect event.
type Executor struct {
	recorder *Recorder
	logger   *slog.Logger
	diag     *slog.Logger
}

// NewExecutor creates an executor. diag receives execution failures that must
// survive locally even when the main log stream is unavailable.
func NewExecutor(recorder *Recorder, logger *slog.Logger, diag *slog.Logger) *Executor {
	return &Executor{recorder: recorder, logger: logger, diag: diag}
}

// NewDiagnosticsLogger builds the rotating local log for execution failures.
func NewDiagnosticsLogger(dir string, maxSizeMB, maxBackups, maxAgeDays int) *slog.Logger {
	writer := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "redirect-diagnostics.log"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
	}
	return slog.New(slog.NewJSONHandler(writer, nil))
}

// Execute carries out the winning rule. Rules that ask for confirmation
// suspend into a pending state on the session instead of firing; everything
// else navigates immediately.
func (e *Executor) Execute(ctx *sessions.Context, rule *rules.RedirectRule, at time.Time) Decision {
	if rule.ShowConfirmation {
		ctx.Pending = &sessions.PendingConfirmation{RuleID: rule.ID, RequestedAt: at}
		return Decision{
			Action:  DecisionConfirm,
			RuleID:  rule.ID,
			Message: rule.ConfirmationMessage,
		}
	}
	return e.fire(ctx, rule, at)
}

// ResolveConfirmation settles a pending confirmation. A decline, a vanished
// or no-longer-active rule all resolve to no action; an accept fires the rule
// as if it had triggered at resolution time.
func (e *Executor) ResolveConfirmation(ctx *sessions.Context, accepted bool, now time.Time) Decision {
	pending := ctx.Pending
	ctx.Pending = nil
	if pending == nil || !accepted {
		return noDecision
	}

	var rule *rules.RedirectRule
	for i := range ctx.RuleSnapshot {
		if ctx.RuleSnapshot[i].ID == pending.RuleID {
			rule = &ctx.RuleSnapshot[i]
			break
		}
	}
	if rule == nil || rule.StatusAt(now) != rules.StatusActive {
		return noDecision
	}
	return e.fire(ctx, rule, now)
}

// CancelPending discards an unresolved confirmation, e.g. when the session
// ends before the visitor answers.
func (e *Executor) CancelPending(ctx *sessions.Context) {
	ctx.Pending = nil
}

// fire fails closed on a destination that no longer parses as an absolute
// http(s) URL: no navigation, diagnostics entry, session untouched.
func (e *Executor) fire(ctx *sessions.Context, rule *rules.RedirectRule, at time.Time) Decision {
	if err := rules.ValidateDestinationURL(rule.DestinationURL); err != nil {
		e.diag.Error("Refusing redirect to malformed destination",
			slog.Uint64("rule_id", uint64(rule.ID)),
			slog.String("session", ctx.ID),
			slog.String("destination", rule.DestinationURL),
			slog.String("error", err.Error()))
		e.logger.Warn("Redirect failed closed on malformed destination",
			slog.Uint64("rule_id", uint64(rule.ID)))
		return noDecision
	}

	eventID := uuid.NewString()
	ctx.FireCount++
	ctx.FiredRuleID = rule.ID
	ctx.LastRedirectEventID = eventID
	ctx.LastFiredAt = at

	e.recorder.Enqueue(RedirectEvent{
		ID:         eventID,
		RuleID:     rule.ID,
		MerchantID: ctx.MerchantID,
		SessionID:  ctx.ID,
		FiredAt:    at,
		Country:    ctx.Country,
		DeviceType: ctx.DeviceType,
	})

	e.logger.Info("Redirect fired",
		slog.Uint64("rule_id", uint64(rule.ID)),
		slog.String("session", ctx.ID),
		slog.String("event_id", eventID))

	return Decision{
		Action:  DecisionNavigate,
		RuleID:  rule.ID,
		EventID: eventID,
		URL:     rule.DestinationURL,
		NewTab:  rule.OpenInNewTab,
	}
}
