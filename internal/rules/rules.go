// Package rules holds the redirect rule model, its trigger configuration and
// the time-window lifecycle derivation.
package rules

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// RuleStatus is the derived lifecycle state of a rule.
type RuleStatus string

const (
	StatusScheduled RuleStatus = "scheduled"
	StatusActive    RuleStatus = "active"
	StatusExpired   RuleStatus = "expired"
	StatusInactive  RuleStatus = "inactive"
)

// RuleNotFoundError is returned when a rule lookup fails.
type RuleNotFoundError struct {
	ID uint
}

func (e *RuleNotFoundError) Error() string {
	return fmt.Sprintf("redirect rule not found: %d", e.ID)
}

// NewRuleNotFoundError creates a new RuleNotFoundError
func NewRuleNotFoundError(id uint) *RuleNotFoundError {
	return &RuleNotFoundError{ID: id}
}

// RedirectRule is a merchant-authored redirect configuration. The trigger
// parameter columns are nullable and surfaced through the typed Spec()
// accessor; Validate rejects any row whose parameters do not match its
// declared trigger kind.
//
// CurrentRedirects and Conversions are server-authoritative rollups derived
// from the event logs by a background job. They are never incremented on the
// decision path.
type RedirectRule struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	MerchantID  uint   `gorm:"index:idx_merchant_trigger;not null" json:"merchant_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `json:"description"`

	Trigger              TriggerKind `gorm:"index:idx_merchant_trigger;not null" json:"trigger"`
	TriggerDelaySeconds  *int        `json:"trigger_delay_seconds,omitempty"`
	TriggerScrollPercent *float64    `json:"trigger_scroll_percent,omitempty"`
	TriggerIdleSeconds   *int        `json:"trigger_idle_seconds,omitempty"`

	DestinationURL      string `gorm:"not null" json:"destination_url"`
	Priority            int    `gorm:"not null;default:100" json:"priority"`
	OpenInNewTab        bool   `json:"open_in_new_tab"`
	ShowConfirmation    bool   `json:"show_confirmation"`
	ConfirmationMessage string `json:"confirmation_message"`

	Enabled  bool       `gorm:"not null;default:true" json:"enabled"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	// Status is the eagerly reconciled state used for dashboard display. The
	// evaluation path never trusts it and re-derives via StatusAt.
	Status RuleStatus `gorm:"index;not null;default:'active'" json:"status"`

	CurrentRedirects int64 `gorm:"not null;default:0" json:"current_redirects"`
	Conversions      int64 `gorm:"not null;default:0" json:"conversions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusAt derives the lifecycle state of the rule at the given instant.
// EXPIRED is terminal and dominates the merchant toggle; a disabled rule
// inside its window is INACTIVE and may return to ACTIVE when re-enabled.
func (r *RedirectRule) StatusAt(now time.Time) RuleStatus {
	if r.EndsAt != nil && !now.Before(*r.EndsAt) {
		return StatusExpired
	}
	if !r.Enabled {
		return StatusInactive
	}
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return StatusScheduled
	}
	return StatusActive
}

// Validate checks the rule for authoring-time errors: unknown trigger kind,
// parameter set not matching the declared kind, malformed destination URL,
// inverted time window.
func (r *RedirectRule) Validate() error {
	if r.Name == "" {
		return errors.New("rule name is required")
	}
	if err := r.validateTriggerParams(); err != nil {
		return err
	}
	if err := ValidateDestinationURL(r.DestinationURL); err != nil {
		return err
	}
	if r.StartsAt != nil && r.EndsAt != nil && !r.EndsAt.After(*r.StartsAt) {
		return errors.New("rule end time must be after its start time")
	}
	return nil
}

// ValidateDestinationURL requires a well-formed absolute http(s) URL.
func ValidateDestinationURL(raw string) error {
	if raw == "" {
		return errors.New("destination URL is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed destination URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("destination URL must be absolute http(s), got %q", raw)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("destination URL is missing a hostname: %q", raw)
	}
	return nil
}

// CreateRule validates and persists a new rule.
func CreateRule(db *gorm.DB, logger *slog.Logger, rule *RedirectRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid redirect rule: %w", err)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.Status = rule.StatusAt(now)
	rule.CurrentRedirects = 0
	rule.Conversions = 0

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(rule).Error
	})
}

// UpdateRule validates and saves changes to an existing rule.
func UpdateRule(db *gorm.DB, logger *slog.Logger, rule *RedirectRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid redirect rule: %w", err)
	}

	now := time.Now().UTC()
	rule.UpdatedAt = now
	rule.Status = rule.StatusAt(now)

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Save(rule).Error
	})
}

// SetEnabled flips the merchant toggle (ACTIVE <-> INACTIVE). Expired rules
// keep their terminal status regardless of the toggle.
func SetEnabled(db *gorm.DB, logger *slog.Logger, id uint, enabled bool) (*RedirectRule, error) {
	rule, err := GetRuleByID(db, id)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled
	now := time.Now().UTC()
	rule.UpdatedAt = now
	rule.Status = rule.StatusAt(now)

	if err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Save(rule).Error
	}); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule deletes a rule by its ID.
func DeleteRule(db *gorm.DB, logger *slog.Logger, id uint) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		result := tx.Delete(&RedirectRule{}, id)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return NewRuleNotFoundError(id)
		}
		return nil
	})
}

// GetRuleByID retrieves a rule by its ID.
func GetRuleByID(db *gorm.DB, id uint) (*RedirectRule, error) {
	var rule RedirectRule
	if err := db.First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewRuleNotFoundError(id)
		}
		return nil, fmt.Errorf("unexpected error querying rule: %w", err)
	}
	return &rule, nil
}

// ListRulesForMerchant returns every rule a merchant owns, highest precedence
// (lowest priority value) first.
func ListRulesForMerchant(db *gorm.DB, merchantID uint) ([]RedirectRule, error) {
	var result []RedirectRule
	if err := db.Where("merchant_id = ?", merchantID).
		Order("priority ASC, updated_at DESC").
		Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return result, nil
}

// ListActiveRules returns the merchant's rules that are ACTIVE at the given
// instant. This is the once-per-session snapshot fetch: lifecycle status is
// derived here, not read from the stored column.
func ListActiveRules(db *gorm.DB, merchantID uint, now time.Time) ([]RedirectRule, error) {
	all, err := ListRulesForMerchant(db, merchantID)
	if err != nil {
		return nil, err
	}

	active := make([]RedirectRule, 0, len(all))
	for _, rule := range all {
		if rule.StatusAt(now) == StatusActive {
			active = append(active, rule)
		}
	}
	return active, nil
}
