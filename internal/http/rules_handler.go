// Package http holds the merchant dashboard API handlers.
package http

import (
	"errors"
	"net/http"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/http/middleware"
	"redirectly/internal/rules"
)

// RuleParams is the create/update payload for a redirect rule.
type RuleParams struct {
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	Trigger              string     `json:"trigger"`
	TriggerDelaySeconds  *int       `json:"trigger_delay_seconds"`
	TriggerScrollPercent *float64   `json:"trigger_scroll_percent"`
	TriggerIdleSeconds   *int       `json:"trigger_idle_seconds"`
	DestinationURL       string     `json:"destination_url"`
	Priority             *int       `json:"priority"`
	OpenInNewTab         bool       `json:"open_in_new_tab"`
	ShowConfirmation     bool       `json:"show_confirmation"`
	ConfirmationMessage  string     `json:"confirmation_message"`
	Enabled              *bool      `json:"enabled"`
	StartsAt             *time.Time `json:"starts_at"`
	EndsAt               *time.Time `json:"ends_at"`
}

func (p *RuleParams) apply(rule *rules.RedirectRule) {
	rule.Name = p.Name
	rule.Description = p.Description
	rule.Trigger = rules.TriggerKind(p.Trigger)
	rule.TriggerDelaySeconds = p.TriggerDelaySeconds
	rule.TriggerScrollPercent = p.TriggerScrollPercent
	rule.TriggerIdleSeconds = p.TriggerIdleSeconds
	rule.DestinationURL = p.DestinationURL
	rule.OpenInNewTab = p.OpenInNewTab
	rule.ShowConfirmation = p.ShowConfirmation
	rule.ConfirmationMessage = p.ConfirmationMessage
	rule.StartsAt = p.StartsAt
	rule.EndsAt = p.EndsAt
	if p.Priority != nil {
		rule.Priority = *p.Priority
	}
	if p.Enabled != nil {
		rule.Enabled = *p.Enabled
	}
}

// RulesIndexAction lists the merchant's rules, highest precedence first.
func RulesIndexAction(ctx *cartridge.Context) error {
	merchant := middleware.MerchantFromContext(ctx.Ctx)
	db := ctx.DBManager.GetConnection()

	result, err := rules.ListRulesForMerchant(db, merchant.ID)
	if err != nil {
		ctx.Logger.Error("Failed to list rules", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list rules",
		})
	}

	return ctx.JSON(fiber.Map{"rules": result})
}

// RuleShowAction returns one rule.
func RuleShowAction(ctx *cartridge.Context) error {
	rule, errResp := loadOwnedRule(ctx)
	if errResp != nil {
		return errResp
	}
	return ctx.JSON(fiber.Map{"rule": rule})
}

// RuleCreateAction creates a rule for the authenticated merchant. New rules
// default to priority 100 and enabled; a future starts_at makes the rule
// SCHEDULED until its window opens.
func RuleCreateAction(ctx *cartridge.Context) error {
	merchant := middleware.MerchantFromContext(ctx.Ctx)

	var params RuleParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	rule := rules.RedirectRule{
		MerchantID: merchant.ID,
		Priority:   100,
		Enabled:    true,
	}
	params.apply(&rule)

	db := ctx.DBManager.GetConnection()
	if err := rules.CreateRule(db, ctx.Logger, &rule); err != nil {
		ctx.Logger.Debug("Rule rejected", slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.Status(http.StatusCreated).JSON(fiber.Map{"rule": rule})
}

// RuleUpdateAction updates a rule. Updating bumps updated_at, which also
// refreshes the rule's position in the priority tiebreak.
func RuleUpdateAction(ctx *cartridge.Context) error {
	rule, errResp := loadOwnedRule(ctx)
	if errResp != nil {
		return errResp
	}

	var params RuleParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	params.apply(rule)

	db := ctx.DBManager.GetConnection()
	if err := rules.UpdateRule(db, ctx.Logger, rule); err != nil {
		ctx.Logger.Debug("Rule update rejected", slog.Any("error", err))
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.JSON(fiber.Map{"rule": rule})
}

// RuleEnableAction flips the merchant toggle on.
func RuleEnableAction(ctx *cartridge.Context) error {
	return setRuleEnabled(ctx, true)
}

// RuleDisableAction flips the merchant toggle off.
func RuleDisableAction(ctx *cartridge.Context) error {
	return setRuleEnabled(ctx, false)
}

func setRuleEnabled(ctx *cartridge.Context, enabled bool) error {
	rule, errResp := loadOwnedRule(ctx)
	if errResp != nil {
		return errResp
	}

	db := ctx.DBManager.GetConnection()
	updated, err := rules.SetEnabled(db, ctx.Logger, rule.ID, enabled)
	if err != nil {
		ctx.Logger.Error("Failed to toggle rule", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to toggle rule",
		})
	}

	return ctx.JSON(fiber.Map{"rule": updated})
}

// RuleDeleteAction deletes a rule. Its recorded events survive for analytics.
func RuleDeleteAction(ctx *cartridge.Context) error {
	rule, errResp := loadOwnedRule(ctx)
	if errResp != nil {
		return errResp
	}

	db := ctx.DBManager.GetConnection()
	if err := rules.DeleteRule(db, ctx.Logger, rule.ID); err != nil {
		ctx.Logger.Error("Failed to delete rule", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete rule",
		})
	}

	return ctx.SendStatus(http.StatusNoContent)
}

// loadOwnedRule fetches the rule in :id and enforces merchant ownership.
func loadOwnedRule(ctx *cartridge.Context) (*rules.RedirectRule, error) {
	merchant := middleware.MerchantFromContext(ctx.Ctx)

	id, err := ctx.ParamsInt("id")
	if err != nil || id < 1 {
		return nil, ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid rule id",
		})
	}

	db := ctx.DBManager.GetConnection()
	rule, err := rules.GetRuleByID(db, uint(id))
	if err != nil {
		var notFound *rules.RuleNotFoundError
		if errors.As(err, &notFound) {
			return nil, ctx.Status(http.StatusNotFound).JSON(fiber.Map{
				"error": "Rule not found",
			})
		}
		ctx.Logger.Error("Failed to load rule", slog.Any("error", err))
		return nil, ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load rule",
		})
	}

	if rule.MerchantID != merchant.ID {
		// Do not leak other merchants' rule ids
		return nil, ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Rule not found",
		})
	}

	return rule, nil
}
