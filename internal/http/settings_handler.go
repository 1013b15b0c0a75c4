package http

import (
	"net/http"
	"strings"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/config"
	"redirectly/internal/jobs"
	"redirectly/internal/settings"
)

// SettingsIndexAction returns all instance settings with secrets masked.
func SettingsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	all, err := settings.GetAllSettingsForDisplay(db)
	if err != nil {
		ctx.Logger.Error("Failed to load settings", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load settings",
		})
	}

	return ctx.JSON(fiber.Map{"settings": all})
}

// ExcludedIPsParams carries the comma-separated exclusion list.
type ExcludedIPsParams struct {
	ExcludedIPs string `json:"excluded_ips"`
}

// SettingsUpdateExcludedIPsAction replaces the excluded IPs list. Sessions
// from these addresses are never tracked.
func SettingsUpdateExcludedIPsAction(ctx *cartridge.Context) error {
	var params ExcludedIPsParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	db := ctx.DBManager.GetConnection()
	value := strings.TrimSpace(params.ExcludedIPs)
	if err := settings.UpdateSetting(db, "excluded_ips", value); err != nil {
		ctx.Logger.Error("Failed to update excluded IPs", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update setting",
		})
	}

	return ctx.JSON(fiber.Map{"excluded_ips": value})
}

// GeoLiteParams carries MaxMind credentials for the country database.
type GeoLiteParams struct {
	AccountID  string `json:"account_id"`
	LicenseKey string `json:"license_key"`
}

// SettingsSaveGeoLiteAction stores MaxMind credentials and kicks off an
// immediate database download in the background.
func SettingsSaveGeoLiteAction(ctx *cartridge.Context) error {
	var params GeoLiteParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	accountID := strings.TrimSpace(params.AccountID)
	licenseKey := strings.TrimSpace(params.LicenseKey)
	if accountID == "" || licenseKey == "" {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Both account ID and license key are required",
		})
	}

	db := ctx.DBManager.GetConnection()
	if err := settings.SaveGeoLiteCredentials(db, accountID, licenseKey); err != nil {
		ctx.Logger.Error("Failed to save GeoLite credentials", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save credentials",
		})
	}

	go jobs.TriggerImmediateDownload(db, ctx.Logger, config.GetConfig())

	return ctx.JSON(fiber.Map{"status": "saved"})
}
