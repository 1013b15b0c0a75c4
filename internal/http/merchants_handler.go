package http

import (
	"net/http"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/merchants"
)

// MerchantParams captures the operator-supplied merchant attributes.
type MerchantParams struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// MerchantsIndexAction lists all merchants on the instance.
func MerchantsIndexAction(ctx *cartridge.Context) error {
	db := ctx.DBManager.GetConnection()

	all, err := merchants.GetAllMerchants(db)
	if err != nil {
		ctx.Logger.Error("Failed to list merchants", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list merchants",
		})
	}

	return ctx.JSON(fiber.Map{"merchants": all})
}

// MerchantCreateAction registers a merchant and returns its API key. The key
// is only shown once; afterwards only the bcrypt digest is stored.
func MerchantCreateAction(ctx *cartridge.Context) error {
	var params MerchantParams
	if err := ctx.BodyParser(&params); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	db := ctx.DBManager.GetConnection()
	merchant := &merchants.Merchant{Name: params.Name, Domain: params.Domain}
	if err := merchants.CreateMerchant(db, ctx.Logger, merchant); err != nil {
		return ctx.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	apiKey, err := merchants.GenerateAPIKey(db, ctx.Logger, merchant.ID)
	if err != nil {
		ctx.Logger.Error("Failed to generate API key",
			slog.Uint64("merchant_id", uint64(merchant.ID)),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate API key",
		})
	}

	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"merchant": merchant,
		"api_key":  apiKey,
	})
}

// MerchantRotateKeyAction issues a fresh API key for an existing merchant,
// invalidating the previous one.
func MerchantRotateKeyAction(ctx *cartridge.Context) error {
	id, err := ctx.ParamsInt("id")
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid merchant ID",
		})
	}

	db := ctx.DBManager.GetConnection()
	merchant, err := merchants.GetMerchantByID(db, uint(id))
	if err != nil {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Merchant not found",
		})
	}

	apiKey, err := merchants.GenerateAPIKey(db, ctx.Logger, merchant.ID)
	if err != nil {
		ctx.Logger.Error("Failed to rotate API key",
			slog.Uint64("merchant_id", uint64(merchant.ID)),
			slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to rotate API key",
		})
	}

	return ctx.JSON(fiber.Map{
		"merchant": merchant,
		"api_key":  apiKey,
	})
}
