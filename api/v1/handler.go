// Package v1 is the public SDK-facing API: session creation, signal
// ingestion, confirmation answers and the purchase hook.
package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/engine"
	"redirectly/internal/merchants"
	"redirectly/internal/sessions"
	"redirectly/internal/settings"
	"redirectly/internal/triggers"
)

const (
	errInvalidRequest = "Invalid request"
	errInvalidOrigin  = "Invalid origin"
)

var decisionEngine *engine.Engine

// Setup injects the decision engine the handlers drive.
func Setup(e *engine.Engine) {
	decisionEngine = e
}

// SignalPayload is one raw browser signal as sent by the SDK.
type SignalPayload struct {
	Kind             string    `json:"kind"`
	At               time.Time `json:"at"`
	ScrollDepthPct   float64   `json:"scrollDepthPct"`
	PointerY         float64   `json:"pointerY"`
	PointerVelocityY float64   `json:"pointerVelocityY"`
	Hidden           bool      `json:"hidden"`
	CartItems        int       `json:"cartItems"`
}

// SignalsParams is the body of signal and beacon requests.
type SignalsParams struct {
	SessionID string          `json:"sessionId"`
	Signals   []SignalPayload `json:"signals"`
}

// ConfirmationParams is the body of confirmation answers.
type ConfirmationParams struct {
	SessionID string `json:"sessionId"`
	Accepted  bool   `json:"accepted"`
}

// PurchaseParams is the body of the checkout purchase hook.
type PurchaseParams struct {
	SessionID  string  `json:"sessionId"`
	OrderValue float64 `json:"orderValue"`
}

// CreateSessionHandler starts a session for the calling page. The merchant is
// resolved from the browser-set Origin header; bots and excluded IPs get no
// session.
func CreateSessionHandler(ctx *cartridge.Context) error {
	merchant, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger)
	if err != nil {
		return handleError(ctx.Ctx, err)
	}

	ip := clientIP(ctx.Ctx)
	if excluded, _ := settings.IsIPExcluded(ip); excluded {
		ctx.Logger.Debug("Session refused for excluded IP")
		return ctx.SendStatus(http.StatusNoContent)
	}

	userAgent := ctx.Get("User-Agent")
	if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
		userAgent = forwardedUA
	}

	start, err := decisionEngine.StartSession(ctx.Ctx.Context(), merchant, ip, userAgent, time.Now().UTC())
	if err != nil {
		if errors.Is(err, engine.ErrBotSession) {
			return ctx.SendStatus(http.StatusNoContent)
		}
		ctx.Logger.Error("Failed to start session", slog.Any("error", err))
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to start session",
			"code":  "SESSION_START_ERROR",
		})
	}

	return ctx.Status(http.StatusCreated).JSON(start)
}

// CreateSignalsHandler ingests a signal batch and returns the decision it
// produced, if any.
func CreateSignalsHandler(ctx *cartridge.Context) error {
	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		return handleError(ctx.Ctx, err)
	}

	var params SignalsParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}

	decision, err := decisionEngine.ObserveSignals(params.SessionID, toSignals(params.Signals), time.Now().UTC())
	if err != nil {
		return sessionError(ctx, err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"decision": decision})
}

// CreateSignalsBeaconHandler handles the final navigator.sendBeacon batch on
// page hide or unload. It ends the session after folding the signals in.
// Beacons always answer 202: the page is already going away.
func CreateSignalsBeaconHandler(ctx *cartridge.Context) error {
	var params SignalsParams
	if err := json.Unmarshal(ctx.Body(), &params); err != nil {
		ctx.Logger.Debug("Failed to parse beacon request", slog.Any("error", err))
		return ctx.SendStatus(http.StatusAccepted)
	}

	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		ctx.Logger.Debug("Invalid origin in beacon request")
		return ctx.SendStatus(http.StatusAccepted)
	}

	if _, err := decisionEngine.EndSession(params.SessionID, toSignals(params.Signals), time.Now().UTC()); err != nil {
		ctx.Logger.Debug("Beacon for unknown session", slog.String("session", params.SessionID))
	}

	return ctx.SendStatus(http.StatusAccepted)
}

// CreateConfirmationHandler settles a pending confirmation with the
// visitor's answer.
func CreateConfirmationHandler(ctx *cartridge.Context) error {
	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		return handleError(ctx.Ctx, err)
	}

	var params ConfirmationParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}

	decision, err := decisionEngine.ResolveConfirmation(params.SessionID, params.Accepted, time.Now().UTC())
	if err != nil {
		return sessionError(ctx, err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"decision": decision})
}

// CreatePurchaseHandler is the synchronous hook the checkout calls on a
// completed purchase.
func CreatePurchaseHandler(ctx *cartridge.Context) error {
	if _, err := validateOrigin(ctx.Ctx, ctx.DBManager, ctx.Logger); err != nil {
		return handleError(ctx.Ctx, err)
	}

	var params PurchaseParams
	if err := ctx.BodyParser(&params); err != nil {
		return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
	}

	decision, err := decisionEngine.TrackPurchase(params.SessionID, params.OrderValue, time.Now().UTC())
	if err != nil {
		return sessionError(ctx, err)
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{"decision": decision})
}

func toSignals(payloads []SignalPayload) []triggers.Signal {
	signals := make([]triggers.Signal, 0, len(payloads))
	for _, p := range payloads {
		signals = append(signals, triggers.Signal{
			Kind:             triggers.SignalKind(p.Kind),
			At:               p.At,
			ScrollDepthPct:   p.ScrollDepthPct,
			PointerY:         p.PointerY,
			PointerVelocityY: p.PointerVelocityY,
			Hidden:           p.Hidden,
			CartItems:        p.CartItems,
		})
	}
	return signals
}

// validateOrigin resolves the calling merchant from the Origin header (set
// automatically by browsers and not spoofable from JavaScript), falling back
// to Referer for same-origin requests.
func validateOrigin(c *fiber.Ctx, dbManager cartridge.DBManager, logger *slog.Logger) (*merchants.Merchant, error) {
	origin := c.Get("Origin")
	if origin == "" {
		origin = c.Get("Referer")
	}
	if origin == "" {
		logger.Debug("No Origin or Referer header present")
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	parsedURL, err := url.Parse(origin)
	if err != nil {
		logger.Debug("Failed to parse origin URL", slog.String("origin", origin), slog.Any("error", err))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	// sub.example.com -> example.com
	hostname := parsedURL.Hostname()
	baseDomain := merchants.BaseDomainForHost(hostname)

	db := dbManager.GetConnection()
	merchant, err := merchants.GetMerchantByDomain(db, baseDomain)
	if err != nil {
		logger.Debug("Origin domain not registered",
			slog.String("origin", origin),
			slog.String("baseDomain", baseDomain))
		return nil, fiber.NewError(http.StatusForbidden, errInvalidOrigin)
	}

	return merchant, nil
}

func sessionError(ctx *cartridge.Context, err error) error {
	if errors.Is(err, sessions.ErrSessionNotFound) {
		return ctx.Status(http.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found or expired",
			"code":  "SESSION_NOT_FOUND",
		})
	}
	ctx.Logger.Error("Failed to process request", slog.Any("error", err))
	return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}

func handleError(c *fiber.Ctx, err error) error {
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
