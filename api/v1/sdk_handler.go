package v1

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"text/template"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
)

//go:embed sdk.js
var sdkSource string

// The only template variable is the decision API's base URL, so parsing
// happens once at startup.
var sdkTemplate = template.Must(template.New("sdk").Parse(sdkSource))

// GetSDKAction serves the browser SDK, rendered against the instance's base
// URL and cached client-side through a content-hash ETag.
func GetSDKAction(ctx *cartridge.Context) error {
	var buf bytes.Buffer
	if err := sdkTemplate.Execute(&buf, map[string]string{"BaseURL": ctx.BaseURL()}); err != nil {
		ctx.Logger.Error("Failed to render SDK", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	script := buf.Bytes()
	sum := sha256.Sum256(script)
	etag := `"` + hex.EncodeToString(sum[:]) + `"`

	if ctx.Get("If-None-Match") == etag {
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set("Content-Type", "application/javascript")
	ctx.Set("Cache-Control", "public, max-age=3600")
	ctx.Set("ETag", etag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(script)
}
