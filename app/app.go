// Package app provides the public API for embedding redirectly in a larger
// binary. It re-exports the core types and constructors without exposing
// internal packages.
package app

import (
	"redirectly/internal"
	"redirectly/internal/config"
	"redirectly/internal/database"
	"redirectly/internal/settings"

	"github.com/karloscodes/cartridge"
)

// Re-export core types
type (
	Application = internal.Application
	Config      = config.Config
	DBManager   = database.DBManager
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	return config.GetConfig()
}

// NewApp creates a new application with default routes
func NewApp() (*Application, error) {
	return internal.NewApp()
}

// NewAppWithRoutes creates a new application with custom route mounting
func NewAppWithRoutes(cfg *Config, routeMount func(*cartridge.Server)) (*Application, error) {
	return internal.NewAppWithRoutes(cfg, routeMount)
}

// MountAppRoutes mounts the standard routes (for embedders to call after
// mounting their own)
func MountAppRoutes(srv *cartridge.Server) {
	internal.MountAppRoutes(srv)
}

// Settings functions
var (
	SaveGeoLiteCredentials = settings.SaveGeoLiteCredentials
)
