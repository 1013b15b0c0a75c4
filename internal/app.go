// Package internal contains core application functionality
package internal

import (
	"fmt"
	"time"

	"github.com/karloscodes/cartridge"

	v1 "redirectly/api/v1"
	"redirectly/internal/config"
	"redirectly/internal/database"
	"redirectly/internal/engine"
	"redirectly/internal/jobs"
	"redirectly/internal/pkg/geoip"
	"redirectly/internal/sessions"
	"redirectly/internal/settings"
	"redirectly/internal/visitors"
)

// visitMarkerTTL bounds how long a visitor signature counts as "returning".
const visitMarkerTTL = 30 * 24 * time.Hour

// Application wraps cartridge.Application with redirectly-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Engine    *engine.Engine
	Registry  *sessions.Registry
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	cfg := config.GetConfig()
	return NewAppWithRoutes(cfg, MountAppRoutes)
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	return NewAppWithRoutes(cfg, MountAppRoutes)
}

// NewAppWithRoutes creates a new application with custom route mounting function
func NewAppWithRoutes(cfg *config.Config, routeMount func(*cartridge.Server)) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	registry := sessions.NewRegistry(cfg.SessionTTL(), logger)

	// Visit markers live in Redis when configured; without Redis every
	// visitor is treated as new.
	var markers visitors.MarkerStore = visitors.NullMarkerStore{}
	if cfg.RedisAddr != "" {
		markers = visitors.NewRedisMarkerStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, visitMarkerTTL)
	}

	decisionEngine := engine.New(cfg, logger, dbManager, registry, markers)
	v1.Setup(decisionEngine)

	scheduler, err := jobs.NewScheduler(dbManager, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize jobs: %w", err)
	}

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    routeMount,
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler, decisionEngine},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Engine:      decisionEngine,
		Registry:    registry,
	}, nil
}

// SetupDefaults seeds instance settings after migrations have run.
func (a *Application) SetupDefaults() error {
	return settings.SetupDefaultSettings(a.DBManager.GetConnection())
}
