package jobs

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"redirectly/internal/config"
	"redirectly/internal/database"
	"redirectly/internal/sessions"
)

// Scheduler is responsible for running background jobs
type Scheduler struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	enabled   bool
	isRunning bool
	cfg       *config.Config

	// Mutex to prevent concurrent database job executions
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	reconciler     *RuleReconcilerJob
	rollup         *CounterRollupJob
	sessionSweep   *SessionSweepJob
	cleanupJob     *CleanupJob
	geoLiteUpdater *GeoLiteUpdaterJob

	// Tickers for each job type
	reconcileTicker *time.Ticker
	rollupTicker    *time.Ticker
	sweepTicker     *time.Ticker
	cleanupTicker   *time.Ticker
	geoLiteTicker   *time.Ticker
}

func NewScheduler(dbManager *database.DBManager, registry *sessions.Registry, logger *slog.Logger) (*Scheduler, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.GetConfig()

	s := &Scheduler{
		dbManager: dbManager,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		enabled:   true,
		isRunning: false,
		cfg:       cfg,
	}

	// Initialize job instances
	s.reconciler = NewRuleReconcilerJob(dbManager, logger)
	s.rollup = NewCounterRollupJob(dbManager, logger)
	s.sessionSweep = NewSessionSweepJob(registry, logger)
	s.cleanupJob = NewCleanupJob(dbManager, logger, cfg)
	s.geoLiteUpdater = NewGeoLiteUpdaterJob(dbManager, logger, cfg)

	return s, nil
}

// executeJobSafely runs a database job only if no other database job is
// currently executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
}

// Start begins all background jobs
func (s *Scheduler) Start() error {
	if !s.enabled {
		s.logger.Info("Background jobs are disabled.")
		return nil
	}

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.logger.Info("Starting background jobs...")

	s.isRunning = true

	s.startReconcileJob()
	s.startRollupJob()
	s.startSessionSweepJob()
	s.startCleanupJob()
	s.startGeoLiteJob()

	s.logger.Info("Background jobs started",
		slog.Bool("enabled", s.enabled),
		slog.Bool("isRunning", s.isRunning))

	return nil
}

func (s *Scheduler) startReconcileJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting rule reconciliation job", slog.Duration("interval", interval))
	s.reconcileTicker = time.NewTicker(interval)

	go func() {
		// Run initial execution
		s.logger.Info("Running initial rule reconciliation...")
		s.executeJobSafely("rule_reconciler", s.reconciler.Run)

		for {
			select {
			case <-s.reconcileTicker.C:
				s.executeJobSafely("rule_reconciler", s.reconciler.Run)
			case <-s.ctx.Done():
				s.logger.Info("Rule reconciliation job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startRollupJob() {
	interval := time.Duration(s.cfg.JobIntervalSeconds) * time.Second
	s.logger.Info("Starting counter rollup job", slog.Duration("interval", interval))
	s.rollupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.rollupTicker.C:
				s.executeJobSafely("counter_rollup", s.rollup.Run)
			case <-s.ctx.Done():
				s.logger.Info("Counter rollup job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startSessionSweepJob() {
	interval := time.Minute
	s.logger.Info("Starting session sweep job", slog.Duration("interval", interval))
	s.sweepTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-s.sweepTicker.C:
				// The registry has its own locking; no database mutex needed
				if err := s.sessionSweep.Run(); err != nil {
					s.logger.Error("Error in session sweep job", slog.Any("error", err))
				}
			case <-s.ctx.Done():
				s.logger.Info("Session sweep job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startCleanupJob() {
	interval := 24 * time.Hour
	s.logger.Info("Starting cleanup job", slog.Duration("interval", interval))
	s.cleanupTicker = time.NewTicker(interval)

	go func() {
		// Run initial cleanup
		s.logger.Info("Running initial cleanup...")
		s.executeJobSafely("cleanup", s.cleanupJob.Run)

		for {
			select {
			case <-s.cleanupTicker.C:
				s.executeJobSafely("cleanup", s.cleanupJob.Run)
			case <-s.ctx.Done():
				s.logger.Info("Cleanup job stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) startGeoLiteJob() {
	interval := 12 * time.Hour
	s.logger.Info("Starting GeoLite updater job", slog.Duration("interval", interval))
	s.geoLiteTicker = time.NewTicker(interval)

	go func() {
		// Run initial check
		s.executeJobSafely("geolite_updater", s.geoLiteUpdater.Run)

		for {
			select {
			case <-s.geoLiteTicker.C:
				s.executeJobSafely("geolite_updater", s.geoLiteUpdater.Run)
			case <-s.ctx.Done():
				s.logger.Info("GeoLite updater job stopped")
				return
			}
		}
	}()
}

// Stop halts all background jobs.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.enabled = false

	for _, ticker := range []*time.Ticker{
		s.reconcileTicker,
		s.rollupTicker,
		s.sweepTicker,
		s.cleanupTicker,
		s.geoLiteTicker,
	} {
		if ticker != nil {
			ticker.Stop()
		}
	}

	s.cancel()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}

// Reconcile allows manual triggering of the lifecycle reconciliation
func (s *Scheduler) Reconcile() error {
	if !s.enabled {
		return nil
	}
	return s.reconciler.Run()
}
