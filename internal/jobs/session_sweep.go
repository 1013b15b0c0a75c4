package jobs

import (
	"time"

	"log/slog"

	"redirectly/internal/sessions"
)

// SessionSweepJob evicts session contexts that have been silent past the TTL.
// Sweeping from a job instead of per-request keeps the decision path free of
// registry scans.
type SessionSweepJob struct {
	registry *sessions.Registry
	logger   *slog.Logger
}

func NewSessionSweepJob(registry *sessions.Registry, logger *slog.Logger) *SessionSweepJob {
	return &SessionSweepJob{
		registry: registry,
		logger:   logger,
	}
}

func (j *SessionSweepJob) Run() error {
	evicted := j.registry.Sweep(time.Now().UTC())
	if evicted > 0 {
		j.logger.Debug("Swept expired sessions",
			slog.Int("evicted", evicted),
			slog.Int("remaining", j.registry.Len()))
	}
	return nil
}
