package jobs

import (
	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"redirectly/internal/database"
)

// CounterRollupJob recomputes the per-rule redirect and conversion counters
// from the event logs. The counters on the rule rows are display-only
// derivatives; recomputing from the logs means a dropped or replayed event
// write can never leave them permanently skewed.
type CounterRollupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewCounterRollupJob(dbManager *database.DBManager, logger *slog.Logger) *CounterRollupJob {
	return &CounterRollupJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

// Run replaces every rule's counters with the authoritative event counts.
func (j *CounterRollupJob) Run() error {
	db := j.dbManager.GetConnection()

	query := `
    UPDATE redirect_rules
    SET current_redirects = (
        SELECT COUNT(*) FROM redirect_events
        WHERE redirect_events.rule_id = redirect_rules.id
    ),
    conversions = (
        SELECT COUNT(*) FROM conversion_events
        WHERE conversion_events.rule_id = redirect_rules.id
    )
    `

	err := sqlite.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		return tx.Exec(query).Error
	})
	if err != nil {
		j.logger.Error("Failed to roll up rule counters", slog.Any("error", err))
		return err
	}

	j.logger.Debug("Rule counters rolled up from event logs")
	return nil
}
