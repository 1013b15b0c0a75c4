package jobs

import (
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"redirectly/internal/database"
)

// RuleReconcilerJob eagerly syncs the stored rule status column with the
// time-window derivation: SCHEDULED rules whose window opened become ACTIVE,
// ACTIVE rules whose window closed become EXPIRED. The decision path derives
// status on its own; this keeps dashboards and list views honest between
// requests.
type RuleReconcilerJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
}

func NewRuleReconcilerJob(dbManager *database.DBManager, logger *slog.Logger) *RuleReconcilerJob {
	return &RuleReconcilerJob{
		dbManager: dbManager,
		logger:    logger,
	}
}

// Run rewrites every stale status column in one statement.
func (j *RuleReconcilerJob) Run() error {
	db := j.dbManager.GetConnection()
	now := time.Now().UTC()

	query := `
    UPDATE redirect_rules
    SET status = CASE
        WHEN ends_at IS NOT NULL AND ends_at <= ? THEN 'expired'
        WHEN enabled = 0 THEN 'inactive'
        WHEN starts_at IS NOT NULL AND starts_at > ? THEN 'scheduled'
        ELSE 'active'
    END
    WHERE status != CASE
        WHEN ends_at IS NOT NULL AND ends_at <= ? THEN 'expired'
        WHEN enabled = 0 THEN 'inactive'
        WHEN starts_at IS NOT NULL AND starts_at > ? THEN 'scheduled'
        ELSE 'active'
    END
    `

	var reconciled int64
	err := sqlite.PerformWrite(j.logger, db, func(tx *gorm.DB) error {
		result := tx.Exec(query, now, now, now, now)
		reconciled = result.RowsAffected
		return result.Error
	})
	if err != nil {
		j.logger.Error("Failed to reconcile rule statuses", slog.Any("error", err))
		return err
	}

	if reconciled > 0 {
		j.logger.Info("Reconciled rule lifecycle statuses", slog.Int64("rules", reconciled))
	}
	return nil
}
