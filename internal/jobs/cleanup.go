package jobs

import (
	"time"

	"log/slog"

	"redirectly/internal/config"
	"redirectly/internal/conversions"
	"redirectly/internal/database"
	"redirectly/internal/redirects"
)

// CleanupJob deletes redirect and conversion events older than the retention
// period. Keeps storage bounded and honors data minimization.
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes events past the retention window in both logs.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.EventsRetentionDays
	cutoffDate := time.Now().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old events",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	if err := j.deleteOldRows("redirect events", "fired_at", &redirects.RedirectEvent{}, cutoffDate); err != nil {
		return err
	}
	if err := j.deleteOldRows("conversion events", "converted_at", &conversions.ConversionEvent{}, cutoffDate); err != nil {
		return err
	}
	return nil
}

// deleteOldRows deletes in batches to avoid locking the database for too long.
func (j *CleanupJob) deleteOldRows(label string, column string, model interface{}, cutoff time.Time) error {
	db := j.dbManager.GetConnection()

	var countToDelete int64
	if err := db.Model(model).
		Where(column+" < ?", cutoff).
		Count(&countToDelete).Error; err != nil {
		j.logger.Error("Failed to count old rows", slog.String("log", label), slog.Any("error", err))
		return err
	}

	if countToDelete == 0 {
		j.logger.Debug("No old rows to clean up", slog.String("log", label))
		return nil
	}

	batchSize := 1000
	totalDeleted := int64(0)

	for {
		result := db.Where(column+" < ?", cutoff).
			Limit(batchSize).
			Delete(model)

		if result.Error != nil {
			j.logger.Error("Failed to delete old rows",
				slog.String("log", label),
				slog.Any("error", result.Error),
				slog.Int64("deleted_so_far", totalDeleted))
			return result.Error
		}

		totalDeleted += result.RowsAffected

		if result.RowsAffected < int64(batchSize) {
			break
		}

		// Small delay between batches to prevent database lock contention
		time.Sleep(100 * time.Millisecond)
	}

	j.logger.Info("Cleaned up old rows",
		slog.String("log", label),
		slog.Int64("deleted_count", totalDeleted))

	return nil
}
