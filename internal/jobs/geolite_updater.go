package jobs

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"redirectly/internal/config"
	"redirectly/internal/database"
	"redirectly/internal/pkg/geoip"
	"redirectly/internal/settings"
)

const (
	// GeoLite database is updated weekly by MaxMind
	GeoLiteUpdateInterval = 7 * 24 * time.Hour
	// MaxMind download URL template
	MaxMindDownloadURL = "https://download.maxmind.com/app/geoip_download?edition_id=GeoLite2-City&license_key=%s&suffix=tar.gz"
	// Settings key storing the timestamp of the last successful update
	KeyGeoLiteLastUpdate = "geolite_last_update"
)

// GeoLiteUpdaterJob keeps the country database fresh so redirect event
// enrichment stays accurate.
type GeoLiteUpdaterJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewGeoLiteUpdaterJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *GeoLiteUpdaterJob {
	return &GeoLiteUpdaterJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run downloads a new database when credentials are configured and the local
// copy is older than the update interval. Missing credentials are not an
// error; country enrichment is optional.
func (j *GeoLiteUpdaterJob) Run() error {
	db := j.dbManager.GetConnection()

	accountID, licenseKey, err := settings.GetGeoLiteCredentials(db)
	if err != nil || accountID == "" || licenseKey == "" {
		j.logger.Debug("GeoLite credentials not configured, skipping update")
		return nil
	}

	lastUpdate := j.lastUpdateTime(db)
	if time.Since(lastUpdate) < GeoLiteUpdateInterval {
		j.logger.Debug("GeoLite database is up to date",
			slog.Time("last_update", lastUpdate))
		return nil
	}

	j.logger.Info("Starting GeoLite database update", slog.Time("last_update", lastUpdate))

	if err := downloadGeoDB(j.cfg.GeoDBPath, licenseKey); err != nil {
		j.logger.Error("Failed to update GeoLite database", slog.Any("error", err))
		return err
	}

	// Reload the in-memory reader so enrichment picks the new data up immediately
	geoip.ReloadGeoDB()

	if err := settings.CreateOrUpdateSetting(db, KeyGeoLiteLastUpdate, time.Now().Format(time.RFC3339)); err != nil {
		j.logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
	}

	j.logger.Info("GeoLite database updated successfully")
	return nil
}

func (j *GeoLiteUpdaterJob) lastUpdateTime(db *gorm.DB) time.Time {
	lastUpdateStr, err := settings.GetSetting(db, KeyGeoLiteLastUpdate)
	if err != nil || lastUpdateStr == "" {
		return time.Time{}
	}
	lastUpdate, err := time.Parse(time.RFC3339, lastUpdateStr)
	if err != nil {
		return time.Time{}
	}
	return lastUpdate
}

// downloadGeoDB fetches the tarball from MaxMind and extracts the .mmdb file
// into place.
func downloadGeoDB(geoDBPath, licenseKey string) error {
	if geoDBPath == "" {
		geoDBPath = filepath.Join("storage", "GeoLite2-City.mmdb")
	}

	if err := os.MkdirAll(filepath.Dir(geoDBPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	resp, err := http.Get(fmt.Sprintf(MaxMindDownloadURL, licenseKey))
	if err != nil {
		return fmt.Errorf("failed to download GeoLite database: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	tempFile, err := os.CreateTemp("", "geolite-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tempFile.Name())
	defer tempFile.Close()

	if _, err := io.Copy(tempFile, resp.Body); err != nil {
		return fmt.Errorf("failed to save download: %w", err)
	}
	if _, err := tempFile.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	return extractMMDB(tempFile, geoDBPath)
}

func extractMMDB(tarGzFile *os.File, destPath string) error {
	gzr, err := gzip.NewReader(tarGzFile)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}

		if strings.HasSuffix(header.Name, ".mmdb") {
			outFile, err := os.Create(destPath)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			defer outFile.Close()

			if _, err := io.Copy(outFile, tr); err != nil {
				return fmt.Errorf("failed to extract file: %w", err)
			}
			return nil
		}
	}

	return fmt.Errorf("no .mmdb file found in archive")
}

// TriggerImmediateDownload starts a download in the background. Used right
// after a merchant saves new credentials so they do not wait for the
// scheduled run.
func TriggerImmediateDownload(db *gorm.DB, logger *slog.Logger, cfg *config.Config) {
	go func() {
		accountID, licenseKey, err := settings.GetGeoLiteCredentials(db)
		if err != nil || accountID == "" || licenseKey == "" {
			logger.Debug("GeoLite credentials not configured, skipping immediate download")
			return
		}

		logger.Info("Starting immediate GeoLite database download")
		if err := downloadGeoDB(cfg.GeoDBPath, licenseKey); err != nil {
			logger.Error("Failed immediate GeoLite download", slog.Any("error", err))
			return
		}

		geoip.ReloadGeoDB()

		if err := settings.CreateOrUpdateSetting(db, KeyGeoLiteLastUpdate, time.Now().Format(time.RFC3339)); err != nil {
			logger.Error("Failed to record GeoLite update time", slog.Any("error", err))
		}

		logger.Info("Immediate GeoLite database download completed")
	}()
}
