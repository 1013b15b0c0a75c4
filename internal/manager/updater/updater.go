// Package updater checks whether the configured app image has a newer digest
// in its registry and, when it does, rolls the deployment forward.
package updater

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/go-containerregistry/pkg/crane"

	"redirectly/internal/manager/config"
	"redirectly/internal/manager/docker"
	"redirectly/internal/manager/logging"
)

type Updater struct {
	logger *logging.Logger
	config *config.Config
	docker *docker.Docker
}

func NewUpdater(logger *logging.Logger) *Updater {
	fileLogger := logging.NewFileLogger(logging.Config{
		Level:   "info",
		Verbose: logger.GetVerbose(),
		Quiet:   logger.GetQuiet(),
		LogDir:  "/opt/redirectly/logs",
		LogFile: "redirectly-updater.log",
	})

	return &Updater{
		logger: fileLogger,
		config: config.NewConfig(fileLogger),
		docker: docker.NewDocker(fileLogger),
	}
}

// Run updates the deployment when the registry holds a newer image.
func (u *Updater) Run() error {
	envFile := filepath.Join("/opt/redirectly", ".env")

	u.logger.Info("Loading configuration")
	if err := u.config.LoadFromFile(envFile); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := u.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	data := u.config.GetData()

	newer, remoteDigest, err := u.hasNewerImage(data.AppImage)
	if err != nil {
		return fmt.Errorf("check registry: %w", err)
	}
	if !newer {
		u.logger.Info("Already running the latest image")
		return nil
	}

	u.logger.Infof("Newer image available (digest %s), updating", shortDigest(remoteDigest))
	if err := u.docker.Update(u.config); err != nil {
		return fmt.Errorf("update deployment: %w", err)
	}

	if ok, err := u.docker.VerifyContainersRunning(); !ok {
		return fmt.Errorf("containers not healthy after update: %w", err)
	}

	u.logger.Info("Update completed")
	return nil
}

// hasNewerImage compares the registry digest of the configured tag with the
// digest of the locally pulled image.
func (u *Updater) hasNewerImage(image string) (bool, string, error) {
	remoteDigest, err := crane.Digest(image)
	if err != nil {
		return false, "", fmt.Errorf("resolve remote digest for %s: %w", image, err)
	}

	localDigest, err := u.localDigest(image)
	if err != nil {
		// No local image yet counts as update-available.
		u.logger.Debugf("No local digest for %s: %v", image, err)
		return true, remoteDigest, nil
	}

	return localDigest != remoteDigest, remoteDigest, nil
}

func (u *Updater) localDigest(image string) (string, error) {
	out, err := u.docker.RunCommand("inspect", "--format", "{{index .RepoDigests 0}}", image)
	if err != nil {
		return "", err
	}
	_, digest, ok := strings.Cut(strings.TrimSpace(out), "@")
	if !ok {
		return "", fmt.Errorf("unexpected inspect output %q", out)
	}
	return digest, nil
}

func shortDigest(digest string) string {
	if len(digest) > 19 {
		return digest[:19]
	}
	return digest
}
