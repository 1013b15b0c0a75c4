// Package docker drives the Docker CLI to deploy the redirectly app and its
// Caddy reverse proxy as containers on a shared network. Updates are
// blue/green: the new container must pass its health check before the proxy
// switches over and the old one is removed.
package docker

import (
	"bytes"
	_ "embed"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"redirectly/internal/manager/config"
	"redirectly/internal/manager/logging"
)

const (
	NetworkName    = "redirectly-network"
	CaddyContainer = "redirectly-caddy"
	AppBlue        = "redirectly-app-blue"
	AppGreen       = "redirectly-app-green"

	healthCheckTimeout = 2 * time.Minute
)

//go:embed templates/Caddyfile.tmpl
var caddyfileTemplate string

type Docker struct {
	logger *logging.Logger
}

func NewDocker(logger *logging.Logger) *Docker {
	return &Docker{logger: logger}
}

// RunCommand executes a docker command and returns the combined output.
func (d *Docker) RunCommand(args ...string) (string, error) {
	d.logger.Debugf("docker %s", strings.Join(args, " "))
	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("docker %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return string(out), nil
}

// EnsureInstalled verifies the docker CLI is available.
func (d *Docker) EnsureInstalled() error {
	if _, err := exec.LookPath("docker"); err != nil {
		return fmt.Errorf("docker is not installed or not on PATH")
	}
	if _, err := d.RunCommand("info", "--format", "{{.ServerVersion}}"); err != nil {
		return fmt.Errorf("docker daemon is not reachable: %w", err)
	}
	return nil
}

// Deploy performs an initial deployment: network, app container, then Caddy.
func (d *Docker) Deploy(conf *config.Config) error {
	data := conf.GetData()

	if err := d.ensureNetwork(); err != nil {
		return err
	}

	d.logger.Step("Pulling %s", data.AppImage)
	if _, err := d.RunCommand("pull", data.AppImage); err != nil {
		return err
	}

	if err := d.DeployApp(data, AppBlue); err != nil {
		return err
	}
	if err := d.waitForAppHealth(AppBlue); err != nil {
		return err
	}

	return d.deployCaddy(data, AppBlue)
}

// Update rolls the app to the configured image with a blue/green swap.
func (d *Docker) Update(conf *config.Config) error {
	data := conf.GetData()

	d.logger.Step("Pulling %s", data.AppImage)
	if _, err := d.RunCommand("pull", data.AppImage); err != nil {
		return err
	}

	active := d.activeContainer()
	next := AppBlue
	if active == AppBlue {
		next = AppGreen
	}
	d.logger.Step("Starting %s", next)

	if err := d.DeployApp(data, next); err != nil {
		return err
	}
	if err := d.waitForAppHealth(next); err != nil {
		d.StopAndRemove(next)
		return fmt.Errorf("new container failed health check, keeping %s: %w", active, err)
	}

	if err := d.reloadCaddy(data, next); err != nil {
		return err
	}

	if active != "" && active != next {
		d.logger.Step("Removing %s", active)
		if err := d.StopAndRemove(active); err != nil {
			d.logger.Warnf("Failed to remove old container %s: %v", active, err)
		}
	}
	return nil
}

// DeployApp starts an app container with the install's env file mounted in.
func (d *Docker) DeployApp(data config.ConfigData, name string) error {
	d.StopAndRemove(name)

	storage := filepath.Join(data.InstallDir, "storage")
	if err := os.MkdirAll(storage, 0o755); err != nil {
		return fmt.Errorf("create storage dir: %w", err)
	}

	_, err := d.RunCommand("run", "-d",
		"--name", name,
		"--network", NetworkName,
		"--restart", "unless-stopped",
		"--env-file", filepath.Join(data.InstallDir, ".env"),
		"-e", "REDIRECTLY_ENV=production",
		"-v", storage+":/app/storage",
		data.AppImage,
	)
	return err
}

// StopAndRemove stops and removes a container, ignoring not-found errors.
func (d *Docker) StopAndRemove(name string) error {
	if !d.containerExists(name) {
		return nil
	}
	if _, err := d.RunCommand("stop", name); err != nil {
		return err
	}
	_, err := d.RunCommand("rm", name)
	return err
}

// VerifyContainersRunning reports whether the app and proxy are both up.
func (d *Docker) VerifyContainersRunning() (bool, error) {
	if d.activeContainer() == "" {
		return false, fmt.Errorf("no app container is running")
	}
	if !d.isRunning(CaddyContainer) {
		return false, fmt.Errorf("caddy container is not running")
	}
	return true, nil
}

func (d *Docker) ensureNetwork() error {
	out, _ := d.RunCommand("network", "ls", "--format", "{{.Name}}")
	for _, name := range strings.Fields(out) {
		if name == NetworkName {
			return nil
		}
	}
	_, err := d.RunCommand("network", "create", NetworkName)
	return err
}

func (d *Docker) deployCaddy(data config.ConfigData, appContainer string) error {
	caddyfile, err := d.generateCaddyfile(data, appContainer)
	if err != nil {
		return err
	}

	caddyDir := filepath.Join(data.InstallDir, "caddy")
	if err := os.MkdirAll(caddyDir, 0o755); err != nil {
		return fmt.Errorf("create caddy dir: %w", err)
	}
	caddyfilePath := filepath.Join(caddyDir, "Caddyfile")
	if err := os.WriteFile(caddyfilePath, []byte(caddyfile), 0o644); err != nil {
		return fmt.Errorf("write Caddyfile: %w", err)
	}

	d.StopAndRemove(CaddyContainer)
	_, err = d.RunCommand("run", "-d",
		"--name", CaddyContainer,
		"--network", NetworkName,
		"--restart", "unless-stopped",
		"-p", "80:80", "-p", "443:443",
		"-v", caddyfilePath+":/etc/caddy/Caddyfile",
		"-v", filepath.Join(caddyDir, "data")+":/data",
		data.CaddyImage,
	)
	return err
}

// reloadCaddy rewrites the Caddyfile for the new active container and
// reloads the proxy in place, so TLS state survives.
func (d *Docker) reloadCaddy(data config.ConfigData, appContainer string) error {
	if !d.isRunning(CaddyContainer) {
		return d.deployCaddy(data, appContainer)
	}

	caddyfile, err := d.generateCaddyfile(data, appContainer)
	if err != nil {
		return err
	}
	caddyfilePath := filepath.Join(data.InstallDir, "caddy", "Caddyfile")
	if err := os.WriteFile(caddyfilePath, []byte(caddyfile), 0o644); err != nil {
		return fmt.Errorf("write Caddyfile: %w", err)
	}

	_, err = d.RunCommand("exec", CaddyContainer, "caddy", "reload", "--config", "/etc/caddy/Caddyfile")
	return err
}

func (d *Docker) generateCaddyfile(data config.ConfigData, containerName string) (string, error) {
	tlsConfig := "internal"
	if os.Getenv("ENV") != "test" && !strings.HasPrefix(data.Domain, "localhost") {
		tlsConfig = "admin@" + data.Domain
	}

	tplData := struct {
		Domain          string
		TLSConfig       string
		ActiveContainer string
	}{
		Domain:          data.Domain,
		TLSConfig:       tlsConfig,
		ActiveContainer: containerName,
	}

	tmpl, err := template.New("caddyfile").Parse(caddyfileTemplate)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, tplData); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}

// activeContainer returns the running app container's name, or "".
func (d *Docker) activeContainer() string {
	for _, name := range []string{AppBlue, AppGreen} {
		if d.isRunning(name) {
			return name
		}
	}
	return ""
}

func (d *Docker) waitForAppHealth(name string) error {
	d.logger.Step("Waiting for %s to become healthy", name)
	deadline := time.Now().Add(healthCheckTimeout)

	for time.Now().Before(deadline) {
		out, err := d.RunCommand("inspect", "--format", "{{.State.Running}}", name)
		if err == nil && strings.TrimSpace(out) == "true" {
			// Probe through the container's published port via exec; the
			// manager host is not on the docker network.
			if _, err := d.RunCommand("exec", name, "wget", "-q", "-O", "-", "http://localhost:8080/_health"); err == nil {
				d.logger.Step("%s is healthy", name)
				return nil
			}
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("%s did not become healthy within %s", name, healthCheckTimeout)
}

func (d *Docker) isRunning(name string) bool {
	out, err := d.RunCommand("inspect", "--format", "{{.State.Running}}", name)
	return err == nil && strings.TrimSpace(out) == "true"
}

func (d *Docker) containerExists(name string) bool {
	out, _ := d.RunCommand("ps", "-a", "--format", "{{.Names}}")
	for _, existing := range strings.Fields(out) {
		if existing == name {
			return true
		}
	}
	return false
}

// WaitForEndpoint polls the public health endpoint after a deploy.
func (d *Docker) WaitForEndpoint(domain string) error {
	url := "https://" + domain + "/_health"
	deadline := time.Now().Add(healthCheckTimeout)

	client := &http.Client{Timeout: 5 * time.Second}
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(3 * time.Second)
	}
	return fmt.Errorf("%s not reachable within %s", url, healthCheckTimeout)
}
