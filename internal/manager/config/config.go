// Package config holds the deployment configuration for a self-hosted
// redirectly instance: domain, Docker images, install directory and the
// operator private key. It persists to a .env file in the install directory.
package config

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"redirectly/internal/manager/logging"
)

// ConfigData holds the deployment configuration
type ConfigData struct {
	Domain     string // Public domain the decision service is served from
	AppImage   string // Docker image for the redirectly app
	CaddyImage string // Docker image for the Caddy reverse proxy
	InstallDir string // Installation directory
	BackupPath string // SQLite backup location
	PrivateKey string // Operator key, becomes REDIRECTLY_PRIVATEKEY
	Version    string // Version of the manager binary
}

// Config manages deployment configuration
type Config struct {
	logger *logging.Logger
	data   ConfigData
}

// NewConfig creates a Config with defaults
func NewConfig(logger *logging.Logger) *Config {
	return &Config{
		logger: logger,
		data: ConfigData{
			AppImage:   "redirectly/redirectly:latest",
			CaddyImage: "caddy:2.9-alpine",
			InstallDir: "/opt/redirectly",
			BackupPath: "/opt/redirectly/storage/backups",
			Version:    "latest",
		},
	}
}

// CollectFromUser prompts for the values an install needs. Environment
// variables take precedence over prompts so installs can be scripted.
func (c *Config) CollectFromUser(reader *bufio.Reader) error {
	if domain := os.Getenv("REDIRECTLY_DOMAIN"); domain != "" {
		c.data.Domain = strings.TrimSpace(domain)
	} else {
		fmt.Print("Enter the domain for this instance (e.g. redirects.example.com): ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read domain: %w", err)
		}
		c.data.Domain = strings.TrimSpace(input)
	}

	if c.data.Domain == "" {
		return fmt.Errorf("domain is required")
	}

	if key := os.Getenv("REDIRECTLY_PRIVATEKEY"); key != "" {
		c.data.PrivateKey = strings.TrimSpace(key)
	} else {
		key, err := c.readSecret(reader, "Enter operator private key (leave empty to generate): ")
		if err != nil {
			return err
		}
		if key == "" {
			key, err = generatePrivateKey()
			if err != nil {
				return err
			}
			c.logger.Step("Generated operator key: %s (store it now, it protects the operator API)", key)
		}
		c.data.PrivateKey = key
	}

	if image := os.Getenv("REDIRECTLY_IMAGE"); image != "" {
		c.data.AppImage = strings.TrimSpace(image)
	}

	return nil
}

// LoadFromFile reads the .env file of an existing installation.
func (c *Config) LoadFromFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read %s: %w", filename, err)
	}

	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch strings.TrimSpace(key) {
		case "REDIRECTLY_DOMAIN":
			c.data.Domain = value
		case "REDIRECTLY_IMAGE":
			c.data.AppImage = value
		case "REDIRECTLY_CADDY_IMAGE":
			c.data.CaddyImage = value
		case "REDIRECTLY_PRIVATEKEY":
			c.data.PrivateKey = value
		case "REDIRECTLY_BACKUP_PATH":
			c.data.BackupPath = value
		}
	}

	c.data.InstallDir = filepath.Dir(filename)
	return nil
}

// SaveToFile writes the configuration to a .env file readable only by root.
func (c *Config) SaveToFile(filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("create install dir: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "REDIRECTLY_DOMAIN=%s\n", c.data.Domain)
	fmt.Fprintf(&b, "REDIRECTLY_IMAGE=%s\n", c.data.AppImage)
	fmt.Fprintf(&b, "REDIRECTLY_CADDY_IMAGE=%s\n", c.data.CaddyImage)
	fmt.Fprintf(&b, "REDIRECTLY_PRIVATEKEY=%s\n", c.data.PrivateKey)
	fmt.Fprintf(&b, "REDIRECTLY_BACKUP_PATH=%s\n", c.data.BackupPath)

	if err := os.WriteFile(filename, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// Validate checks required fields before a deploy.
func (c *Config) Validate() error {
	if c.data.Domain == "" {
		return fmt.Errorf("domain is not configured")
	}
	if c.data.AppImage == "" {
		return fmt.Errorf("app image is not configured")
	}
	if c.data.PrivateKey == "" {
		return fmt.Errorf("operator private key is not configured")
	}
	return nil
}

// GetData returns a copy of the configuration data
func (c *Config) GetData() ConfigData {
	return c.data
}

// SetData replaces the configuration data
func (c *Config) SetData(data ConfigData) {
	c.data = data
}

// SetImage overrides the app image (used for pinned-version updates).
func (c *Config) SetImage(image string) {
	c.data.AppImage = image
}

// EnvFile returns the path of the installation's .env file.
func (c *Config) EnvFile() string {
	return filepath.Join(c.data.InstallDir, ".env")
}

func generatePrivateKey() (string, error) {
	key := make([]byte, 16)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("failed to generate private key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// readSecret reads without echo on a terminal; tests pipe stdin instead.
func (c *Config) readSecret(reader *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)

	if !term.IsTerminal(int(syscall.Stdin)) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
