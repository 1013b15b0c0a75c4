// Package logging provides the manager's logger. The manager runs outside
// the server process, so it logs with logrus to console and optionally to a
// file under the install directory.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	Level   string
	Verbose bool
	Quiet   bool
	LogDir  string
	LogFile string
}

// Logger wraps logrus with the quiet/verbose console conventions the
// manager CLI uses.
type Logger struct {
	*logrus.Logger
	verbose bool
	quiet   bool
}

// NewLogger creates a console-only logger.
func NewLogger(cfg Config) *Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: true,
	})
	log.SetLevel(parseLevel(cfg))

	return &Logger{Logger: log, verbose: cfg.Verbose, quiet: cfg.Quiet}
}

// NewFileLogger creates a logger that writes to both console and a log file.
// Falls back to console-only when the file cannot be opened.
func NewFileLogger(cfg Config) *Logger {
	logger := NewLogger(cfg)
	if cfg.LogDir == "" || cfg.LogFile == "" {
		return logger
	}

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		logger.Warnf("Cannot create log directory %s: %v", cfg.LogDir, err)
		return logger
	}

	path := filepath.Join(cfg.LogDir, cfg.LogFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		logger.Warnf("Cannot open log file %s: %v", path, err)
		return logger
	}

	logger.SetOutput(io.MultiWriter(os.Stdout, file))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logger
}

// GetVerbose reports whether verbose console output is enabled.
func (l *Logger) GetVerbose() bool { return l.verbose }

// GetQuiet reports whether console output is suppressed.
func (l *Logger) GetQuiet() bool { return l.quiet }

// Step prints a user-facing progress line, bypassing log levels unless quiet.
func (l *Logger) Step(format string, args ...interface{}) {
	if l.quiet {
		return
	}
	fmt.Printf(format+"\n", args...)
}

func parseLevel(cfg Config) logrus.Level {
	if cfg.Quiet {
		return logrus.ErrorLevel
	}
	if cfg.Verbose {
		return logrus.DebugLevel
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
