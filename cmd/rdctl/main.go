// main.go - Operator control tool for redirectly
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"redirectly/internal"
	"redirectly/internal/conversions"
	"redirectly/internal/merchants"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
	"redirectly/internal/seeder"

	"log/slog"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&CreateMerchantCommand{},
	&RotateKeyCommand{},
	&MigrateCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	app, err := internal.NewApp()
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: Cleanup error: %v", err)
		}
	}()

	if err := cmd.Execute(ctx, app, args); err != nil {
		log.Fatalf("Command failed: %v", err)
	}

	log.Printf("Command %s completed successfully", cmd.Name())
}

// CreateMerchantCommand registers a merchant and prints its API key
type CreateMerchantCommand struct{}

func (c *CreateMerchantCommand) Name() string { return "create-merchant" }

func (c *CreateMerchantCommand) Description() string {
	return "Creates a merchant and prints its API key"
}

func (c *CreateMerchantCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: %s <name> <domain>", c.Name())
	}

	db := app.DBManager.GetConnection()
	merchant := &merchants.Merchant{Name: args[0], Domain: args[1]}
	if err := merchants.CreateMerchant(db, slog.Default(), merchant); err != nil {
		return fmt.Errorf("failed to create merchant: %w", err)
	}

	apiKey, err := merchants.GenerateAPIKey(db, slog.Default(), merchant.ID)
	if err != nil {
		return fmt.Errorf("failed to generate API key: %w", err)
	}

	fmt.Printf("Merchant created: id=%d domain=%s\n", merchant.ID, merchant.Domain)
	fmt.Printf("API key (shown once, store it now): %s\n", apiKey)
	return nil
}

// RotateKeyCommand issues a fresh API key for an existing merchant
type RotateKeyCommand struct{}

func (c *RotateKeyCommand) Name() string { return "rotate-key" }

func (c *RotateKeyCommand) Description() string {
	return "Rotates the API key of an existing merchant"
}

func (c *RotateKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <merchant-id>", c.Name())
	}

	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid merchant id %q", args[0])
	}

	db := app.DBManager.GetConnection()
	merchant, err := merchants.GetMerchantByID(db, uint(id))
	if err != nil {
		return fmt.Errorf("merchant lookup failed: %w", err)
	}

	apiKey, err := merchants.GenerateAPIKey(db, slog.Default(), merchant.ID)
	if err != nil {
		return fmt.Errorf("failed to rotate API key: %w", err)
	}

	fmt.Printf("New API key for %s (shown once): %s\n", merchant.Domain, apiKey)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Description() string {
	return "Shows the current system status"
}

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db := app.DBManager.GetConnection()

	counts := []struct {
		label string
		model interface{}
	}{
		{"Merchants", &merchants.Merchant{}},
		{"Rules", &rules.RedirectRule{}},
		{"Redirect events", &redirects.RedirectEvent{}},
		{"Conversions", &conversions.ConversionEvent{}},
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	for _, row := range counts {
		var count int64
		if err := db.Model(row.model).Count(&count).Error; err != nil {
			return fmt.Errorf("database error: %w", err)
		}
		log.Printf("- %s: %d", row.label, count)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}

	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)
	log.Printf("- In Use: %d", sqlDB.Stats().InUse)
	log.Printf("- Idle: %d", sqlDB.Stats().Idle)

	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string { return "help" }

func (c *HelpCommand) Description() string {
	return "Shows usage information"
}

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fmt.Println("Usage: rdctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	return nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	log.Println("Running database migrations...")

	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo data
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with sample data" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	events := fs.Int("events", 10000, "number of redirect events to generate")
	domain := fs.String("domain", "", "specific merchant domain to seed (seeds demo merchants if empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	se := seeder.NewSeeder(app.DBManager, slog.Default(), *events)

	if *domain != "" {
		return se.SeedDomain(ctx, *domain)
	}

	return se.Run(ctx)
}

// Helper functions

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := os.Args[1:]
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	fmt.Println("Usage: rdctl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}

	os.Exit(1)
}
