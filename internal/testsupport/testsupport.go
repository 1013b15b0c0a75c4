package testsupport

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"
	"os"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	v1 "redirectly/api/v1"
	"redirectly/internal"
	"redirectly/internal/config"
	"redirectly/internal/conversions"
	"redirectly/internal/engine"
	"redirectly/internal/merchants"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
	"redirectly/internal/sessions"
	"redirectly/internal/settings"
	"redirectly/internal/visitors"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with redirectly's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all redirectly models for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&merchants.Merchant{},
		&rules.RedirectRule{},
		&redirects.RedirectEvent{},
		&conversions.ConversionEvent{},
		&settings.Setting{},
	}
}

// SetupTestDB creates a test database with all redirectly models migrated.
// Uses a named in-memory database with cache=shared so multiple connections
// within a test see the same data, cached by root test name so subtests
// share it too.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// CleanAllTables clears all non-system tables in the database
func CleanAllTables(db *gorm.DB) {
	var tableNames []string
	db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tableNames)

	var tables []string
	for _, name := range tableNames {
		if name != "migrations" && name != "schema_migrations" {
			tables = append(tables, name)
		}
	}
	if len(tables) == 0 {
		return
	}

	db.Exec("PRAGMA foreign_keys = OFF")
	defer db.Exec("PRAGMA foreign_keys = ON")

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestMerchant creates a merchant for the given domain, reusing an
// existing row when the domain is already registered.
func CreateTestMerchant(t *testing.T, db *gorm.DB, domain string) *merchants.Merchant {
	t.Helper()

	base := merchants.BaseDomainForHost(domain)
	if existing, err := merchants.GetMerchantByDomain(db, base); err == nil {
		return existing
	}

	merchant := &merchants.Merchant{Name: "Test " + domain, Domain: domain}
	require.NoError(t, merchants.CreateMerchant(db, GetLogger(), merchant))
	return merchant
}

// CreateTestMerchantWithKey creates a merchant and returns its plaintext API key.
func CreateTestMerchantWithKey(t *testing.T, db *gorm.DB, domain string) (*merchants.Merchant, string) {
	t.Helper()

	merchant := CreateTestMerchant(t, db, domain)
	apiKey, err := merchants.GenerateAPIKey(db, GetLogger(), merchant.ID)
	require.NoError(t, err)
	return merchant, apiKey
}

// RuleOption mutates a rule before it is persisted.
type RuleOption func(*rules.RedirectRule)

// WithPriority sets the rule's priority.
func WithPriority(p int) RuleOption {
	return func(r *rules.RedirectRule) { r.Priority = p }
}

// WithDelay makes the rule a TIME_DELAY rule with the given threshold.
func WithDelay(seconds int) RuleOption {
	return func(r *rules.RedirectRule) {
		r.Trigger = rules.TriggerTimeDelay
		r.TriggerDelaySeconds = &seconds
	}
}

// WithScrollPercent makes the rule a SCROLL_PERCENTAGE rule.
func WithScrollPercent(pct float64) RuleOption {
	return func(r *rules.RedirectRule) {
		r.Trigger = rules.TriggerScrollPercentage
		r.TriggerScrollPercent = &pct
	}
}

// WithIdleSeconds makes the rule an IDLE rule.
func WithIdleSeconds(seconds int) RuleOption {
	return func(r *rules.RedirectRule) {
		r.Trigger = rules.TriggerIdle
		r.TriggerIdleSeconds = &seconds
	}
}

// WithWindow sets the rule's scheduling window.
func WithWindow(startsAt, endsAt *time.Time) RuleOption {
	return func(r *rules.RedirectRule) {
		r.StartsAt = startsAt
		r.EndsAt = endsAt
	}
}

// Disabled marks the rule as disabled.
func Disabled() RuleOption {
	return func(r *rules.RedirectRule) { r.Enabled = false }
}

// WithConfirmation makes the rule require a confirmation dialog.
func WithConfirmation(message string) RuleOption {
	return func(r *rules.RedirectRule) {
		r.ShowConfirmation = true
		r.ConfirmationMessage = message
	}
}

// CreateTestRule persists a rule for the merchant. Defaults to an enabled
// EXIT_INTENT rule with priority 100.
func CreateTestRule(t *testing.T, db *gorm.DB, merchantID uint, trigger rules.TriggerKind, opts ...RuleOption) *rules.RedirectRule {
	t.Helper()

	rule := &rules.RedirectRule{
		MerchantID:     merchantID,
		Name:           fmt.Sprintf("rule-%s", uuid.NewString()[:8]),
		Trigger:        trigger,
		DestinationURL: "https://example.com/offer",
		Priority:       100,
		Enabled:        true,
	}
	for _, opt := range opts {
		opt(rule)
	}
	require.NoError(t, rules.CreateRule(db, GetLogger(), rule))
	return rule
}

// NewTestContext builds a session context with a rule snapshot, registered
// in no registry. The caller drives it through the detector and executor.
func NewTestContext(merchantID uint, now time.Time, snapshot ...rules.RedirectRule) *sessions.Context {
	ctx := sessions.NewContext(uuid.NewString(), merchantID, now)
	ctx.DeviceType = "desktop"
	ctx.RuleSnapshot = snapshot
	return ctx
}

// NewMarkerStore returns a Redis-backed marker store wired to an in-process
// miniredis, plus the miniredis handle for fault injection.
func NewMarkerStore(t *testing.T, ttl time.Duration) (*visitors.RedisMarkerStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return visitors.NewRedisMarkerStoreWithClient(client, ttl), mr
}

// SetupTestEngine builds a decision engine on the test database with an
// in-memory registry and no marker store, and installs it for the public
// API handlers.
func SetupTestEngine(t *testing.T, db *gorm.DB) (*engine.Engine, *sessions.Registry) {
	t.Helper()

	cfg := config.GetConfig()
	cfg.Environment = config.Test
	registry := sessions.NewRegistry(cfg.SessionTTL(), GetLogger())
	e := engine.New(cfg, GetLogger(), NewTestDBManager(db), registry, visitors.NullMarkerStore{})
	v1.Setup(e)
	t.Cleanup(e.Stop)
	return e, registry
}

// CreateTestApp creates a test Fiber app with all routes mounted.
func CreateTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	internal.MountAppRoutes(srv)
	return srv.App()
}
