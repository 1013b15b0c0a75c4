package seeder

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/karloscodes/cartridge"

	"redirectly/internal/conversions"
	"redirectly/internal/merchants"
	"redirectly/internal/redirects"
	"redirectly/internal/rules"
)

// Seeder populates the database with demo merchants, rules and traffic so a
// fresh install has something to look at.
type Seeder struct {
	DBManager  cartridge.DBManager
	Logger     *slog.Logger
	EventCount int
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, eventCount int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		DBManager:  dbManager,
		Logger:     logger,
		EventCount: eventCount,
	}
}

// Run seeds the default demo merchants with rules and a month of traffic.
func (s *Seeder) Run(ctx context.Context) error {
	start := time.Now()
	s.Logger.Info("Starting database seeding...", slog.Int("eventCount", s.EventCount))

	for _, domain := range []string{"demo-store.example.com", "outlet.example.org"} {
		merchant, err := s.seedMerchant(domain)
		if err != nil {
			return fmt.Errorf("failed to seed merchant %s: %w", domain, err)
		}

		seeded, err := s.seedRules(merchant)
		if err != nil {
			return fmt.Errorf("failed to seed rules for %s: %w", domain, err)
		}

		if err := s.generateTraffic(ctx, merchant, seeded); err != nil {
			return fmt.Errorf("failed to generate traffic for %s: %w", domain, err)
		}
	}

	s.Logger.Info("Seeding completed successfully", slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SeedDomain seeds traffic for a specific existing merchant domain.
func (s *Seeder) SeedDomain(ctx context.Context, domain string) error {
	db := s.DBManager.GetConnection()

	merchant, err := merchants.GetMerchantByDomain(db, merchants.BaseDomainForHost(domain))
	if err != nil {
		return fmt.Errorf("merchant for domain %s not found: %w", domain, err)
	}

	existing, err := rules.ListRulesForMerchant(db, merchant.ID)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if len(existing) == 0 {
		if existing, err = s.seedRules(merchant); err != nil {
			return fmt.Errorf("failed to seed rules: %w", err)
		}
	}

	return s.generateTraffic(ctx, merchant, existing)
}

func (s *Seeder) seedMerchant(domain string) (*merchants.Merchant, error) {
	db := s.DBManager.GetConnection()

	merchant, err := merchants.GetMerchantByDomain(db, merchants.BaseDomainForHost(domain))
	if err == nil {
		s.Logger.Info("Merchant already exists", slog.String("domain", merchant.Domain))
		return merchant, nil
	}
	var notFound *merchants.MerchantNotFoundError
	if !errors.As(err, &notFound) {
		return nil, err
	}

	merchant = &merchants.Merchant{Name: "Demo " + domain, Domain: domain}
	if err := merchants.CreateMerchant(db, s.Logger, merchant); err != nil {
		return nil, err
	}

	apiKey, err := merchants.GenerateAPIKey(db, s.Logger, merchant.ID)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Created demo merchant",
		slog.String("domain", merchant.Domain),
		slog.String("api_key", apiKey))
	return merchant, nil
}

// seedRules creates one rule per trigger kind, with varying priorities and a
// couple of scheduled and disabled ones for lifecycle variety.
func (s *Seeder) seedRules(merchant *merchants.Merchant) ([]rules.RedirectRule, error) {
	db := s.DBManager.GetConnection()
	now := time.Now().UTC()

	delay := 20
	scroll := 60.0
	idle := 30
	nextWeek := now.Add(7 * 24 * time.Hour)

	seeds := []rules.RedirectRule{
		{
			Name:           "Post-purchase upsell",
			Trigger:        rules.TriggerPostPurchase,
			DestinationURL: "https://" + merchant.Domain + "/thank-you-offer",
			Priority:       10,
		},
		{
			Name:                "Cart rescue",
			Trigger:             rules.TriggerAbandonedCart,
			DestinationURL:      "https://" + merchant.Domain + "/cart-discount",
			Priority:            20,
			ShowConfirmation:    true,
			ConfirmationMessage: "Want 10% off before you go?",
		},
		{
			Name:             "Exit survey",
			Trigger:          rules.TriggerExitIntent,
			DestinationURL:   "https://survey.example.net/exit",
			Priority:         50,
			OpenInNewTab:     true,
			ShowConfirmation: true,
		},
		{
			Name:                "Slow browser nudge",
			Trigger:             rules.TriggerTimeDelay,
			TriggerDelaySeconds: &delay,
			DestinationURL:      "https://" + merchant.Domain + "/bestsellers",
			Priority:            80,
		},
		{
			Name:                 "Deep scroller reward",
			Trigger:              rules.TriggerScrollPercentage,
			TriggerScrollPercent: &scroll,
			DestinationURL:       "https://" + merchant.Domain + "/loyal-reader",
			Priority:             70,
		},
		{
			Name:               "Idle reminder",
			Trigger:            rules.TriggerIdle,
			TriggerIdleSeconds: &idle,
			DestinationURL:     "https://" + merchant.Domain + "/still-there",
			Priority:           90,
		},
		{
			Name:           "Welcome tour",
			Trigger:        rules.TriggerFirstVisit,
			DestinationURL: "https://" + merchant.Domain + "/welcome",
			Priority:       40,
		},
		{
			Name:           "Member perks",
			Trigger:        rules.TriggerReturningVisitor,
			DestinationURL: "https://" + merchant.Domain + "/perks",
			Priority:       60,
			StartsAt:       &nextWeek,
		},
	}

	created := make([]rules.RedirectRule, 0, len(seeds))
	for i := range seeds {
		rule := seeds[i]
		rule.MerchantID = merchant.ID
		rule.Enabled = i != len(seeds)-2 // one disabled rule for variety
		if err := rules.CreateRule(db, s.Logger, &rule); err != nil {
			return nil, err
		}
		created = append(created, rule)
	}

	s.Logger.Info("Seeded rules", slog.String("domain", merchant.Domain), slog.Int("count", len(created)))
	return created, nil
}

// generateTraffic backfills redirect and conversion events across the last
// 30 days so the analytics endpoints return populated charts.
func (s *Seeder) generateTraffic(ctx context.Context, merchant *merchants.Merchant, seeded []rules.RedirectRule) error {
	db := s.DBManager.GetConnection()
	now := time.Now().UTC()

	countries := []string{"US", "DE", "GB", "FR", "BR", "JP", ""}
	devices := []string{"desktop", "desktop", "mobile", "mobile", "tablet"}

	count := s.EventCount
	if count <= 0 {
		count = 1000
	}

	batch := make([]redirects.RedirectEvent, 0, 500)
	var convBatch []conversions.ConversionEvent

	flush := func() error {
		if len(batch) > 0 {
			if err := db.Create(&batch).Error; err != nil {
				return err
			}
			batch = batch[:0]
		}
		if len(convBatch) > 0 {
			if err := db.Create(&convBatch).Error; err != nil {
				return err
			}
			convBatch = convBatch[:0]
		}
		return nil
	}

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rule := seeded[rand.IntN(len(seeded))]
		firedAt := now.Add(-time.Duration(rand.IntN(30*24)) * time.Hour)

		event := redirects.RedirectEvent{
			ID:         uuid.NewString(),
			RuleID:     rule.ID,
			MerchantID: merchant.ID,
			SessionID:  uuid.NewString(),
			FiredAt:    firedAt,
			Country:    countries[rand.IntN(len(countries))],
			DeviceType: devices[rand.IntN(len(devices))],
			CreatedAt:  firedAt,
		}
		batch = append(batch, event)

		// Roughly one in eight redirects converts.
		if rand.IntN(8) == 0 {
			convertedAt := firedAt.Add(time.Duration(rand.IntN(3600)) * time.Second)
			convBatch = append(convBatch, conversions.ConversionEvent{
				ID:              uuid.NewString(),
				RedirectEventID: event.ID,
				RuleID:          rule.ID,
				MerchantID:      merchant.ID,
				SessionID:       event.SessionID,
				OrderValue:      10 + rand.Float64()*190,
				ConvertedAt:     convertedAt,
				CreatedAt:       convertedAt,
			})
		}

		if len(batch) >= 500 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}

	// Align cached counters with the backfilled history.
	return db.Exec(`
		UPDATE redirect_rules SET
			current_redirects = (SELECT COUNT(*) FROM redirect_events WHERE redirect_events.rule_id = redirect_rules.id),
			conversions = (SELECT COUNT(*) FROM conversion_events WHERE conversion_events.rule_id = redirect_rules.id)
		WHERE merchant_id = ?`, merchant.ID).Error
}
