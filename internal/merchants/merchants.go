// Package merchants manages merchant accounts: the registered storefront
// domain used to validate public API origins and the API key protecting the
// merchant-facing endpoints.
package merchants

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// MerchantNotFoundError represents an error when a merchant is not found
type MerchantNotFoundError struct {
	Domain string
}

func (e *MerchantNotFoundError) Error() string {
	return fmt.Sprintf("merchant not found for domain: %s", e.Domain)
}

// NewMerchantNotFoundError creates a new MerchantNotFoundError
func NewMerchantNotFoundError(domain string) *MerchantNotFoundError {
	return &MerchantNotFoundError{Domain: domain}
}

// ErrInvalidAPIKey is returned when an API key fails verification.
var ErrInvalidAPIKey = errors.New("invalid API key")

// Merchant represents a checkout-page owner.
type Merchant struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"not null" json:"name"`
	Domain       string    `gorm:"unique;not null" json:"domain"` // Base domain, e.g. "shop.example.com" -> "example.com"
	APIKeyDigest string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateMerchant persists a new merchant account.
func CreateMerchant(db *gorm.DB, logger *slog.Logger, merchant *Merchant) error {
	if merchant.Domain == "" {
		return errors.New("merchant domain is required")
	}
	if merchant.Name == "" {
		return errors.New("merchant name is required")
	}

	merchant.Domain = BaseDomainForHost(merchant.Domain)
	now := time.Now().UTC()
	merchant.CreatedAt = now
	merchant.UpdatedAt = now

	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(merchant).Error
	})
}

// GetMerchantByID retrieves a merchant by its ID.
func GetMerchantByID(db *gorm.DB, id uint) (*Merchant, error) {
	var merchant Merchant
	if err := db.First(&merchant, id).Error; err != nil {
		return nil, err
	}
	return &merchant, nil
}

// GetMerchantByDomain retrieves a merchant by exact base-domain match.
func GetMerchantByDomain(db *gorm.DB, domain string) (*Merchant, error) {
	var merchant Merchant
	if err := db.Where("domain = ?", domain).First(&merchant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewMerchantNotFoundError(domain)
		}
		return nil, fmt.Errorf("unexpected error querying merchant: %w", err)
	}
	return &merchant, nil
}

// GetAllMerchants retrieves all merchants.
func GetAllMerchants(db *gorm.DB) ([]Merchant, error) {
	var result []Merchant
	if err := db.Find(&result).Error; err != nil {
		return nil, fmt.Errorf("failed to get merchants: %w", err)
	}
	return result, nil
}

// GenerateAPIKey creates a fresh API key for the merchant, stores its bcrypt
// digest and returns the plaintext key. The plaintext is shown once and never
// stored.
func GenerateAPIKey(db *gorm.DB, logger *slog.Logger, merchantID uint) (string, error) {
	merchant, err := GetMerchantByID(db, merchantID)
	if err != nil {
		return "", err
	}

	secret := make([]byte, 24)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("failed to generate API key: %w", err)
	}
	plaintext := fmt.Sprintf("rk_%d_%s", merchantID, hex.EncodeToString(secret))

	digest, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	merchant.APIKeyDigest = string(digest)
	merchant.UpdatedAt = time.Now().UTC()
	if err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Save(merchant).Error
	}); err != nil {
		return "", err
	}

	return plaintext, nil
}

// VerifyAPIKey resolves the merchant embedded in the key and checks the key
// against the stored digest.
func VerifyAPIKey(db *gorm.DB, key string) (*Merchant, error) {
	// Keys look like rk_<merchantID>_<secret>
	parts := strings.SplitN(key, "_", 3)
	if len(parts) != 3 || parts[0] != "rk" {
		return nil, ErrInvalidAPIKey
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	merchant, err := GetMerchantByID(db, uint(id))
	if err != nil {
		return nil, ErrInvalidAPIKey
	}
	if merchant.APIKeyDigest == "" {
		return nil, ErrInvalidAPIKey
	}

	if bcrypt.CompareHashAndPassword([]byte(merchant.APIKeyDigest), []byte(key)) != nil {
		return nil, ErrInvalidAPIKey
	}
	return merchant, nil
}

// BaseDomainForHost returns the canonical base domain for a hostname,
// preserving localhost semantics while collapsing subdomains
// (e.g. checkout.example.com -> example.com).
func BaseDomainForHost(host string) string {
	parts := strings.Split(strings.ToLower(host), ".")
	if len(parts) < 2 {
		return strings.ToLower(host) // e.g. "localhost"
	}

	lastPart := parts[len(parts)-1]
	if lastPart == "localhost" {
		return "localhost"
	}

	// Common two-part ccTLDs that need three labels to form a base domain
	ccTLDPatterns := map[string]bool{
		"co.uk":  true,
		"co.jp":  true,
		"co.za":  true,
		"co.nz":  true,
		"co.in":  true,
		"com.au": true,
		"com.br": true,
		"org.uk": true,
		"gov.uk": true,
		"ac.uk":  true,
	}

	secondLast := parts[len(parts)-2]
	if len(parts) > 2 {
		twoPartTLD := fmt.Sprintf("%s.%s", secondLast, lastPart)
		if ccTLDPatterns[twoPartTLD] {
			thirdLast := parts[len(parts)-3]
			return fmt.Sprintf("%s.%s.%s", thirdLast, secondLast, lastPart)
		}
	}

	return fmt.Sprintf("%s.%s", secondLast, lastPart)
}
