package merchants_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"redirectly/internal/merchants"
	"redirectly/internal/testsupport"
)

func TestBaseDomainForHost(t *testing.T) {
	cases := []struct {
		host     string
		expected string
	}{
		{"example.com", "example.com"},
		{"checkout.example.com", "example.com"},
		{"a.b.c.example.com", "example.com"},
		{"Shop.EXAMPLE.com", "example.com"},
		{"localhost", "localhost"},
		{"app.localhost", "localhost"},
		{"shop.example.co.uk", "example.co.uk"},
		{"example.co.uk", "example.co.uk"},
		{"store.example.com.br", "example.com.br"},
	}
	for _, c := range cases {
		assert.Equal(t, c.expected, merchants.BaseDomainForHost(c.host), "host %q", c.host)
	}
}

func TestCreateMerchant(t *testing.T) {
	t.Run("normalizes the domain to its base", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := &merchants.Merchant{Name: "Acme", Domain: "checkout.acme-create.example"}
		require.NoError(t, merchants.CreateMerchant(db, testsupport.GetLogger(), m))
		assert.Equal(t, "acme-create.example", m.Domain)
	})

	t.Run("requires name and domain", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		assert.Error(t, merchants.CreateMerchant(db, testsupport.GetLogger(), &merchants.Merchant{Name: "Acme"}))
		assert.Error(t, merchants.CreateMerchant(db, testsupport.GetLogger(), &merchants.Merchant{Domain: "acme.example"}))
	})

	t.Run("domain is unique", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		require.NoError(t, merchants.CreateMerchant(db, testsupport.GetLogger(),
			&merchants.Merchant{Name: "First", Domain: "dup.example"}))
		assert.Error(t, merchants.CreateMerchant(db, testsupport.GetLogger(),
			&merchants.Merchant{Name: "Second", Domain: "dup.example"}))
	})
}

func TestGetMerchantByDomain(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	created := testsupport.CreateTestMerchant(t, db, "lookup.example")

	found, err := merchants.GetMerchantByDomain(db, "lookup.example")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)

	_, err = merchants.GetMerchantByDomain(db, "missing.example")
	var notFound *merchants.MerchantNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing.example", notFound.Domain)
}

func TestAPIKeys(t *testing.T) {
	t.Run("generated key verifies and resolves its merchant", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := testsupport.CreateTestMerchant(t, db, "keys.example")

		key, err := merchants.GenerateAPIKey(db, testsupport.GetLogger(), m.ID)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, "rk_"))

		verified, err := merchants.VerifyAPIKey(db, key)
		require.NoError(t, err)
		assert.Equal(t, m.ID, verified.ID)
	})

	t.Run("plaintext key is never stored", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := testsupport.CreateTestMerchant(t, db, "digest.example")

		key, err := merchants.GenerateAPIKey(db, testsupport.GetLogger(), m.ID)
		require.NoError(t, err)

		stored, err := merchants.GetMerchantByID(db, m.ID)
		require.NoError(t, err)
		assert.NotEmpty(t, stored.APIKeyDigest)
		assert.NotContains(t, stored.APIKeyDigest, key)
	})

	t.Run("rotation invalidates the previous key", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := testsupport.CreateTestMerchant(t, db, "rotate.example")

		old, err := merchants.GenerateAPIKey(db, testsupport.GetLogger(), m.ID)
		require.NoError(t, err)
		fresh, err := merchants.GenerateAPIKey(db, testsupport.GetLogger(), m.ID)
		require.NoError(t, err)
		require.NotEqual(t, old, fresh)

		_, err = merchants.VerifyAPIKey(db, old)
		assert.ErrorIs(t, err, merchants.ErrInvalidAPIKey)
		_, err = merchants.VerifyAPIKey(db, fresh)
		assert.NoError(t, err)
	})

	t.Run("malformed and forged keys are rejected", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := testsupport.CreateTestMerchant(t, db, "forged.example")
		_, err := merchants.GenerateAPIKey(db, testsupport.GetLogger(), m.ID)
		require.NoError(t, err)

		for _, key := range []string{
			"",
			"rk_",
			"not-a-key",
			"sk_1_deadbeef",
			"rk_abc_deadbeef",
			"rk_99999_deadbeef",
		} {
			_, err := merchants.VerifyAPIKey(db, key)
			assert.ErrorIs(t, err, merchants.ErrInvalidAPIKey, "key %q", key)
		}

		// Right merchant ID, wrong secret.
		_, err = merchants.VerifyAPIKey(db, fmt.Sprintf("rk_%d_%s", m.ID, strings.Repeat("0", 48)))
		assert.ErrorIs(t, err, merchants.ErrInvalidAPIKey)
	})

	t.Run("merchant without a key rejects verification", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		m := testsupport.CreateTestMerchant(t, db, "nokey.example")

		_, err := merchants.VerifyAPIKey(db, fmt.Sprintf("rk_%d_deadbeef", m.ID))
		assert.ErrorIs(t, err, merchants.ErrInvalidAPIKey)
	})
}
