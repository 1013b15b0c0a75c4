package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"redirectly/internal/config"
	"redirectly/internal/merchants"
	"redirectly/internal/rules"
	"redirectly/internal/testsupport"
)

func setupDashboard(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()

	db := testsupport.SetupTestDB(t)
	testsupport.SetupTestEngine(t, db)
	return testsupport.CreateTestApp(t, db), db
}

func request(t *testing.T, app *fiber.App, method, path, token string, body any) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

func decodeRule(t *testing.T, resp *http.Response) rules.RedirectRule {
	t.Helper()

	var payload struct {
		Rule rules.RedirectRule `json:"rule"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Rule
}

func TestMerchantAPIKeyAuth(t *testing.T) {
	app, db := setupDashboard(t)
	_, key := testsupport.CreateTestMerchantWithKey(t, db, "auth.example")

	t.Run("missing header", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/rules", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/rules", "rk_1_wrong", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid key", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/rules", key, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRulesCRUD(t *testing.T) {
	app, db := setupDashboard(t)
	merchant, key := testsupport.CreateTestMerchantWithKey(t, db, "crud.example")

	t.Run("create", func(t *testing.T) {
		delay := 30
		resp := request(t, app, http.MethodPost, "/api/v1/rules", key, fiber.Map{
			"name":                  "Slow browser nudge",
			"trigger":               "TIME_DELAY",
			"trigger_delay_seconds": delay,
			"destination_url":       "https://crud.example/offer",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		rule := decodeRule(t, resp)
		assert.NotZero(t, rule.ID)
		assert.Equal(t, merchant.ID, rule.MerchantID)
		assert.Equal(t, rules.TriggerTimeDelay, rule.Trigger)
		assert.Equal(t, 100, rule.Priority, "priority defaults when omitted")
		assert.True(t, rule.Enabled)
		assert.Equal(t, rules.StatusActive, rule.Status)
	})

	t.Run("create rejects invalid params", func(t *testing.T) {
		resp := request(t, app, http.MethodPost, "/api/v1/rules", key, fiber.Map{
			"name":            "No threshold",
			"trigger":         "TIME_DELAY",
			"destination_url": "https://crud.example/offer",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("show update toggle delete", func(t *testing.T) {
		created := testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)
		base := fmt.Sprintf("/api/v1/rules/%d", created.ID)

		resp := request(t, app, http.MethodGet, base, key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, created.ID, decodeRule(t, resp).ID)

		resp = request(t, app, http.MethodPost, base, key, fiber.Map{
			"name":            "Renamed",
			"trigger":         "EXIT_INTENT",
			"destination_url": "https://crud.example/renamed",
			"priority":        5,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		updated := decodeRule(t, resp)
		assert.Equal(t, "Renamed", updated.Name)
		assert.Equal(t, 5, updated.Priority)

		resp = request(t, app, http.MethodPost, base+"/disable", key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, rules.StatusInactive, decodeRule(t, resp).Status)

		resp = request(t, app, http.MethodPost, base+"/enable", key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, rules.StatusActive, decodeRule(t, resp).Status)

		resp = request(t, app, http.MethodDelete, base, key, nil)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		resp = request(t, app, http.MethodGet, base, key, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("other merchants' rules read as missing", func(t *testing.T) {
		other := testsupport.CreateTestMerchant(t, db, "crud-other.example")
		foreign := testsupport.CreateTestRule(t, db, other.ID, rules.TriggerExitIntent)

		resp := request(t, app, http.MethodGet, fmt.Sprintf("/api/v1/rules/%d", foreign.ID), key, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad rule id", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/rules/banana", key, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAnalyticsEndpoints(t *testing.T) {
	app, db := setupDashboard(t)
	merchant, key := testsupport.CreateTestMerchantWithKey(t, db, "dash.example")
	testsupport.CreateTestRule(t, db, merchant.ID, rules.TriggerExitIntent)

	t.Run("summary", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/analytics/summary", key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			Summary struct {
				TotalRules  int64 `json:"total_rules"`
				ActiveRules int64 `json:"active_rules"`
			} `json:"summary"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.Equal(t, int64(1), payload.Summary.TotalRules)
		assert.Equal(t, int64(1), payload.Summary.ActiveRules)
	})

	t.Run("per-rule stats", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/api/v1/analytics/rules", key, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			Rules []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"rules"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.Len(t, payload.Rules, 1)
		assert.Equal(t, string(rules.StatusActive), payload.Rules[0].Status)
	})

	t.Run("rejects an inverted date range", func(t *testing.T) {
		resp := request(t, app, http.MethodGet,
			"/api/v1/analytics/summary?from=2026-02-10&to=2026-02-01", key, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("rejects an unknown timezone", func(t *testing.T) {
		resp := request(t, app, http.MethodGet,
			"/api/v1/analytics/rules?tz=Mars%2FOlympus", key, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestOperatorEndpoints(t *testing.T) {
	app, db := setupDashboard(t)
	operatorKey := config.GetConfig().PrivateKey

	t.Run("operator key required", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/operator/api/v1/merchants", "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp = request(t, app, http.MethodGet, "/operator/api/v1/merchants", "wrong-key", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("create merchant returns the key once", func(t *testing.T) {
		resp := request(t, app, http.MethodPost, "/operator/api/v1/merchants", operatorKey, fiber.Map{
			"name":   "New Shop",
			"domain": "checkout.newshop.example",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var payload struct {
			Merchant merchants.Merchant `json:"merchant"`
			APIKey   string             `json:"api_key"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.Equal(t, "newshop.example", payload.Merchant.Domain, "domain collapses to its base")
		assert.NotEmpty(t, payload.APIKey)

		verified, err := merchants.VerifyAPIKey(db, payload.APIKey)
		require.NoError(t, err)
		assert.Equal(t, payload.Merchant.ID, verified.ID)
	})

	t.Run("rotate key", func(t *testing.T) {
		m, oldKey := testsupport.CreateTestMerchantWithKey(t, db, "rotateop.example")

		resp := request(t, app, http.MethodPost,
			fmt.Sprintf("/operator/api/v1/merchants/%d/rotate-key", m.ID), operatorKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			APIKey string `json:"api_key"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		require.NotEmpty(t, payload.APIKey)

		_, err := merchants.VerifyAPIKey(db, oldKey)
		assert.Error(t, err)
		_, err = merchants.VerifyAPIKey(db, payload.APIKey)
		assert.NoError(t, err)
	})

	t.Run("list merchants", func(t *testing.T) {
		resp := request(t, app, http.MethodGet, "/operator/api/v1/merchants", operatorKey, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var payload struct {
			Merchants []merchants.Merchant `json:"merchants"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
		assert.NotEmpty(t, payload.Merchants)
	})

	t.Run("update excluded IPs setting", func(t *testing.T) {
		resp := request(t, app, http.MethodPost, "/operator/api/v1/settings/excluded-ips", operatorKey, fiber.Map{
			"excluded_ips": "198.51.100.1, 198.51.100.2",
		})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
