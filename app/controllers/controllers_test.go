package controllers

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/billing"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/catalog"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/license"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/middleware"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/ollama"
)

const testWebhookSecret = "whsec_controller_test"

type fakeModelServer struct {
	generateModel string
	generateErr   error
	tags          []string
	tagsErr       error
	pullErr       error
	progress      []ollama.PullProgress
}

func (f *fakeModelServer) Generate(_ context.Context, model, prompt string) (string, error) {
	f.generateModel = model
	if f.generateErr != nil {
		return "", f.generateErr
	}
	return "echo: " + prompt, nil
}

func (f *fakeModelServer) Tags(context.Context) ([]string, error) {
	return f.tags, f.tagsErr
}

func (f *fakeModelServer) Pull(context.Context, string) error {
	return f.pullErr
}

func (f *fakeModelServer) PullStream(_ context.Context, _ string, fn func(ollama.PullProgress) error) error {
	for _, p := range f.progress {
		if err := fn(p); err != nil {
			return err
		}
	}
	return f.pullErr
}

type testEnv struct {
	app    *fiber.App
	db     *gorm.DB
	server *fakeModelServer
}

type envOptions struct {
	skipPayment   bool
	webhookSecret string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "purchases.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Purchase{}, &models.BillingWebhookEvent{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cat := catalog.Default()
	l := ledger.NewFromDB(db, cat.FreeModelID())
	verifier := license.NewDefaultVerifier(license.Config{DevPrefix: "DEV-", Timeout: time.Second}, license.NewMemoryCache(), nil)
	resolver := entitlements.NewResolver(cat, l, verifier, nil, nil)
	server := &fakeModelServer{}

	chat := NewChatController(server, cat, "http://ollama.test:11434")
	purchase := NewPurchaseController(resolver, opts.skipPayment)
	webhook := NewBillingController(billing.NewServiceFromDB(db, resolver, opts.webhookSecret))

	app := fiber.New()
	app.Use(middleware.UserContextMiddleware)
	app.Get("/health", HandleHealth)
	app.Post("/chat", chat.HandleChat)
	app.Get("/api/models", chat.HandleListModels)
	app.Get("/api/models/owned", purchase.HandleOwnedModels)
	app.Get("/api/models/catalog", purchase.HandleCatalog)
	app.Get("/api/models/status/:model", chat.HandleModelStatus)
	app.Post("/api/models/install", chat.HandleInstallModel)
	app.Post("/api/models/purchase/:model_id", purchase.HandlePurchase)
	app.Get("/api/license/check", purchase.HandleLicenseCheck)
	app.Post("/api/stripe/webhook", webhook.HandleStripeWebhook)

	return &testEnv{app: app, db: db, server: server}
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func asUser(id string) map[string]string {
	return map[string]string{"Cookie": "user_id=" + id}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	status, body := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "healthy", body["status"])
}

func TestChatRoutesCloudModelsToFreeModel(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	status, body := e.do(t, http.MethodPost, "/chat", `{"message":"hi","model":"gpt-4o-mini"}`, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "echo: hi", body["response"])
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.Equal(t, catalog.FreeModelID, e.server.generateModel)

	_, body = e.do(t, http.MethodPost, "/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, catalog.FreeModelID, body["model"])
}

func TestChatFriendlyErrors(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	e.server.generateErr = ollama.ErrModelNotFound
	status, body := e.do(t, http.MethodPost, "/chat", `{"message":"hi","model":"gemma2:2b"}`, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["response"], "ollama pull gemma2:2b")

	e.server.generateErr = fmt.Errorf("%w: connection refused", ollama.ErrUnreachable)
	status, body = e.do(t, http.MethodPost, "/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["response"], "http://ollama.test:11434")

	e.server.generateErr = &ollama.StatusError{StatusCode: http.StatusBadGateway, Body: "bad"}
	status, _ = e.do(t, http.MethodPost, "/chat", `{"message":"hi"}`, nil)
	assert.Equal(t, http.StatusBadGateway, status)

	status, body = e.do(t, http.MethodPost, "/chat", `{"model":"x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", body["error"])
}

func TestListModelsAndStatus(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	e.server.tags = []string{"tinyllama:latest", "gemma2:2b"}

	_, body := e.do(t, http.MethodGet, "/api/models", "", nil)
	assert.EqualValues(t, 2, body["count"])

	_, body = e.do(t, http.MethodGet, "/api/models/status/gemma2:2b", "", nil)
	assert.Equal(t, true, body["installed"])
	assert.Equal(t, "gemma2:2b", body["model"])

	_, body = e.do(t, http.MethodGet, "/api/models/status/qwen2.5%3A7b", "", nil)
	assert.Equal(t, false, body["installed"])
	assert.Equal(t, "qwen2.5:7b", body["model"])

	e.server.tagsErr = ollama.ErrUnreachable
	status, body := e.do(t, http.MethodGet, "/api/models", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 0, body["count"])
	assert.NotEmpty(t, body["error"])
}

func TestInstallModel(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	status, body := e.do(t, http.MethodPost, "/api/models/install", `{"model":"../etc"}`, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_model_name", body["error"])

	status, body = e.do(t, http.MethodPost, "/api/models/install", `{"model":"gemma2:2b"}`, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])

	e.server.pullErr = fmt.Errorf("%w: refused", ollama.ErrUnreachable)
	status, _ = e.do(t, http.MethodPost, "/api/models/install", `{"model":"gemma2:2b"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestInstallModelStreamsProgress(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	e.server.progress = []ollama.PullProgress{
		{Status: "pulling manifest"},
		{Status: "downloading", Total: 10, Completed: 5},
		{Status: "success"},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/models/install?stream=true", strings.NewReader(`{"model":"gemma2:2b"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/x-ndjson", resp.Header.Get("Content-Type"))

	var lines []ollama.PullProgress
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var p ollama.PullProgress
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &p))
		lines = append(lines, p)
	}
	require.Len(t, lines, 3)
	assert.EqualValues(t, 5, lines[1].Completed)
	assert.Equal(t, "success", lines[2].Status)
}

func TestOwnedModelsForNewUser(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	req := httptest.NewRequest(http.MethodGet, "/api/models/owned", nil)
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Set-Cookie"), "user_id=")
	var body struct {
		Owned  []string `json:"owned"`
		UserID string   `json:"user_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{catalog.FreeModelID}, body.Owned)
	assert.NotEmpty(t, body.UserID)
}

func TestPurchaseInTestMode(t *testing.T) {
	e := newTestEnv(t, envOptions{skipPayment: true})

	status, body := e.do(t, http.MethodPost, "/api/models/purchase/gemma2:2b", "", asUser("U1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 0.99, body["price"])
	assert.Equal(t, "U1", body["user_id"])

	_, body = e.do(t, http.MethodPost, "/api/models/purchase/gemma2:2b", "", asUser("U1"))
	assert.Equal(t, "already_owned", body["status"])

	_, body = e.do(t, http.MethodGet, "/api/models/owned", "", asUser("U1"))
	assert.Equal(t, []any{catalog.FreeModelID, "gemma2:2b"}, body["owned"])

	_, body = e.do(t, http.MethodPost, "/api/models/purchase/tinyllama:latest", "", asUser("U1"))
	assert.Equal(t, "already_owned", body["status"])

	var count int64
	require.NoError(t, e.db.Model(&models.Purchase{}).Where("user_id = ?", "U1").Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPurchaseErrors(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	status, body := e.do(t, http.MethodPost, "/api/models/purchase/unknown-model", "", asUser("U1"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_model", body["error"])

}

func TestPurchaseWithoutStripeReportsPrice(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	status, body := e.do(t, http.MethodPost, "/api/models/purchase/gemma2:2b", "", asUser("U1"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "payment_required", body["status"])
	assert.Equal(t, 0.99, body["price"])
	assert.Equal(t, "U1", body["user_id"])
	assert.NotEmpty(t, body["note"])
	assert.NotContains(t, body, "checkout_url")

	_, body = e.do(t, http.MethodGet, "/api/models/owned", "", asUser("U1"))
	assert.Equal(t, []any{catalog.FreeModelID}, body["owned"])
}

func TestCatalogMarksOwnedModels(t *testing.T) {
	e := newTestEnv(t, envOptions{skipPayment: true})
	e.do(t, http.MethodPost, "/api/models/purchase/gemma2:2b", "", asUser("U1"))

	req := httptest.NewRequest(http.MethodGet, "/api/models/catalog", nil)
	req.Header.Set("Cookie", "user_id=U1")
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Models []struct {
			ID    string   `json:"id"`
			Price *float64 `json:"price"`
			Owned bool     `json:"owned"`
		} `json:"models"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	owned := map[string]bool{}
	for _, m := range body.Models {
		owned[m.ID] = m.Owned
	}
	assert.True(t, owned[catalog.FreeModelID])
	assert.True(t, owned["gemma2:2b"])
	assert.False(t, owned["qwen2.5:7b"])
}

func TestLicenseCheck(t *testing.T) {
	e := newTestEnv(t, envOptions{})

	_, body := e.do(t, http.MethodGet, "/api/license/check", "", nil)
	assert.Equal(t, "free", body["tier"])
	assert.Equal(t, []any{catalog.FreeModelID}, body["models"])

	_, body = e.do(t, http.MethodGet, "/api/license/check", "", map[string]string{"X-License-Key": "DEV-local"})
	assert.Equal(t, "pro", body["tier"])
	assert.Equal(t, "dev", body["source"])

	_, body = e.do(t, http.MethodGet, "/api/license/check?license_key=UNKNOWN", "", nil)
	assert.Equal(t, "free", body["tier"])
}

func signedWebhook(eventID, userID, modelID, sessionID string) (string, map[string]string) {
	payload := fmt.Sprintf(`{"id":%q,"object":"event","api_version":%q,"type":"checkout.session.completed","data":{"object":{"id":%q,"object":"checkout.session","payment_status":"paid","metadata":{"user_id":%q,"model_id":%q}}}}`,
		eventID, stripe.APIVersion, sessionID, userID, modelID)
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return payload, map[string]string{"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))}
}

func TestStripeWebhook(t *testing.T) {
	e := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret})
	payload, headers := signedWebhook("evt_1", "U2", "gemma2:2b", "ref-123")

	status, body := e.do(t, http.MethodPost, "/api/stripe/webhook", payload, headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["granted"])

	status, body = e.do(t, http.MethodPost, "/api/stripe/webhook", payload, headers)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	status, body = e.do(t, http.MethodPost, "/api/stripe/webhook", payload, map[string]string{"Stripe-Signature": "t=1,v1=00"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_signature", body["error"])

	var rows []models.Purchase
	require.NoError(t, e.db.Where("user_id = ?", "U2").Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "ref-123", rows[0].ProviderReference)
}

func TestStripeWebhookNotConfigured(t *testing.T) {
	e := newTestEnv(t, envOptions{})
	payload, headers := signedWebhook("evt_1", "U2", "gemma2:2b", "ref-123")

	status, body := e.do(t, http.MethodPost, "/api/stripe/webhook", payload, headers)
	assert.Equal(t, http.StatusNotImplemented, status)
	assert.Equal(t, "stripe_not_configured", body["error"])
}
