package billing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
)

func testStripeConfig() StripeConfig {
	return StripeConfig{
		SecretKey:  "sk_test_123",
		SuccessURL: "https://studio.example/success",
		CancelURL:  "https://studio.example/cancel",
		Currency:   "usd",
	}
}

func TestStripeConfigEnabled(t *testing.T) {
	cfg := testStripeConfig()
	assert.True(t, cfg.CheckoutEnabled())
	assert.False(t, cfg.WebhookEnabled())

	cfg.WebhookSecret = "whsec_123"
	assert.True(t, cfg.WebhookEnabled())
	assert.False(t, StripeConfig{}.CheckoutEnabled())
}

func TestNewStripeCheckoutRequiresKey(t *testing.T) {
	_, err := NewStripeCheckout(StripeConfig{}, nil)
	assert.Error(t, err)
}

func TestStripeCheckoutParams(t *testing.T) {
	sc, err := NewStripeCheckout(testStripeConfig(), nil)
	require.NoError(t, err)

	params := sc.checkoutParams(entitlements.CheckoutRequest{UserID: "U1", ModelID: "paid-model", PriceCents: 99})
	assert.Equal(t, string(stripe.CheckoutSessionModePayment), *params.Mode)
	assert.Equal(t, "U1", *params.ClientReferenceID)
	assert.Equal(t, "https://studio.example/success", *params.SuccessURL)
	assert.Equal(t, map[string]string{"user_id": "U1", "model_id": "paid-model"}, params.Metadata)

	require.Len(t, params.LineItems, 1)
	item := params.LineItems[0]
	assert.EqualValues(t, 1, *item.Quantity)
	assert.EqualValues(t, 99, *item.PriceData.UnitAmount)
	assert.Equal(t, "usd", *item.PriceData.Currency)
	assert.Contains(t, *item.PriceData.ProductData.Name, "paid-model")
}

func TestStripeCheckoutCreatesSession(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/checkout/sessions"), r.URL.Path)
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"mode":                r.PostForm.Get("mode"),
			"client_reference_id": r.PostForm.Get("client_reference_id"),
			"metadata[model_id]":  r.PostForm.Get("metadata[model_id]"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.test/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:           stripe.String(srv.URL),
		HTTPClient:    srv.Client(),
		LeveledLogger: &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc, err := NewStripeCheckout(testStripeConfig(), &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	require.NoError(t, err)

	sess, err := sc.CreateCheckout(context.Background(), entitlements.CheckoutRequest{UserID: "U1", ModelID: "paid-model", PriceCents: 99})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", sess.URL)
	assert.Equal(t, "payment", form["mode"])
	assert.Equal(t, "U1", form["client_reference_id"])
	assert.Equal(t, "paid-model", form["metadata[model_id]"])
}
