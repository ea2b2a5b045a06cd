package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/entitlements"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Currency      string
}

func StripeConfigFromEnv() StripeConfig {
	return StripeConfig{
		SecretKey:     strings.TrimSpace(env.GetEnv("STRIPE_SECRET_KEY", "")),
		WebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		SuccessURL:    strings.TrimSpace(env.GetEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/purchase/success")),
		CancelURL:     strings.TrimSpace(env.GetEnv("STRIPE_CANCEL_URL", "http://localhost:3000/purchase/cancel")),
		Currency:      strings.ToLower(strings.TrimSpace(env.GetEnv("STRIPE_CURRENCY", "usd"))),
	}
}

// CheckoutEnabled reports whether a secret key is configured.
func (c StripeConfig) CheckoutEnabled() bool {
	return c.SecretKey != ""
}

// WebhookEnabled reports whether webhook deliveries can be authenticated.
func (c StripeConfig) WebhookEnabled() bool {
	return c.WebhookSecret != ""
}

// StripeCheckout opens hosted Stripe checkout sessions for single models.
type StripeCheckout struct {
	cfg    StripeConfig
	client *client.API
}

// NewStripeCheckout creates a checkout provider. backends may be nil.
func NewStripeCheckout(cfg StripeConfig, backends *stripe.Backends) (*StripeCheckout, error) {
	if !cfg.CheckoutEnabled() {
		return nil, errors.New("STRIPE_SECRET_KEY is not configured")
	}
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &StripeCheckout{cfg: cfg, client: sc}, nil
}

func (s *StripeCheckout) CreateCheckout(ctx context.Context, req entitlements.CheckoutRequest) (*entitlements.CheckoutSession, error) {
	params := s.checkoutParams(req)
	params.Context = ctx

	sess, err := s.client.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create stripe checkout session: %w", err)
	}
	return &entitlements.CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeCheckout) checkoutParams(req entitlements.CheckoutRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		SuccessURL:         stripe.String(s.cfg.SuccessURL),
		CancelURL:          stripe.String(s.cfg.CancelURL),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID:  stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.cfg.Currency),
					UnitAmount: stripe.Int64(req.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Model: " + req.ModelID),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.AddMetadata("user_id", req.UserID)
	params.AddMetadata("model_id", req.ModelID)
	return params
}
