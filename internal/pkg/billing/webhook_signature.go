package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedWebhook = errors.New("malformed webhook payload")
	ErrIgnoredEvent     = errors.New("webhook event ignored")
)

const (
	EventCheckoutSessionCompleted    = "checkout.session.completed"
	EventCheckoutAsyncPaymentSuccess = "checkout.session.async_payment_succeeded"
)

// ParseStripeEvent verifies the Stripe-Signature header and decodes the event.
func ParseStripeEvent(payload []byte, signatureHeader, webhookSecret string) (stripe.Event, error) {
	if strings.TrimSpace(webhookSecret) == "" || strings.TrimSpace(signatureHeader) == "" {
		return stripe.Event{}, ErrInvalidSignature
	}
	event, err := webhook.ConstructEvent(payload, signatureHeader, webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return event, nil
}

// CheckoutCompletedFromEvent extracts a paid checkout from event. Events that
// do not grant anything return ErrIgnoredEvent; a paid session without
// user_id and model_id metadata returns ErrMalformedWebhook.
func CheckoutCompletedFromEvent(event stripe.Event) (*CheckoutCompleted, error) {
	switch event.Type {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSuccess:
	default:
		return nil, ErrIgnoredEvent
	}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event has no data object", ErrMalformedWebhook)
	}

	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedWebhook, err)
	}
	if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrIgnoredEvent
	}

	out := &CheckoutCompleted{
		SessionID:     session.ID,
		PaymentStatus: string(session.PaymentStatus),
		UserID:        strings.TrimSpace(session.Metadata["user_id"]),
		ModelID:       strings.TrimSpace(session.Metadata["model_id"]),
	}
	if out.UserID == "" || out.ModelID == "" {
		return nil, fmt.Errorf("%w: session %s is missing user_id or model_id metadata", ErrMalformedWebhook, session.ID)
	}
	return out, nil
}
