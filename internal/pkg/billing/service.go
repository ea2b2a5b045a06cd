package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
	"github.com/ManuelReschke/LocalAIStudio/app/repository"
)

var ErrWebhookNotConfigured = errors.New("stripe webhook is not configured")

// PurchaseConfirmer grants a model after a verified payment.
type PurchaseConfirmer interface {
	ConfirmPurchaseFromWebhook(ctx context.Context, userID, modelID, providerReference string) (bool, error)
}

// Service persists webhook deliveries and turns paid checkouts into purchases.
type Service struct {
	repo          repository.WebhookEventRepository
	confirmer     PurchaseConfirmer
	webhookSecret string
}

// NewService creates a billing service from an injected repository.
func NewService(repo repository.WebhookEventRepository, confirmer PurchaseConfirmer, webhookSecret string) *Service {
	return &Service{repo: repo, confirmer: confirmer, webhookSecret: strings.TrimSpace(webhookSecret)}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, confirmer PurchaseConfirmer, webhookSecret string) *Service {
	return NewService(repository.NewWebhookEventRepository(db), confirmer, webhookSecret)
}

func (s *Service) WebhookEnabled() bool {
	return s.webhookSecret != ""
}

// RecordWebhookEvent persists webhook payloads idempotently.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.BillingWebhookEvent, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return false, nil, errors.New("provider is required")
	}
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.BillingWebhookEvent{
		Provider:        provider,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateIfNotExists(ctx, event)
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkProcessed(ctx, webhookEventID, errMsg)
}

// HandleStripeWebhook authenticates, records and applies one Stripe delivery.
// A malformed paid checkout is acknowledged without touching the ledger so the
// provider stops retrying. Ledger failures are returned so it retries.
func (s *Service) HandleStripeWebhook(ctx context.Context, payload []byte, signatureHeader string) (*WebhookResult, error) {
	if !s.WebhookEnabled() {
		return nil, ErrWebhookNotConfigured
	}

	event, err := ParseStripeEvent(payload, signatureHeader, s.webhookSecret)
	if err != nil {
		log.Warnf("[Billing] Stripe webhook rejected: %v", err)
		return nil, err
	}
	result := &WebhookResult{EventID: event.ID, EventType: event.Type}

	created, stored, err := s.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: event.ID,
		EventType:       event.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		log.Errorf("[Billing] Failed to record stripe webhook %s: %v", event.ID, err)
		return nil, err
	}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		result.Duplicate = true
		return result, nil
	}

	checkout, err := CheckoutCompletedFromEvent(event)
	switch {
	case errors.Is(err, ErrIgnoredEvent):
		result.Ignored = true
		return result, s.MarkWebhookProcessed(ctx, stored.ID, nil)
	case errors.Is(err, ErrMalformedWebhook):
		log.Warnf("[Billing] Dropping stripe webhook %s: %v", event.ID, err)
		result.Malformed = true
		return result, s.MarkWebhookProcessed(ctx, stored.ID, err)
	case err != nil:
		return nil, err
	}

	granted, err := s.confirmer.ConfirmPurchaseFromWebhook(ctx, checkout.UserID, checkout.ModelID, checkout.SessionID)
	if err != nil {
		log.Errorf("[Billing] Failed to confirm purchase for stripe webhook %s: %v", event.ID, err)
		if markErr := s.MarkWebhookProcessed(ctx, stored.ID, err); markErr != nil {
			log.Errorf("[Billing] Failed to mark stripe webhook %s: %v", event.ID, markErr)
		}
		return nil, err
	}
	result.Granted = granted
	log.Infof("[Billing] Stripe checkout %s confirmed user=%s model=%s new=%t", checkout.SessionID, checkout.UserID, checkout.ModelID, granted)
	return result, s.MarkWebhookProcessed(ctx, stored.ID, nil)
}
