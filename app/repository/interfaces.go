package repository

import (
	"context"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
)

// PurchaseRepository defines the storage contract of the purchase ledger
type PurchaseRepository interface {
	// CreateIfNotExists inserts the row unless (user_id, model_id) already
	// exists. created is false for a duplicate; the stored row is left as is.
	CreateIfNotExists(ctx context.Context, purchase *models.Purchase) (created bool, err error)
	Get(ctx context.Context, userID, modelID string) (*models.Purchase, error)
	Exists(ctx context.Context, userID, modelID string) (bool, error)
	ListModelIDs(ctx context.Context, userID string) ([]string, error)
	CountByUser(ctx context.Context, userID string) (int64, error)
}

// WebhookEventRepository persists provider webhook deliveries for deduplication
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}
