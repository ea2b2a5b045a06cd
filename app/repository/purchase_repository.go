package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
)

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) CreateIfNotExists(ctx context.Context, purchase *models.Purchase) (bool, error) {
	// The composite primary key does the conflict detection; concurrent
	// inserts for the same pair collapse into one row without app locking.
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "model_id"},
		},
		DoNothing: true,
	}).Create(purchase)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *purchaseRepository) Get(ctx context.Context, userID, modelID string) (*models.Purchase, error) {
	var p models.Purchase
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND model_id = ?", userID, modelID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *purchaseRepository) Exists(ctx context.Context, userID, modelID string) (bool, error) {
	var p models.Purchase
	err := r.db.WithContext(ctx).
		Select("user_id").
		Where("user_id = ? AND model_id = ?", userID, modelID).
		Take(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *purchaseRepository) ListModelIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("user_id = ?", userID).
		Order("purchased_at ASC").
		Order("model_id ASC").
		Pluck("model_id", &ids).Error
	return ids, err
}

func (r *purchaseRepository) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Purchase{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}
