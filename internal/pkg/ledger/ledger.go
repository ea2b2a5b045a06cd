package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
	"github.com/ManuelReschke/LocalAIStudio/app/repository"
)

// ErrStorageUnavailable wraps every failure of the backing store.
var ErrStorageUnavailable = errors.New("purchase storage unavailable")

// Ledger records which models each anonymous user owns.
type Ledger struct {
	repo        repository.PurchaseRepository
	freeModelID string
}

// New creates a ledger over repo. freeModelID is owned by everyone.
func New(repo repository.PurchaseRepository, freeModelID string) *Ledger {
	return &Ledger{repo: repo, freeModelID: freeModelID}
}

// NewFromDB creates a ledger from a GORM DB handle.
func NewFromDB(db *gorm.DB, freeModelID string) *Ledger {
	return New(repository.NewPurchaseRepository(db), freeModelID)
}

// HasPurchased reports whether userID owns modelID.
func (l *Ledger) HasPurchased(ctx context.Context, userID, modelID string) (bool, error) {
	if modelID == l.freeModelID {
		return true, nil
	}
	ok, err := l.repo.Exists(ctx, strings.TrimSpace(userID), modelID)
	if err != nil {
		return false, storageErr("has_purchased", err)
	}
	return ok, nil
}

// RecordPurchase grants modelID to userID. A second call for the same pair
// is a no-op that keeps the first purchased_at and provider reference;
// created reports whether this call wrote the row.
func (l *Ledger) RecordPurchase(ctx context.Context, userID, modelID, providerReference string) (bool, error) {
	userID = strings.TrimSpace(userID)
	modelID = strings.TrimSpace(modelID)
	if userID == "" || modelID == "" {
		return false, errors.New("user_id and model_id are required")
	}

	created, err := l.repo.CreateIfNotExists(ctx, &models.Purchase{
		UserID:            userID,
		ModelID:           modelID,
		ProviderReference: strings.TrimSpace(providerReference),
	})
	if err != nil {
		return false, storageErr("record_purchase", err)
	}
	if created {
		log.Infof("[Ledger] Recorded purchase user=%s model=%s", userID, modelID)
	} else {
		log.Infof("[Ledger] Purchase already recorded user=%s model=%s", userID, modelID)
	}
	return created, nil
}

// ListOwned returns the free model followed by every purchased model.
func (l *Ledger) ListOwned(ctx context.Context, userID string) ([]string, error) {
	ids, err := l.repo.ListModelIDs(ctx, strings.TrimSpace(userID))
	if err != nil {
		return nil, storageErr("list_owned", err)
	}
	owned := make([]string, 0, len(ids)+1)
	owned = append(owned, l.freeModelID)
	for _, id := range ids {
		if id == l.freeModelID {
			continue
		}
		owned = append(owned, id)
	}
	return owned, nil
}

func storageErr(op string, err error) error {
	log.Errorf("[Ledger] %s failed: %v", op, err)
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
