package repository

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "purchases.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Purchase{}, &models.BillingWebhookEvent{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestPurchaseRepositoryCreateIfNotExists(t *testing.T) {
	repo := NewPurchaseRepository(newTestDB(t))
	ctx := context.Background()

	created, err := repo.CreateIfNotExists(ctx, &models.Purchase{UserID: "u1", ModelID: "gemma2:2b", ProviderReference: "ref-1"})
	require.NoError(t, err)
	assert.True(t, created)

	first, err := repo.Get(ctx, "u1", "gemma2:2b")
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	created, err = repo.CreateIfNotExists(ctx, &models.Purchase{UserID: "u1", ModelID: "gemma2:2b", ProviderReference: "ref-2"})
	require.NoError(t, err)
	assert.False(t, created)

	stored, err := repo.Get(ctx, "u1", "gemma2:2b")
	require.NoError(t, err)
	assert.Equal(t, "ref-1", stored.ProviderReference)
	assert.True(t, first.PurchasedAt.Equal(stored.PurchasedAt))

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPurchaseRepositoryExistsAndList(t *testing.T) {
	repo := NewPurchaseRepository(newTestDB(t))
	ctx := context.Background()

	ok, err := repo.Exists(ctx, "u1", "phi3.5:mini")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, m := range []string{"phi3.5:mini", "qwen2.5:7b"} {
		_, err := repo.CreateIfNotExists(ctx, &models.Purchase{UserID: "u1", ModelID: m})
		require.NoError(t, err)
	}
	_, err = repo.CreateIfNotExists(ctx, &models.Purchase{UserID: "u2", ModelID: "gemma2:2b"})
	require.NoError(t, err)

	ok, err = repo.Exists(ctx, "u1", "phi3.5:mini")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := repo.ListModelIDs(ctx, "u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"phi3.5:mini", "qwen2.5:7b"}, ids)

	ids, err = repo.ListModelIDs(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPurchaseRepositoryConcurrentSamePair(t *testing.T) {
	repo := NewPurchaseRepository(newTestDB(t))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = repo.CreateIfNotExists(ctx, &models.Purchase{UserID: "u1", ModelID: "llama3.2:3b"})
		}()
	}
	wg.Wait()

	count, err := repo.CountByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWebhookEventRepositoryDeduplicates(t *testing.T) {
	repo := NewWebhookEventRepository(newTestDB(t))
	ctx := context.Background()

	ev := func() *models.BillingWebhookEvent {
		return &models.BillingWebhookEvent{
			Provider:        models.BillingProviderStripe,
			ProviderEventID: "evt_1",
			EventType:       "checkout.session.completed",
			PayloadJSON:     `{}`,
			SignatureValid:  true,
		}
	}

	created, stored, err := repo.CreateIfNotExists(ctx, ev())
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, stored)
	assert.NotZero(t, stored.ID)

	created, again, err := repo.CreateIfNotExists(ctx, ev())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	require.NoError(t, repo.MarkProcessed(ctx, stored.ID, "boom"))
	_, after, err := repo.CreateIfNotExists(ctx, ev())
	require.NoError(t, err)
	assert.Equal(t, "boom", after.ProcessingError)
	assert.NotNil(t, after.ProcessedAt)
}
