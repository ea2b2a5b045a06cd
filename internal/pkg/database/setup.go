package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/LocalAIStudio/app/models"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const DefaultSQLitePath = "/app/data/purchases.db"

var (
	DB        *gorm.DB
	migrateMu sync.Mutex
)

// SetupDatabase opens the configured ledger store and creates the schema.
// DB_DRIVER selects "sqlite" (default, on-disk file at DB_PATH) or "mysql".
func SetupDatabase() {
	var err error
	for i := 0; i < maxRetries; i++ {
		DB, err = Open(env.GetEnv("DB_DRIVER", "sqlite"))
		if err == nil {
			if err = Migrate(DB); err == nil {
				return
			}
		}

		log.Errorf("[Database] Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	if err != nil {
		panic(err)
	}
}

// Open connects to the store for driver without touching the schema.
func Open(driver string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		return OpenSQLite(env.GetEnv("DB_PATH", DefaultSQLitePath))
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			env.GetEnv("DB_USER", ""),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_PORT", "3306"),
			env.GetEnv("DB_NAME", ""),
		)
		return gorm.Open(mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         191,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), cfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}
}

// OpenSQLite opens (and creates) the sqlite file at path, making its directory
// first. The busy timeout lets concurrent writers wait on the file lock instead
// of failing with SQLITE_BUSY.
func OpenSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", dir, err)
		}
	}
	dsn := path + "?_busy_timeout=5000&_journal_mode=WAL"
	return gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
}

// Migrate creates missing tables. Safe to call any number of times.
func Migrate(db *gorm.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()
	return db.AutoMigrate(
		&models.Purchase{},
		&models.BillingWebhookEvent{},
	)
}

// GetDB returns the process-wide handle opened by SetupDatabase.
func GetDB() *gorm.DB {
	return DB
}
