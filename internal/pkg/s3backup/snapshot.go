package s3backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// Snapshot writes a consistent copy of the sqlite ledger into dir and
// returns its path. The live database stays writable while it runs.
func Snapshot(ctx context.Context, db *gorm.DB, dir string, now time.Time) (string, error) {
	if db.Dialector.Name() != "sqlite" {
		return "", fmt.Errorf("snapshot requires the sqlite driver, got %s", db.Dialector.Name())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}

	target := filepath.Join(dir, fmt.Sprintf("purchases-%s.db", now.UTC().Format("20060102T150405Z")))
	if err := db.WithContext(ctx).Exec("VACUUM INTO ?", target).Error; err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", target, err)
	}
	return target, nil
}

// BackupLedger snapshots db and uploads the copy. The local copy is removed
// afterwards.
func BackupLedger(ctx context.Context, client *Client, db *gorm.DB, now time.Time) (*UploadResult, error) {
	tmp, err := os.MkdirTemp("", "ledger-backup-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	snap, err := Snapshot(ctx, db, tmp, now)
	if err != nil {
		return nil, err
	}
	res, err := client.UploadFile(ctx, snap, client.config.GetObjectKey(now))
	if err != nil {
		return nil, err
	}
	log.Infof("[S3Backup] Ledger backup complete: %s (%d bytes)", res.ObjectKey, res.Size)
	return res, nil
}

// ErrBackupNotFound is returned by RestoreLedger when the object key does not
// exist in the bucket.
var ErrBackupNotFound = errors.New("backup object not found")

// RestoreLedger downloads the snapshot stored under objectKey to target. It
// refuses to overwrite an existing file so a running ledger is never replaced
// in place.
func RestoreLedger(ctx context.Context, client *Client, objectKey, target string) error {
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("restore target %s already exists", target)
	}

	exists, err := client.ObjectExists(ctx, objectKey)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrBackupNotFound, objectKey)
	}

	partial := target + ".partial"
	if err := client.DownloadFile(ctx, objectKey, partial); err != nil {
		_ = os.Remove(partial)
		return err
	}
	if err := os.Rename(partial, target); err != nil {
		_ = os.Remove(partial)
		return fmt.Errorf("move restored ledger into place: %w", err)
	}
	log.Infof("[S3Backup] Ledger restored: %s -> %s", objectKey, target)
	return nil
}
