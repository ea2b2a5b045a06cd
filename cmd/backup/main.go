package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/database"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/s3backup"
)

// Uploads a snapshot of the sqlite purchase ledger to S3. With
// S3_BACKUP_INTERVAL set it keeps running and backs up on that schedule.
//
//	backup                       one backup or the scheduled loop
//	backup restore <key> [path]  download a snapshot (default DB_PATH.restored)
func main() {
	env.SetupEnvFile()

	cfg, err := s3backup.LoadConfig()
	if err != nil {
		log.Fatalf("Invalid S3 backup configuration: %v", err)
	}
	if !cfg.IsEnabled() {
		log.Println("S3 backup disabled (S3_BACKUP_ENABLED=false), nothing to do")
		return
	}

	dbPath := env.GetEnv("DB_PATH", database.DefaultSQLitePath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := s3backup.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create S3 client: %v", err)
	}

	if len(os.Args) > 1 && os.Args[1] == "restore" {
		if len(os.Args) < 3 {
			log.Fatal("Usage: backup restore <object-key> [target-path]")
		}
		target := dbPath + ".restored"
		if len(os.Args) > 3 {
			target = os.Args[3]
		}
		if err := s3backup.RestoreLedger(ctx, client, os.Args[2], target); err != nil {
			log.Fatalf("Restore failed: %v", err)
		}
		log.Printf("Restored %s to %s; stop the server and move it over %s to use it", os.Args[2], target, dbPath)
		return
	}

	db, err := database.OpenSQLite(dbPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}

	interval := env.GetDuration("S3_BACKUP_INTERVAL", 0)
	if interval <= 0 {
		if _, err := s3backup.BackupLedger(ctx, client, db, time.Now()); err != nil {
			log.Fatalf("Backup failed: %v", err)
		}
		return
	}

	log.Printf("Backing up ledger every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s3backup.BackupLedger(ctx, client, db, time.Now()); err != nil {
			log.Printf("Backup failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
