package s3backup

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

// Config holds S3 backup configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          strings.Trim(env.GetEnv("S3_BACKUP_PREFIX", "ledger"), "/"),
		Enabled:         env.GetBool("S3_BACKUP_ENABLED", false),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the required fields when backups are enabled.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.AccessKeyID == "" {
		return errors.New("S3_ACCESS_KEY_ID is required when S3 backup is enabled")
	}
	if c.SecretAccessKey == "" {
		return errors.New("S3_SECRET_ACCESS_KEY is required when S3 backup is enabled")
	}
	if c.BucketName == "" {
		return errors.New("S3_BUCKET_NAME is required when S3 backup is enabled")
	}
	return nil
}

// IsEnabled returns true if S3 backup is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetObjectKey returns the key of a ledger snapshot taken at t.
// Format: <prefix>/YYYY/MM/DD/purchases-YYYYMMDDTHHMMSSZ.db
func (c *Config) GetObjectKey(t time.Time) string {
	t = t.UTC()
	name := fmt.Sprintf("purchases-%s.db", t.Format("20060102T150405Z"))
	return path.Join(c.Prefix, fmt.Sprintf("%04d/%02d/%02d", t.Year(), int(t.Month()), t.Day()), name)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "prod")
}

// GetBucketName returns the bucket name as configured (no automatic prefixing)
func (c *Config) GetBucketName() string {
	return c.BucketName
}
