package license

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

// Verdict is the outcome of a full verification run.
type Verdict struct {
	Valid    bool
	Source   string
	Failures []Result
}

// Config holds the verifier settings.
type Config struct {
	DevPrefix string
	ProductID string
	Timeout   time.Duration
}

// ConfigFromEnv reads LICENSE_DEV_PREFIX, GUMROAD_PRODUCT_ID and
// LICENSE_VERIFY_TIMEOUT. The dev prefix defaults to "DEV-" only when APP_ENV=dev.
func ConfigFromEnv() Config {
	devDefault := ""
	if env.IsDev() {
		devDefault = "DEV-"
	}
	return Config{
		DevPrefix: strings.TrimSpace(env.GetEnv("LICENSE_DEV_PREFIX", devDefault)),
		ProductID: strings.TrimSpace(env.GetEnv("GUMROAD_PRODUCT_ID", "")),
		Timeout:   env.GetDuration("LICENSE_VERIFY_TIMEOUT", 10*time.Second),
	}
}

// Verifier runs an ordered list of strategies until one verifies the key.
type Verifier struct {
	cache      Cache
	strategies []Strategy
	timeout    time.Duration
}

// NewVerifier builds a verifier over an explicit strategy order. Each step
// runs under its own timeout; zero means 10s.
func NewVerifier(cache Cache, timeout time.Duration, strategies ...Strategy) *Verifier {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{cache: cache, strategies: strategies, timeout: timeout}
}

// NewDefaultVerifier chains dev key, cache, key verification and order lookup.
func NewDefaultVerifier(cfg Config, cache Cache, provider Provider) *Verifier {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return NewVerifier(cache, cfg.Timeout,
		DevKeyStrategy{Prefix: cfg.DevPrefix},
		CacheStrategy{Cache: cache},
		KeyVerifyStrategy{Provider: provider, ProductID: cfg.ProductID},
		OrderLookupStrategy{Provider: provider, ProductID: cfg.ProductID},
	)
}

// Verify never returns an error. Provider failures end in an invalid verdict
// and are logged with their failure kinds.
func (v *Verifier) Verify(ctx context.Context, key string) Verdict {
	key = strings.TrimSpace(key)
	if key == "" {
		return Verdict{}
	}

	var failures []Result
	for _, s := range v.strategies {
		res := v.run(ctx, s, key)
		switch res.Outcome {
		case Verified:
			if res.Source != SourceCache {
				v.cache.Add(ctx, key)
				log.Infof("[License] Key %s verified via %s", maskKey(key), res.Source)
			}
			return Verdict{Valid: true, Source: res.Source, Failures: failures}
		case Rejected:
			failures = append(failures, res)
		}
	}

	log.Infof("[License] Key %s invalid: %v", maskKey(key), failures)
	return Verdict{Failures: failures}
}

func (v *Verifier) run(ctx context.Context, s Strategy, key string) Result {
	sctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return s.Check(sctx, key)
}

func maskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
