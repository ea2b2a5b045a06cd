package analytics

import (
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"github.com/posthog/posthog-go"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/env"
)

const defaultEndpoint = "https://app.posthog.com"

type enqueuer interface {
	Enqueue(posthog.Message) error
	Close() error
}

// Client captures product events. A zero Client drops everything.
type Client struct {
	ph enqueuer
}

// NewFromEnv returns a PostHog backed client, or a disabled one when
// POSTHOG_API_KEY is empty.
func NewFromEnv() *Client {
	key := strings.TrimSpace(env.GetEnv("POSTHOG_API_KEY", ""))
	if key == "" {
		log.Infof("[Analytics] POSTHOG_API_KEY not set, analytics disabled")
		return &Client{}
	}

	ph, err := posthog.NewWithConfig(key, posthog.Config{
		Endpoint: env.GetEnv("POSTHOG_ENDPOINT", defaultEndpoint),
	})
	if err != nil {
		log.Warnf("[Analytics] Failed to create posthog client: %v", err)
		return &Client{}
	}
	return &Client{ph: ph}
}

func (c *Client) Enabled() bool {
	return c != nil && c.ph != nil
}

// Track enqueues an event for distinctID. Failures are logged only.
func (c *Client) Track(distinctID, event string, properties map[string]any) {
	if !c.Enabled() || distinctID == "" {
		return
	}
	if err := c.ph.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: posthog.Properties(properties),
	}); err != nil {
		log.Warnf("[Analytics] Failed to enqueue %s: %v", event, err)
	}
}

// Close flushes pending events.
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.ph.Close()
}
