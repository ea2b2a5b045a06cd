package controllers

import (
	"context"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"
)

const requestTimeout = 15 * time.Second

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

func requestContext(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), d)
}

// pathParam returns the unescaped route parameter; model ids carry ':' and
// may arrive percent-encoded.
func pathParam(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
