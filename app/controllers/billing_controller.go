package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/LocalAIStudio/internal/pkg/billing"
)

type BillingController struct {
	svc *billing.Service
}

func NewBillingController(svc *billing.Service) *BillingController {
	return &BillingController{svc: svc}
}

func (h *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := requestContext(c, requestTimeout)
	defer cancel()

	res, err := h.svc.HandleStripeWebhook(ctx, rawBody, signature)
	switch {
	case errors.Is(err, billing.ErrWebhookNotConfigured):
		return jsonError(c, fiber.StatusNotImplemented, "stripe_not_configured", "Stripe not configured")
	case errors.Is(err, billing.ErrInvalidSignature):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
	}

	switch {
	case res.Duplicate:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	case res.Ignored:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	case res.Malformed:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "dropped": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "granted": res.Granted})
}
